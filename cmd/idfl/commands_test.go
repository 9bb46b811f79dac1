package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/idfreelist"
	"github.com/hupe1980/idfreelist/checkpoint"
	"github.com/hupe1980/idfreelist/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignLookupReverse(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dir := t.TempDir()

	out, err := captureOutput(t, func() error { return runAssign(ctx, []string{dir, "alice", "bob", "carol"}) })
	require.NoError(t, err)
	assert.Equal(t, "0\talice\n1\tbob\n2\tcarol\n", out)

	out, err = captureOutput(t, func() error { return runLookup(ctx, []string{dir, "bob"}) })
	require.NoError(t, err)
	assert.Equal(t, "1\tbob\n", out)

	out, err = captureOutput(t, func() error { return runReverse(ctx, []string{dir, "2"}) })
	require.NoError(t, err)
	assert.Equal(t, "2\tcarol\n", out)

	out, err = captureOutput(t, func() error { return runLookup(ctx, []string{dir, "alice", "nobody"}) })
	require.Error(t, err)
	assert.Contains(t, out, "-\tnobody")

	_, err = captureOutput(t, func() error { return runReverse(ctx, []string{dir, "not-a-number"}) })
	require.ErrorContains(t, err, "invalid id")
}

func TestReleaseThenAssignReusesID(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := captureOutput(t, func() error { return runAssign(ctx, []string{dir, "a", "b", "c"}) })
	require.NoError(t, err)

	jsonOut = true
	out, err := captureOutput(t, func() error { return runRelease(ctx, []string{dir, "b", "zzz"}) })
	require.NoError(t, err)
	var released []bindingResult
	decodeJSON(t, out, &released)
	assert.Equal(t, []bindingResult{{Key: "b", ID: 1, Bound: true}, {Key: "zzz"}}, released)

	out, err = captureOutput(t, func() error { return runAssign(ctx, []string{dir, "d"}) })
	require.NoError(t, err)
	var assigned []bindingResult
	decodeJSON(t, out, &assigned)
	assert.Equal(t, []bindingResult{{Key: "d", ID: 1, Bound: true}}, assigned)
}

func TestInspect(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := captureOutput(t, func() error { return runAssign(ctx, []string{dir, "x", "y"}) })
	require.NoError(t, err)

	out, err := captureOutput(t, func() error { return runInspect(ctx, []string{dir}) })
	require.NoError(t, err)
	assert.Contains(t, out, "Bound:      2")
	assert.Contains(t, out, "Checkpoint: (none)")

	jsonOut, inspectBindings = true, true
	out, err = captureOutput(t, func() error { return runInspect(ctx, []string{dir}) })
	require.NoError(t, err)

	var res inspectResult
	decodeJSON(t, out, &res)
	assert.Equal(t, 2, res.Stats.Bound)
	assert.Equal(t, 2, res.Stats.Capacity)
	require.NotNil(t, res.Stats.Journal)
	assert.Equal(t, uint64(2), res.Stats.Journal.Seq)
	assert.Equal(t, []idfreelist.Binding{{ID: 0, Key: "x"}, {ID: 1, Key: "y"}}, res.Bindings)
}

func TestCheckpointCommand(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()
	dir := t.TempDir()
	compression = "zstd"

	_, err := captureOutput(t, func() error { return runAssign(ctx, []string{dir, "a", "b"}) })
	require.NoError(t, err)

	out, err := captureOutput(t, func() error { return runCheckpoint(ctx, []string{dir}) })
	require.NoError(t, err)
	assert.Equal(t, "Wrote "+checkpoint.Name(2)+" (2 bindings)\n", out)

	_, err = os.Stat(filepath.Join(dir, checkpoint.Name(2)))
	require.NoError(t, err)

	out, err = captureOutput(t, func() error { return runLookup(ctx, []string{dir, "a", "b"}) })
	require.NoError(t, err)
	assert.Equal(t, "0\ta\n1\tb\n", out)
}

func TestScrubCommand(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()

	t.Run("consistent", func(t *testing.T) {
		dir := t.TempDir()
		_, err := captureOutput(t, func() error { return runAssign(ctx, []string{dir, "a"}) })
		require.NoError(t, err)

		out, err := captureOutput(t, func() error { return runScrub(ctx, []string{dir}) })
		require.NoError(t, err)
		assert.Contains(t, out, "is consistent")
	})

	t.Run("corrupt journal", func(t *testing.T) {
		dir := t.TempDir()
		j, err := journal.New(func(o *journal.Options) {
			o.Path = dir
			o.DurabilityMode = journal.DurabilitySync
		})
		require.NoError(t, err)
		_, err = j.LogBind(0, "a")
		require.NoError(t, err)
		_, err = j.LogRelease(0, "b")
		require.NoError(t, err)
		require.NoError(t, j.Close())

		jsonOut = true
		defer func() { jsonOut = false }()
		out, err := captureOutput(t, func() error { return runScrub(ctx, []string{dir}) })
		require.ErrorIs(t, err, idfreelist.ErrCorruptJournal)

		var res scrubResult
		decodeJSON(t, out, &res)
		assert.False(t, res.OK)
		assert.NotEmpty(t, res.Violation)
	})
}

func TestRemoteStoreFlags(t *testing.T) {
	resetFlags(t)
	ctx := context.Background()

	store, err := remoteStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, store)

	ddbTable = "commits"
	_, err = remoteStore(ctx)
	require.ErrorContains(t, err, "requires --s3-bucket")

	resetFlags(t)
	s3Bucket, minioEndpoint = "b", "localhost:9000"
	_, err = remoteStore(ctx)
	require.ErrorContains(t, err, "mutually exclusive")
}

func TestParseDurability(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want journal.DurabilityMode
	}{
		{"async", journal.DurabilityAsync},
		{"group-commit", journal.DurabilityGroupCommit},
		{"sync", journal.DurabilitySync},
	} {
		got, err := parseDurability(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := parseDurability("never")
	assert.Error(t, err)
}

func TestOpenRegistryRejectsBadFlags(t *testing.T) {
	resetFlags(t)
	compression = "brotli"
	_, err := openRegistry(context.Background(), t.TempDir())
	require.Error(t, err)

	resetFlags(t)
	durability = "sometimes"
	_, err = openRegistry(context.Background(), t.TempDir())
	require.Error(t, err)
}
