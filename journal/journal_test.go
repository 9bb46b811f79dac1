package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, dir string, optFns ...func(o *Options)) *Journal {
	t.Helper()
	fns := append([]func(o *Options){func(o *Options) {
		o.Path = dir
		o.DurabilityMode = DurabilitySync
	}}, optFns...)
	j, err := New(fns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func collect(t *testing.T, j *Journal) []Entry {
	t.Helper()
	var out []Entry
	require.NoError(t, j.Replay(func(e Entry) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func compressedModes(t *testing.T, fn func(t *testing.T, compress bool)) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) { fn(t, compress) })
	}
}

func TestJournal_LogAndReplay(t *testing.T) {
	compressedModes(t, func(t *testing.T, compress bool) {
		j := open(t, t.TempDir(), func(o *Options) { o.Compress = compress })

		seq, err := j.LogBind(0, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), seq)
		_, err = j.LogBind(1, "b")
		require.NoError(t, err)
		seq, err = j.LogRelease(0, "a")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), seq)

		assert.Equal(t, []Entry{
			{Op: OpBind, Seq: 1, ID: 0, Key: "a"},
			{Op: OpBind, Seq: 2, ID: 1, Key: "b"},
			{Op: OpRelease, Seq: 3, ID: 0, Key: "a"},
		}, collect(t, j))

		n, err := j.Len()
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, 3, j.Records())
		assert.Positive(t, j.Size())
		assert.Equal(t, compress, j.Compressed())
	})
}

func TestJournal_Reopen(t *testing.T) {
	compressedModes(t, func(t *testing.T, compress bool) {
		dir := t.TempDir()

		j, err := New(func(o *Options) {
			o.Path = dir
			o.Compress = compress
			o.DurabilityMode = DurabilityAsync
		})
		require.NoError(t, err)
		for i := range 10 {
			_, err := j.LogBind(core.ID(i), fmt.Sprintf("key-%d", i))
			require.NoError(t, err)
		}
		require.NoError(t, j.Close())

		// Compression is a property of the file, not of the reopening options.
		j = open(t, dir)
		assert.Equal(t, compress, j.Compressed())
		assert.Equal(t, uint64(10), j.Seq())
		assert.Equal(t, 10, j.Records())

		seq, err := j.LogBind(10, "key-10")
		require.NoError(t, err)
		assert.Equal(t, uint64(11), seq)
		assert.Len(t, collect(t, j), 11)
	})
}

func TestJournal_Checkpoint(t *testing.T) {
	compressedModes(t, func(t *testing.T, compress bool) {
		dir := t.TempDir()
		j := open(t, dir, func(o *Options) { o.Compress = compress })

		for i := range 3 {
			_, err := j.LogBind(core.ID(i), fmt.Sprintf("k%d", i))
			require.NoError(t, err)
		}

		base, err := j.Checkpoint()
		require.NoError(t, err)
		assert.Equal(t, uint64(4), base)
		assert.Equal(t, uint64(4), j.BaseSeq())
		assert.Empty(t, collect(t, j))
		assert.Zero(t, j.Records())
		assert.Zero(t, j.Size())

		seq, err := j.LogRelease(1, "k1")
		require.NoError(t, err)
		assert.Equal(t, uint64(5), seq)
		require.NoError(t, j.Close())

		j = open(t, dir)
		assert.Equal(t, uint64(4), j.BaseSeq())
		assert.Equal(t, uint64(5), j.Seq())
		assert.Equal(t, []Entry{{Op: OpRelease, Seq: 5, ID: 1, Key: "k1"}}, collect(t, j))
	})
}

func TestJournal_CheckpointOnEmptyReopen(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir)
	_, err := j.Checkpoint()
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j = open(t, dir)
	assert.Equal(t, uint64(1), j.Seq())
	seq, err := j.LogBind(0, "a")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestJournal_ReplayAfter(t *testing.T) {
	j := open(t, t.TempDir())
	for i := range 5 {
		_, err := j.LogBind(core.ID(i), fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}

	var seqs []uint64
	require.NoError(t, j.ReplayAfter(3, func(e Entry) error {
		seqs = append(seqs, e.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{4, 5}, seqs)
}

func TestJournal_ReplayCallbackError(t *testing.T) {
	j := open(t, t.TempDir())
	_, err := j.LogBind(0, "a")
	require.NoError(t, err)

	boom := fmt.Errorf("boom")
	err = j.Replay(func(Entry) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestJournal_TornTail(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir)
	_, err := j.LogBind(0, "a")
	require.NoError(t, err)
	_, err = j.LogBind(1, "b")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.Write([]byte{byte(OpBind), 3, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j = open(t, dir)
	assert.Equal(t, uint64(2), j.Seq())
	_, err = j.LogBind(2, "c")
	require.NoError(t, err)

	entries := collect(t, j)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[2].Key)
}

func TestJournal_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir)
	_, err := j.LogBind(0, "abcdef")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[headerLen+1+8+4+4+2] ^= 0xff // inside the key
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = New(func(o *Options) { o.Path = dir })
	assert.ErrorIs(t, err, ErrCorruptJournal)
}

func TestJournal_BadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(strings.Repeat("x", headerLen)), 0o600))

	_, err := New(func(o *Options) { o.Path = dir })
	assert.ErrorIs(t, err, ErrCorruptJournal)
}

func TestJournal_GroupCommit(t *testing.T) {
	j := open(t, t.TempDir(), func(o *Options) {
		o.DurabilityMode = DurabilityGroupCommit
		o.GroupCommitInterval = 2 * time.Millisecond
		o.GroupCommitMaxOps = 8
	})

	const writers, perWriter = 4, 25
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = map[uint64]bool{}
	)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				seq, err := j.LogBind(core.ID(w*perWriter+i), fmt.Sprintf("w%d-%d", w, i))
				assert.NoError(t, err)
				mu.Lock()
				seqs[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seqs, writers*perWriter)
	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}

func TestJournal_GroupCommitWithoutInterval(t *testing.T) {
	j := open(t, t.TempDir(), func(o *Options) {
		o.DurabilityMode = DurabilityGroupCommit
		o.GroupCommitInterval = 0
	})

	_, err := j.LogBind(0, "a")
	require.NoError(t, err)
}

func TestJournal_SyncFault(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(FileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	j := open(t, t.TempDir(), func(o *Options) { o.FS = ffs })

	_, err := j.LogBind(0, "a")
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestJournal_WriteFaultIsSticky(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(FileName, fs.Fault{FailAfterBytes: int64(headerLen) + 30})

	j := open(t, t.TempDir(), func(o *Options) { o.FS = ffs })

	_, err := j.LogBind(0, "a")
	require.NoError(t, err)

	_, err = j.LogBind(1, "b")
	require.ErrorIs(t, err, fs.ErrInjected)

	ffs.ClearRules()
	_, err = j.LogBind(2, "c")
	assert.ErrorIs(t, err, fs.ErrInjected, "journal refuses writes after a failed one")
	_, err = j.Checkpoint()
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestJournal_CheckpointDue(t *testing.T) {
	j := open(t, t.TempDir(), func(o *Options) {
		o.AutoCheckpointOps = 2
		o.AutoCheckpointBytes = 0
	})

	_, err := j.LogBind(0, "a")
	require.NoError(t, err)
	assert.False(t, j.CheckpointDue())

	_, err = j.LogBind(1, "b")
	require.NoError(t, err)
	assert.True(t, j.CheckpointDue())

	_, err = j.Checkpoint()
	require.NoError(t, err)
	assert.False(t, j.CheckpointDue())
}

func TestJournal_CheckpointDueBySize(t *testing.T) {
	j := open(t, t.TempDir(), func(o *Options) {
		o.AutoCheckpointOps = 0
		o.AutoCheckpointBytes = 64
	})

	_, err := j.LogBind(0, strings.Repeat("k", 64))
	require.NoError(t, err)
	assert.True(t, j.CheckpointDue())
}

func TestJournal_KeyTooLarge(t *testing.T) {
	j := open(t, t.TempDir())

	_, err := j.LogBind(0, strings.Repeat("k", maxKeyLen+1))
	require.Error(t, err)

	seq, err := j.LogBind(0, "fine")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestJournal_Closed(t *testing.T) {
	j, err := New(func(o *Options) { o.Path = t.TempDir() })
	require.NoError(t, err)

	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = j.LogBind(0, "a")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = j.Checkpoint()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, j.Replay(func(Entry) error { return nil }), ErrClosed)
}

func TestDurabilityModeString(t *testing.T) {
	assert.Equal(t, "async", DurabilityAsync.String())
	assert.Equal(t, "group-commit", DurabilityGroupCommit.String())
	assert.Equal(t, "sync", DurabilitySync.String())
	assert.Equal(t, "bind", OpBind.String())
	assert.Equal(t, "Op(9)", Op(9).String())
}

func TestJournal_Rebase(t *testing.T) {
	dir := t.TempDir()
	j := open(t, dir)
	_, err := j.LogBind(0, "a")
	require.NoError(t, err)

	require.Error(t, j.Rebase(0))
	require.NoError(t, j.Rebase(10))
	assert.Equal(t, uint64(10), j.BaseSeq())
	assert.Empty(t, collect(t, j))

	seq, err := j.LogBind(1, "b")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), seq)
	require.NoError(t, j.Close())

	j = open(t, dir)
	assert.Equal(t, uint64(11), j.Seq())
}

func TestJournal_AppendThenWaitDurable(t *testing.T) {
	for _, mode := range []DurabilityMode{DurabilityAsync, DurabilityGroupCommit, DurabilitySync} {
		t.Run(mode.String(), func(t *testing.T) {
			j := open(t, t.TempDir(), func(o *Options) {
				o.DurabilityMode = mode
				o.GroupCommitInterval = time.Millisecond
			})

			s1, err := j.AppendBind(0, "a")
			require.NoError(t, err)
			s2, err := j.AppendRelease(0, "a")
			require.NoError(t, err)
			assert.Equal(t, s1+1, s2)

			require.NoError(t, j.WaitDurable(s2))
			require.NoError(t, j.WaitDurable(s1), "waiting for an older record returns at once")

			got := collect(t, j)
			require.Len(t, got, 2)
			assert.Equal(t, OpRelease, got[1].Op)
		})
	}
}

func TestJournal_WaitDurableAfterClose(t *testing.T) {
	j := open(t, t.TempDir(), func(o *Options) {
		o.DurabilityMode = DurabilityGroupCommit
		o.GroupCommitInterval = time.Hour
		o.GroupCommitMaxOps = 1000
	})

	seq, err := j.AppendBind(0, "a")
	require.NoError(t, err)
	require.NoError(t, j.Close())
	assert.NoError(t, j.WaitDurable(seq), "Close syncs pending records")
}

func TestJournal_SyncFaultIsSticky(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	j := open(t, t.TempDir(), func(o *Options) { o.FS = ffs })
	_, err := j.LogBind(0, "a")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	ffs.AddRule(FileName, fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	j = open(t, filepath.Dir(j.Path()), func(o *Options) { o.FS = ffs })
	_, err = j.LogBind(1, "b")
	require.ErrorIs(t, err, fs.ErrInjected)

	ffs.ClearRules()
	_, err = j.AppendBind(2, "c")
	assert.ErrorIs(t, err, fs.ErrInjected, "a failed fsync poisons the journal")
}
