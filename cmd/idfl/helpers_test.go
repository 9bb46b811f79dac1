package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout while running fn.
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	_ = w.Close()
	os.Stdout = orig
	return string(<-done), fnErr
}

// resetFlags restores the global flags to their defaults.
func resetFlags(t *testing.T) {
	t.Helper()
	verbose, quiet, jsonOut = false, false, false
	compression, durability = "lz4", "sync"
	s3Bucket, s3Prefix, s3Region, ddbTable = "", "", "", ""
	minioEndpoint, minioBucket, minioPrefix = "", "idfreelist", ""
	inspectBindings = false
}

func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), "output: %s", out)
}
