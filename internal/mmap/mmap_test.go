package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestMapping_OpenReadClose(t *testing.T) {
	content := []byte("IFC1 checkpoint")
	m, err := Open(writeFile(t, content))
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())

	buf := make([]byte, 10)
	n, err := m.ReadAt(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "checkpoint", string(buf))

	n, err = m.ReadAt(make([]byte, 4), 100)
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)

	partial := make([]byte, 20)
	n, err = m.ReadAt(partial, 5)
	assert.Equal(t, 10, n)
	assert.Equal(t, io.EOF, err)

	_, err = m.ReadAt(buf, -1)
	assert.Equal(t, ErrInvalidOffset, err)
}

func TestMapping_Slice(t *testing.T) {
	m, err := Open(writeFile(t, []byte("0123456789")))
	require.NoError(t, err)
	defer m.Close()

	s, err := m.Slice(2, 3)
	require.NoError(t, err)
	assert.Equal(t, "234", string(s))
	assert.Equal(t, 3, cap(s))

	s, err = m.Slice(10, 0)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = m.Slice(8, 3)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = m.Slice(-1, 1)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	require.NoError(t, m.Advise(AccessSequential))
}

func TestMapping_EmptyFile(t *testing.T) {
	m, err := Open(writeFile(t, nil))
	require.NoError(t, err)
	defer m.Close()

	assert.Zero(t, m.Size())
	assert.NoError(t, m.Advise(AccessRandom))
	_, err = m.ReadAt(make([]byte, 1), 0)
	assert.Equal(t, io.EOF, err)
}

func TestMapping_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMapping_AfterClose(t *testing.T) {
	m, err := Open(writeFile(t, []byte("data")))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
	_, err = m.Slice(0, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
}
