package checkpoint

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(n int) *Snapshot {
	s := &Snapshot{Seq: 42, Capacity: 2*n + 1}
	for i := range n {
		s.Bindings = append(s.Bindings, core.Binding{ID: core.ID(2 * i), Key: fmt.Sprintf("user-%06d", i)})
	}
	return s
}

func encode(t *testing.T, s *Snapshot, c Compression) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := Encode(&buf, s, c)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func TestEncodeDecode(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			want := sampleSnapshot(1000)
			data := encode(t, want, c)

			got, info, err := Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, want, got)

			assert.Equal(t, uint64(42), info.Seq)
			assert.Equal(t, 1000, info.Count)
			assert.Equal(t, c, info.Compression, "sequential keys compress well")
			assert.Equal(t, uint64(1000), info.IDs.GetCardinality())
			if c != CompressionNone {
				assert.Less(t, info.StoredSize, info.RawSize)
			}
		})
	}
}

func TestEncode_IncompressibleStoredRaw(t *testing.T) {
	rng := testutil.NewRNG(7)
	s := &Snapshot{Capacity: 4}
	for i := range 4 {
		key := make([]byte, 64)
		for j := range key {
			key[j] = byte(rng.Intn(256))
		}
		s.Bindings = append(s.Bindings, core.Binding{ID: core.ID(i), Key: string(key)})
	}

	got, info, err := Decode(bytes.NewReader(encode(t, s, CompressionLZ4)))
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, info.Compression)
	assert.Equal(t, s.Bindings, got.Bindings)
}

func TestEncodeDecode_Empty(t *testing.T) {
	want := &Snapshot{Seq: 0, Capacity: 0, Bindings: []core.Binding{}}
	got, info, err := Decode(bytes.NewReader(encode(t, want, CompressionZSTD)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, info.Count)
}

func TestEncode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		s    *Snapshot
	}{
		{"unsorted", &Snapshot{Capacity: 4, Bindings: []core.Binding{{ID: 2, Key: "a"}, {ID: 1, Key: "b"}}}},
		{"duplicate id", &Snapshot{Capacity: 4, Bindings: []core.Binding{{ID: 1, Key: "a"}, {ID: 1, Key: "b"}}}},
		{"beyond capacity", &Snapshot{Capacity: 2, Bindings: []core.Binding{{ID: 2, Key: "a"}}}},
		{"negative capacity", &Snapshot{Capacity: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(&bytes.Buffer{}, tt.s, CompressionNone)
			assert.Error(t, err)
		})
	}
}

func TestDecode_Corruption(t *testing.T) {
	data := encode(t, sampleSnapshot(50), CompressionLZ4)

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 10, headerSize, len(data) - 1} {
			_, _, err := Decode(bytes.NewReader(data[:n]))
			assert.ErrorIs(t, err, ErrCorrupt, "length %d", n)
		}
	})

	t.Run("bit flip", func(t *testing.T) {
		for _, off := range []int{headerSize + 2, len(data) / 2, len(data) - 5} {
			bad := bytes.Clone(data)
			bad[off] ^= 0x40
			_, _, err := Decode(bytes.NewReader(bad))
			assert.ErrorIs(t, err, ErrCorrupt, "offset %d", off)
		}
	})

	t.Run("magic", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] = 'X'
		_, _, err := Decode(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestDecode_DuplicateKey(t *testing.T) {
	// Encode does not check keys, Decode must.
	s := &Snapshot{Capacity: 2, Bindings: []core.Binding{{ID: 0, Key: "a"}, {ID: 1, Key: "a"}}}
	_, _, err := Decode(bytes.NewReader(encode(t, s, CompressionNone)))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
	assert.Equal(t, "Compression(9)", Compression(9).String())
}
