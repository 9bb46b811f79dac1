package hash

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	data := []byte("123456789")

	// Check value of the Castagnoli polynomial.
	assert.Equal(t, uint32(0xe3069283), CRC32C(data))
	assert.Equal(t, crc32.Checksum(data, crc32.MakeTable(crc32.Castagnoli)), CRC32C(data))

	h := NewCRC32C()
	_, _ = h.Write(data[:4])
	_, _ = h.Write(data[4:])
	assert.Equal(t, CRC32C(data), h.Sum32())

	assert.Equal(t, CRC32C(data), UpdateCRC32C(UpdateCRC32C(0, data[:3]), data[3:]))
}

func TestCRC32CBase64(t *testing.T) {
	assert.Equal(t, "4waSgw==", CRC32CBase64([]byte("123456789")))
	assert.Equal(t, "AAAAAA==", CRC32CBase64(nil))
}
