package checkpoint

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the record block codec.
type Compression uint8

const (
	// CompressionNone stores the block raw.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast and the default.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades speed for a better ratio.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses the String form of a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

// compressBlock returns the encoded block, or nil if c is CompressionNone or
// the result would not be at least 10% smaller than data.
func compressBlock(data []byte, c Compression) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var out []byte
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil // incompressible
		}
		out = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unsupported checkpoint compression: %v", c)
	}

	if float64(len(out)) > float64(len(data))*0.9 {
		return nil, nil
	}
	return out, nil
}

func decompressBlock(src []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n != rawLen {
			return nil, errors.New("decompressed size mismatch")
		}
		return dst, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		dst, err := dec.DecodeAll(src, make([]byte, 0, rawLen))
		if err != nil {
			return nil, err
		}
		if len(dst) != rawLen {
			return nil, errors.New("decompressed size mismatch")
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint compression: %v", c)
	}
}
