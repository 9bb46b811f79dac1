package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	journalMagic   = [4]byte{'I', 'F', 'J', '1'}
	headerVersion  = uint16(1)
	headerLen      = 24
	flagCompressed = uint16(1)
)

// header layout:
//
//	[magic:4][version:2][flags:2][level:1][reserved:7][baseSeq:8]
//
// baseSeq is the last sequence number covered by the previous checkpoint,
// so numbering stays monotonic across truncation.
type header struct {
	Compressed       bool
	CompressionLevel int
	BaseSeq          uint64
}

func (h header) encode() []byte {
	buf := make([]byte, headerLen)
	copy(buf[0:4], journalMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)
	if h.Compressed {
		binary.LittleEndian.PutUint16(buf[6:8], flagCompressed)
		buf[8] = uint8(h.CompressionLevel) //nolint:gosec // level is 1..22
	}
	binary.LittleEndian.PutUint64(buf[16:24], h.BaseSeq)
	return buf
}

func writeHeader(w io.Writer, h header) error {
	if _, err := w.Write(h.encode()); err != nil {
		return fmt.Errorf("failed to write journal header: %w", err)
	}
	return nil
}

func readHeader(r io.ReaderAt) (header, error) {
	buf := make([]byte, headerLen)
	if _, err := r.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return header{}, fmt.Errorf("%w: short header", ErrCorruptJournal)
		}
		return header{}, fmt.Errorf("failed to read journal header: %w", err)
	}
	if [4]byte(buf[0:4]) != journalMagic {
		return header{}, fmt.Errorf("%w: invalid header magic", ErrCorruptJournal)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != headerVersion {
		return header{}, fmt.Errorf("unsupported journal header version: %d", v)
	}

	flags := binary.LittleEndian.Uint16(buf[6:8])
	return header{
		Compressed:       flags&flagCompressed != 0,
		CompressionLevel: int(buf[8]),
		BaseSeq:          binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}
