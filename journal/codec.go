package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/internal/hash"
)

// maxKeyLen bounds a decoded key so a corrupt length cannot force a huge
// allocation.
const maxKeyLen = 1 << 20

// record layout:
//
//	bind/release: [op:1][seq:8][id:4][keyLen:4][key:N][crc:4]
//	checkpoint:   [op:1][seq:8][crc:4]
//
// crc is CRC-32C over everything before it.
func appendEntry(dst []byte, e *Entry) ([]byte, error) {
	start := len(dst)
	dst = append(dst, byte(e.Op))
	dst = binary.LittleEndian.AppendUint64(dst, e.Seq)

	switch e.Op {
	case OpBind, OpRelease:
		if len(e.Key) > maxKeyLen {
			return dst[:start], fmt.Errorf("key of %d bytes exceeds journal limit", len(e.Key))
		}
		dst = binary.LittleEndian.AppendUint32(dst, uint32(e.ID))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Key))) //nolint:gosec // bounded above
		dst = append(dst, e.Key...)
	case OpCheckpoint:
	default:
		return dst[:start], fmt.Errorf("unsupported journal op: %v", e.Op)
	}

	return binary.LittleEndian.AppendUint32(dst, hash.CRC32C(dst[start:])), nil
}

// decodeEntry reads one record. A clean end of stream returns io.EOF; a
// record cut short returns io.ErrUnexpectedEOF; anything else that does not
// decode is ErrCorruptJournal.
func decodeEntry(r io.Reader, e *Entry, scratch []byte) ([]byte, error) {
	var fixed [9]byte
	if _, err := io.ReadFull(r, fixed[:1]); err != nil {
		return scratch, err
	}
	if _, err := io.ReadFull(r, fixed[1:]); err != nil {
		return scratch, eofIsUnexpected(err)
	}

	scratch = append(scratch[:0], fixed[:]...)
	e.Op = Op(fixed[0])
	e.Seq = binary.LittleEndian.Uint64(fixed[1:9])
	e.ID = 0
	e.Key = ""

	switch e.Op {
	case OpBind, OpRelease:
		var body [8]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return scratch, eofIsUnexpected(err)
		}
		scratch = append(scratch, body[:]...)
		e.ID = core.ID(binary.LittleEndian.Uint32(body[0:4]))

		keyLen := binary.LittleEndian.Uint32(body[4:8])
		if keyLen > maxKeyLen {
			return scratch, fmt.Errorf("%w: key length %d at seq %d", ErrCorruptJournal, keyLen, e.Seq)
		}
		n := len(scratch)
		scratch = append(scratch, make([]byte, keyLen)...)
		if _, err := io.ReadFull(r, scratch[n:]); err != nil {
			return scratch, eofIsUnexpected(err)
		}
		e.Key = string(scratch[n:])
	case OpCheckpoint:
	default:
		return scratch, fmt.Errorf("%w: unknown op %d", ErrCorruptJournal, fixed[0])
	}

	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return scratch, eofIsUnexpected(err)
	}
	if got, want := binary.LittleEndian.Uint32(sum[:]), hash.CRC32C(scratch); got != want {
		return scratch, fmt.Errorf("%w: checksum mismatch at seq %d", ErrCorruptJournal, e.Seq)
	}
	return scratch, nil
}

// encodedLen returns the on-disk size of e.
func encodedLen(e *Entry) int {
	if e.Op == OpCheckpoint {
		return 1 + 8 + 4
	}
	return 1 + 8 + 4 + 4 + len(e.Key) + 4
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
