package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/internal/hash"
)

// ErrCorrupt is returned when a snapshot does not decode.
var ErrCorrupt = errors.New("corrupt checkpoint")

var magic = [4]byte{'I', 'F', 'C', '1'}

const (
	version    = uint16(1)
	headerSize = 40

	// maxSection bounds the lengths read from a header before the checksum
	// can be verified.
	maxSection = 1 << 30
)

// Snapshot is the binding set as of journal sequence Seq.
type Snapshot struct {
	// Seq is the last journal sequence number the snapshot covers.
	Seq uint64
	// Capacity is the allocator capacity when the snapshot was taken.
	Capacity int
	// Bindings are sorted by ascending id.
	Bindings []core.Binding
}

// Info describes an encoded snapshot.
type Info struct {
	Seq         uint64
	Capacity    int
	Count       int
	Compression Compression // codec actually used for the record block
	RawSize     int
	StoredSize  int
	IDs         *roaring.Bitmap
}

// header layout:
//
//	[magic:4][version:2][codec:1][reserved:1][capacity:4][count:4]
//	[seq:8][bitmapLen:4][rawLen:4][storedLen:4][reserved:4]
type header struct {
	codec     Compression
	capacity  uint32
	count     uint32
	seq       uint64
	bitmapLen uint32
	rawLen    uint32
	storedLen uint32
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], version)
	buf[6] = byte(h.codec)
	binary.LittleEndian.PutUint32(buf[8:12], h.capacity)
	binary.LittleEndian.PutUint32(buf[12:16], h.count)
	binary.LittleEndian.PutUint64(buf[16:24], h.seq)
	binary.LittleEndian.PutUint32(buf[24:28], h.bitmapLen)
	binary.LittleEndian.PutUint32(buf[28:32], h.rawLen)
	binary.LittleEndian.PutUint32(buf[32:36], h.storedLen)
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if [4]byte(buf[0:4]) != magic {
		return header{}, fmt.Errorf("%w: invalid magic", ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != version {
		return header{}, fmt.Errorf("unsupported checkpoint version: %d", v)
	}
	h := header{
		codec:     Compression(buf[6]),
		capacity:  binary.LittleEndian.Uint32(buf[8:12]),
		count:     binary.LittleEndian.Uint32(buf[12:16]),
		seq:       binary.LittleEndian.Uint64(buf[16:24]),
		bitmapLen: binary.LittleEndian.Uint32(buf[24:28]),
		rawLen:    binary.LittleEndian.Uint32(buf[28:32]),
		storedLen: binary.LittleEndian.Uint32(buf[32:36]),
	}
	if h.bitmapLen > maxSection || h.rawLen > maxSection || h.storedLen > maxSection {
		return header{}, fmt.Errorf("%w: section too large", ErrCorrupt)
	}
	if h.codec == CompressionNone && h.storedLen != h.rawLen {
		return header{}, fmt.Errorf("%w: raw block with stored length %d != %d", ErrCorrupt, h.storedLen, h.rawLen)
	}
	return h, nil
}

// Encode writes s to w. The bindings must be sorted by id with no duplicates.
func Encode(w io.Writer, s *Snapshot, c Compression) (int64, error) {
	if s.Capacity < 0 || uint64(s.Capacity) > math.MaxUint32 {
		return 0, fmt.Errorf("checkpoint capacity %d out of range", s.Capacity)
	}

	ids := roaring.New()
	var raw []byte
	for i, b := range s.Bindings {
		if i > 0 && b.ID <= s.Bindings[i-1].ID {
			return 0, fmt.Errorf("checkpoint bindings not strictly ascending at id %d", b.ID)
		}
		if int(b.ID) >= s.Capacity {
			return 0, fmt.Errorf("checkpoint binding id %d beyond capacity %d", b.ID, s.Capacity)
		}
		ids.Add(uint32(b.ID))
		raw = binary.AppendUvarint(raw, uint64(len(b.Key)))
		raw = append(raw, b.Key...)
	}
	if len(raw) > maxSection {
		return 0, fmt.Errorf("checkpoint record block of %d bytes is too large", len(raw))
	}

	bitmap, err := ids.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("failed to encode id set: %w", err)
	}

	stored, err := compressBlock(raw, c)
	if err != nil {
		return 0, fmt.Errorf("failed to compress checkpoint: %w", err)
	}
	codec := c
	if stored == nil {
		stored, codec = raw, CompressionNone
	}

	h := header{
		codec:     codec,
		capacity:  uint32(s.Capacity),
		count:     uint32(len(s.Bindings)),
		seq:       s.Seq,
		bitmapLen: uint32(len(bitmap)),
		rawLen:    uint32(len(raw)),
		storedLen: uint32(len(stored)),
	}

	crc := hash.NewCRC32C()
	mw := io.MultiWriter(w, crc)

	var written int64
	for _, part := range [][]byte{h.encode(), bitmap, stored} {
		n, err := mw.Write(part)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("failed to write checkpoint: %w", err)
		}
	}
	n, err := w.Write(binary.LittleEndian.AppendUint32(nil, crc.Sum32()))
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return written, nil
}

// Decode reads a snapshot written by Encode and verifies it.
func Decode(r io.Reader) (*Snapshot, *Info, error) {
	crc := hash.NewCRC32C()
	tr := io.TeeReader(r, crc)

	hbuf := make([]byte, headerSize)
	if _, err := io.ReadFull(tr, hbuf); err != nil {
		return nil, nil, truncated(err)
	}
	h, err := decodeHeader(hbuf)
	if err != nil {
		return nil, nil, err
	}

	bitmap := make([]byte, h.bitmapLen)
	if _, err := io.ReadFull(tr, bitmap); err != nil {
		return nil, nil, truncated(err)
	}
	stored := make([]byte, h.storedLen)
	if _, err := io.ReadFull(tr, stored); err != nil {
		return nil, nil, truncated(err)
	}

	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, nil, truncated(err)
	}
	if binary.LittleEndian.Uint32(sum[:]) != crc.Sum32() {
		return nil, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	ids := roaring.New()
	if err := ids.UnmarshalBinary(bitmap); err != nil {
		return nil, nil, fmt.Errorf("%w: id set: %v", ErrCorrupt, err)
	}
	if ids.GetCardinality() != uint64(h.count) {
		return nil, nil, fmt.Errorf("%w: id set holds %d ids, header says %d", ErrCorrupt, ids.GetCardinality(), h.count)
	}
	if !ids.IsEmpty() && uint64(ids.Maximum()) >= uint64(h.capacity) {
		return nil, nil, fmt.Errorf("%w: id %d beyond capacity %d", ErrCorrupt, ids.Maximum(), h.capacity)
	}

	raw := stored
	if h.codec != CompressionNone {
		raw, err = decompressBlock(stored, h.codec, int(h.rawLen))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: record block: %v", ErrCorrupt, err)
		}
	}

	s := &Snapshot{
		Seq:      h.seq,
		Capacity: int(h.capacity),
		Bindings: make([]core.Binding, 0, h.count),
	}
	seen := make(map[string]struct{}, h.count)

	it := ids.Iterator()
	for it.HasNext() {
		id := core.ID(it.Next())
		n, w := binary.Uvarint(raw)
		if w <= 0 || n > uint64(len(raw)-w) {
			return nil, nil, fmt.Errorf("%w: record for id %d is truncated", ErrCorrupt, id)
		}
		key := string(raw[w : w+int(n)])
		raw = raw[w+int(n):]

		if _, dup := seen[key]; dup {
			return nil, nil, fmt.Errorf("%w: key %q bound twice", ErrCorrupt, key)
		}
		seen[key] = struct{}{}
		s.Bindings = append(s.Bindings, core.Binding{ID: id, Key: key})
	}
	if len(raw) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes in record block", ErrCorrupt, len(raw))
	}

	info := &Info{
		Seq:         h.seq,
		Capacity:    int(h.capacity),
		Count:       int(h.count),
		Compression: h.codec,
		RawSize:     int(h.rawLen),
		StoredSize:  int(h.storedLen),
		IDs:         ids,
	}
	return s, info, nil
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	return err
}
