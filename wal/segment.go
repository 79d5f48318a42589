package wal

// Segments are a fixed 32 byte header followed by a sequence of frames.
//
// .         | magic | version |<reserved>| segment i |<reserved>| first lsn |<reserved>|
// .         | 0   3 |  4   5  |   6  7   |  8 - 11   |  12 - 15 |  16 - 23  |  24 - 31 |
// bytes     |   4   |    2    |          |     4     |          |     8     |          |
//
// Each frame is
//
// .         | length | xxhash64(payload) | payload |
// bytes     |   4    |         8         |  length |
//
// The first lsn of a segment is the lsn of its first frame. The frames are
// numbered contiguously from there, so the lsn of a frame is implied by its
// position and is also carried in the payload as a check.
import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	SegmentHeaderSize = 32

	SegmentMagicFirstByte   = 0
	SegmentMagicSize        = 4
	SegmentMagicEnd         = SegmentMagicFirstByte + SegmentMagicSize
	SegmentVersionFirstByte = SegmentMagicEnd
	SegmentVersionSize      = 2
	SegmentVersionEnd       = SegmentVersionFirstByte + SegmentVersionSize
	// gap 6 - 7
	SegmentIndexFirstByte = 8
	SegmentIndexSize      = 4
	SegmentIndexEnd       = SegmentIndexFirstByte + SegmentIndexSize
	// gap 12 - 15
	SegmentFirstLSNFirstByte = 16
	SegmentFirstLSNSize      = 8
	SegmentFirstLSNEnd       = SegmentFirstLSNFirstByte + SegmentFirstLSNSize

	FrameLengthSize = 4
	FrameHashSize   = 8
	FrameHeaderSize = FrameLengthSize + FrameHashSize

	// MaxFrameSize bounds a single payload. Records are a page image plus a
	// few integers so anything larger is corrupt.
	MaxFrameSize = 1 << 16

	SegmentCurrentVersion = uint16(0)
)

var SegmentMagic = [SegmentMagicSize]byte{'F', 'L', 'K', 'W'}

var (
	ErrSegmentBadHeader = errors.New("the log segment header was too short or badly formed")
	ErrSegmentNoMagic   = errors.New("the data is not recognized as a log segment")
	ErrSegmentIndex     = errors.New("the log segment index in the header does not match its name")
	ErrSegmentCorrupt   = errors.New("the log segment contains a corrupt frame")
	ErrSegmentGap       = errors.New("the log segments are not contiguous")
)

type SegmentHeader struct {
	Version  uint16
	Index    uint32
	FirstLSN LSN
}

func EncodeSegmentHeader(h SegmentHeader) []byte {
	b := make([]byte, SegmentHeaderSize)
	copy(b[SegmentMagicFirstByte:SegmentMagicEnd], SegmentMagic[:])
	binary.BigEndian.PutUint16(b[SegmentVersionFirstByte:SegmentVersionEnd], h.Version)
	binary.BigEndian.PutUint32(b[SegmentIndexFirstByte:SegmentIndexEnd], h.Index)
	binary.BigEndian.PutUint64(b[SegmentFirstLSNFirstByte:SegmentFirstLSNEnd], uint64(h.FirstLSN))
	return b
}

func DecodeSegmentHeader(b []byte) (SegmentHeader, error) {
	if len(b) < SegmentHeaderSize {
		return SegmentHeader{}, fmt.Errorf("%d bytes: %w", len(b), ErrSegmentBadHeader)
	}
	if !bytes.Equal(b[SegmentMagicFirstByte:SegmentMagicEnd], SegmentMagic[:]) {
		return SegmentHeader{}, ErrSegmentNoMagic
	}
	h := SegmentHeader{
		Version:  binary.BigEndian.Uint16(b[SegmentVersionFirstByte:SegmentVersionEnd]),
		Index:    binary.BigEndian.Uint32(b[SegmentIndexFirstByte:SegmentIndexEnd]),
		FirstLSN: LSN(binary.BigEndian.Uint64(b[SegmentFirstLSNFirstByte:SegmentFirstLSNEnd])),
	}
	if h.Version != SegmentCurrentVersion {
		return SegmentHeader{}, fmt.Errorf("version %d: %w", h.Version, ErrSegmentBadHeader)
	}
	if h.FirstLSN == 0 {
		return SegmentHeader{}, fmt.Errorf("first lsn zero: %w", ErrSegmentBadHeader)
	}
	return h, nil
}

// AppendFrame appends the framed payload to b.
func AppendFrame(b []byte, payload []byte) []byte {
	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:FrameLengthSize], uint32(len(payload)))
	binary.BigEndian.PutUint64(hdr[FrameLengthSize:], xxhash.Sum64(payload))
	b = append(b, hdr[:]...)
	return append(b, payload...)
}

// nextFrame returns the payload of the frame at the start of b and the number
// of bytes it occupies. ok is false if the frame is short or fails its
// checksum.
func nextFrame(b []byte) (payload []byte, n int, ok bool) {
	if len(b) < FrameHeaderSize {
		return nil, 0, false
	}
	length := binary.BigEndian.Uint32(b[:FrameLengthSize])
	if length == 0 || length > MaxFrameSize {
		return nil, 0, false
	}
	end := FrameHeaderSize + int(length)
	if len(b) < end {
		return nil, 0, false
	}
	payload = b[FrameHeaderSize:end]
	if xxhash.Sum64(payload) != binary.BigEndian.Uint64(b[FrameLengthSize:FrameHeaderSize]) {
		return nil, 0, false
	}
	return payload, end, true
}

// parsedSegment is a segment with its frames decoded.
type parsedSegment struct {
	SegmentHeader
	records []Record
	// valid is the length of the prefix of the segment data that holds whole,
	// verified frames.
	valid int
	// torn is true when bytes follow the valid prefix.
	torn bool
}

// lastLSN returns the lsn of the last record, or FirstLSN-1 when empty.
func (s parsedSegment) lastLSN() LSN {
	return s.FirstLSN + LSN(len(s.records)) - 1
}

// parseSegment decodes a segment. When tolerateTorn is set, a bad frame ends
// the segment and the remaining bytes are reported as torn. Otherwise a bad
// frame is ErrSegmentCorrupt. A frame that verifies but whose record does not
// carry the expected lsn is always corrupt.
func parseSegment(codec recordCodec, index uint32, data []byte, tolerateTorn bool) (parsedSegment, error) {
	h, err := DecodeSegmentHeader(data)
	if err != nil {
		return parsedSegment{}, fmt.Errorf("segment %d: %w", index, err)
	}
	if h.Index != index {
		return parsedSegment{}, fmt.Errorf("segment %d has header index %d: %w", index, h.Index, ErrSegmentIndex)
	}

	s := parsedSegment{SegmentHeader: h, valid: SegmentHeaderSize}
	rest := data[SegmentHeaderSize:]
	for len(rest) > 0 {
		payload, n, ok := nextFrame(rest)
		if !ok {
			if !tolerateTorn {
				return parsedSegment{}, fmt.Errorf("segment %d offset %d: %w", index, s.valid, ErrSegmentCorrupt)
			}
			s.torn = true
			break
		}
		rec, err := codec.decode(payload)
		if err != nil {
			return parsedSegment{}, fmt.Errorf("segment %d offset %d: %v: %w", index, s.valid, err, ErrSegmentCorrupt)
		}
		want := h.FirstLSN + LSN(len(s.records))
		if rec.LSN != want {
			return parsedSegment{}, fmt.Errorf("segment %d: lsn %d, expected %d: %w", index, rec.LSN, want, ErrSegmentCorrupt)
		}
		s.records = append(s.records, rec)
		s.valid += n
		rest = rest[n:]
	}
	return s, nil
}
