package seqpage

// A sequence object owns exactly one fixed size page. The page holds a small
// header, the persisted counter record and a trailing special area whose magic
// value identifies the page as belonging to a snowflake sequence. Any page
// that fails the magic check is treated as corrupt.
import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (

	// Page layout
	//
	// .         | lsn  | version |<reserved>| last value | log count | called |<reserved>| magic |
	// .         | 0  7 |  8   9  |  10 - 15 |  16 - 23   |  24 - 31  |   32   |  33 - 59 | 60 63 |
	// bytes     |  8   |    2    |          |     8      |     8     |   1    |          |   4   |

	PageSize = 64

	LSNFirstByte = 0
	LSNSize      = 8
	LSNEnd       = LSNFirstByte + LSNSize

	VersionFirstByte = LSNEnd
	VersionSize      = 2
	VersionEnd       = VersionFirstByte + VersionSize
	// gap 10 - 15
	LastValueFirstByte = 16
	LastValueSize      = 8
	LastValueEnd       = LastValueFirstByte + LastValueSize

	LogCountFirstByte = LastValueEnd
	LogCountSize      = 8
	LogCountEnd       = LogCountFirstByte + LogCountSize

	IsCalledByte = LogCountEnd
	// gap 33 - 59
	MagicFirstByte = PageSize - MagicSize
	MagicSize      = 4
	MagicEnd       = MagicFirstByte + MagicSize

	// Magic identifies a snowflake sequence page.
	Magic = uint32(0x00001717)

	CurrentVersion = uint16(0)
)

var (
	ErrPageSize = errors.New("the sequence page is not the expected size")
	ErrBadMagic = errors.New("bad magic number in sequence page")
	ErrVersion  = errors.New("the sequence page layout version is not supported")
)

// Record is the persisted counter state of one sequence.
type Record struct {
	// LastValue is the most recently issued id, or, in a page image written
	// to the durability log, the reserved value recovery must not go below.
	LastValue int64
	// IsCalled is false only for a freshly created sequence.
	IsCalled bool
	// LogCount records the value the last commit installed. It is zero in
	// durability log images.
	LogCount int64
}

// Page is the decoded form of a sequence page.
type Page struct {
	LSN     uint64
	Version uint16
	Record
}

// New returns the page bytes for a newly created sequence.
func New(rec Record) []byte {
	return Encode(Page{Version: CurrentVersion, Record: rec})
}

// Encode returns a freshly allocated page for p.
func Encode(p Page) []byte {
	b := make([]byte, PageSize)
	EncodeInto(b, p)
	return b
}

// EncodeInto writes p over b, which must be PageSize bytes. The reserved areas
// are zeroed.
func EncodeInto(b []byte, p Page) {
	clear(b[:PageSize])
	binary.BigEndian.PutUint64(b[LSNFirstByte:LSNEnd], p.LSN)
	binary.BigEndian.PutUint16(b[VersionFirstByte:VersionEnd], p.Version)
	binary.BigEndian.PutUint64(b[LastValueFirstByte:LastValueEnd], uint64(p.LastValue))
	binary.BigEndian.PutUint64(b[LogCountFirstByte:LogCountEnd], uint64(p.LogCount))
	if p.IsCalled {
		b[IsCalledByte] = 1
	}
	binary.BigEndian.PutUint32(b[MagicFirstByte:MagicEnd], Magic)
}

// Verify checks the size, the magic and the version of a page.
func Verify(b []byte) error {
	if len(b) != PageSize {
		return fmt.Errorf("%d bytes: %w", len(b), ErrPageSize)
	}
	if m := binary.BigEndian.Uint32(b[MagicFirstByte:MagicEnd]); m != Magic {
		return fmt.Errorf("%08x: %w", m, ErrBadMagic)
	}
	if v := binary.BigEndian.Uint16(b[VersionFirstByte:VersionEnd]); v != CurrentVersion {
		return fmt.Errorf("%d: %w", v, ErrVersion)
	}
	return nil
}

func Decode(b []byte) (Page, error) {
	if err := Verify(b); err != nil {
		return Page{}, err
	}
	return Page{
		LSN:     binary.BigEndian.Uint64(b[LSNFirstByte:LSNEnd]),
		Version: binary.BigEndian.Uint16(b[VersionFirstByte:VersionEnd]),
		Record: Record{
			LastValue: int64(binary.BigEndian.Uint64(b[LastValueFirstByte:LastValueEnd])),
			LogCount:  int64(binary.BigEndian.Uint64(b[LogCountFirstByte:LogCountEnd])),
			IsCalled:  b[IsCalledByte] != 0,
		},
	}, nil
}

// PageLSN reads only the lsn of a page. The page is not verified.
func PageLSN(b []byte) uint64 {
	return binary.BigEndian.Uint64(b[LSNFirstByte:LSNEnd])
}
