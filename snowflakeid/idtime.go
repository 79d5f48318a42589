package snowflakeid

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeOverflow = errors.New("our epoch allows for up to 2^42 milliseconds")
	ErrCounterRange = errors.New("the counter must be in the range 0-4095")
)

// Encode packs the three fields into an id. The caller must ensure ms is below
// 2^42 and counter below 4096, see EncodeChecked for a validating form.
func Encode(ms uint64, counter uint16, node NodeID) uint64 {
	return (ms << TimeShift) | (uint64(counter) << CounterShift) | (uint64(node) & NodeMask)
}

// EncodeChecked is Encode with range checks on every field.
func EncodeChecked(ms uint64, counter uint16, node NodeID) (uint64, error) {
	if ms > MaxTime {
		return 0, fmt.Errorf("%d: %w", ms, ErrTimeOverflow)
	}
	if counter > MaxCounter {
		return 0, fmt.Errorf("%d: %w", counter, ErrCounterRange)
	}
	if err := node.Check(); err != nil {
		return 0, err
	}
	return Encode(ms, counter, node), nil
}

// Split returns the milliseconds since Epoch, the counter and the node.
func Split(id uint64) (uint64, uint16, NodeID) {
	return (id & TimeMask) >> TimeShift,
		uint16((id & CounterMask) >> CounterShift),
		NodeID(id & NodeMask)
}

// IDMilli returns the milliseconds since Epoch
func IDMilli(id uint64) uint64 {
	return (id & TimeMask) >> TimeShift
}

// IDSequence returns the bits that order ids within a millisecond. Together
// with IDMilli they define the ordering of ids from one source; the node bits
// are excluded.
func IDSequence(id uint64) uint64 {
	return id &^ NodeMask
}

func IDUnixMilli(id uint64) int64 {
	return EpochUnixMilli + int64(IDMilli(id))
}

func IDTime(id uint64) time.Time {
	return time.UnixMilli(IDUnixMilli(id)).UTC()
}

// DecodeTimestamp returns the fractional seconds since Epoch
func DecodeTimestamp(id int64) float64 {
	return float64(IDMilli(uint64(id))) / 1000
}

// DecodeUnixTimestamp returns the fractional seconds since the unix epoch.
func DecodeUnixTimestamp(id int64) float64 {
	return float64(IDUnixMilli(uint64(id))) / 1000
}

func DecodeCounter(id int64) int {
	_, counter, _ := Split(uint64(id))
	return int(counter)
}

func DecodeNode(id int64) int {
	_, _, node := Split(uint64(id))
	return int(node)
}

// EpochMilli converts a wall clock time into milliseconds since Epoch. Times
// before the epoch produce a negative result, which Generate treats the same
// as a clock that has not advanced.
func EpochMilli(t time.Time) int64 {
	return t.UnixMilli() - EpochUnixMilli
}
