package snowflakeid

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// MaxSpins configures the maximum number of CAS cycles IDState is
	// permitted. If the generator exceeds this it errors with ErrOverloaded.
	MaxSpins = 100
)

var (
	ErrOverloaded        = errors.New("the id generator is over loaded for its configuration")
	ErrClockError        = errors.New("the reading from system time doesn't make any realistic sense")
	ErrSequenceViolation = errors.New("the generator produced two consecutive values that violate either the monotonic or the uniqueness promises")
)

// Generate computes the id that follows prev for node, given the current time
// as milliseconds since Epoch.
//
// clockTicked reports that the time has advanced past the millisecond of
// prev. counterWrapped reports that the counter was exhausted and the next
// millisecond was borrowed. Either condition means the returned value is not
// covered by any previously reserved range.
//
// The node bits of prev are ignored and overwritten.
func Generate(nowMS int64, prev uint64, node NodeID) (next uint64, clockTicked bool, counterWrapped bool, err error) {

	if err = node.Check(); err != nil {
		return 0, false, false, err
	}
	if nowMS > MaxTime {
		return 0, false, false, fmt.Errorf("now %d: %w", nowMS, ErrTimeOverflow)
	}

	lastTime, lastCounter, _ := Split(prev)

	switch {
	case nowMS > int64(lastTime):
		// Time has advanced past the millisecond of the previous id. Use it as
		// is and reset the counter.
		next = Encode(uint64(nowMS), 0, node)
		clockTicked = true

	// From here now is equal *or behind* the time of the previous id. Behind
	// is possible due to clock adjustments or a restart on a host whose clock
	// is slower. Behind is treated as equal: bump the counter, and if that
	// exhausts it, force the next millisecond.

	case lastCounter == MaxCounter:
		// ** CRUCIAL ** use lastTime, it is >= now in this case.
		if lastTime == MaxTime {
			return 0, false, false, fmt.Errorf("borrowing past %d: %w", lastTime, ErrTimeOverflow)
		}
		next = Encode(lastTime+1, 0, node)
		counterWrapped = true
	default:
		next = Encode(lastTime, lastCounter+1, node)
	}

	if IDSequence(next) <= IDSequence(prev) {
		return 0, false, false, fmt.Errorf("%016x:%016x %d:%d: %w", prev, next, lastTime, nowMS, ErrSequenceViolation)
	}
	return next, clockTicked, counterWrapped, nil
}

// Reserve returns id advanced by one millisecond. Any value a source can issue
// after id, without the clock moving past the reserved millisecond, orders
// before the reserved value.
func Reserve(id uint64) (uint64, error) {
	ms, counter, node := Split(id)
	if ms >= MaxTime {
		return 0, fmt.Errorf("reserving past %d: %w", ms, ErrTimeOverflow)
	}
	return Encode(ms+1, counter, node), nil
}

// IDState is a process local generator. Its values are unique and monotonic
// for the life of the process only; nothing is persisted.
type IDState struct {
	allowSpins int
	node       NodeID

	generatorStart           time.Time     // Will include the monotonic clock reading
	generatorStartWallOffset time.Duration // generatorStart - Epoch, does NOT include monotonic reading

	// last is the most recently issued id.
	//
	// ***********************************************************************
	// We strictly guarantee that `last` only increases for all consumers.
	// ***********************************************************************
	last atomic.Uint64
}

// The nanosecond unix time overflows an int64 on 2262
// https://pkg.go.dev/time#Time.UnixNano. This is used for an error clause
// that is essentially about catching serious clock configuration issues.
var UnixNanoEpochEndSentinel = time.Date(2261, 1, 1, 1, 1, 1, 1, time.UTC) // this is a year before the limit defined here

func NewIDState(cfg Config) (*IDState, error) {
	node, err := ResolveNode(cfg)
	if err != nil {
		return nil, err
	}
	if err = node.Check(); err != nil {
		return nil, err
	}

	s := &IDState{
		allowSpins: int(cfg.AllowSpins),
		node:       node,
	}

	s.generatorStart = time.Now() // DONT do UTC() here, as that strips the monotonic time sample
	if s.generatorStart.After(UnixNanoEpochEndSentinel) || s.generatorStart.Before(Epoch) {
		return nil, fmt.Errorf("the clock reading %v is outside the id epoch: %w", s.generatorStart, ErrClockError)
	}
	s.generatorStartWallOffset = s.generatorStart.Sub(Epoch)
	return s, nil
}

func (s *IDState) Node() NodeID {
	return s.node
}

// millisecondMonotonicNow returns a monotonic epoch time sample. It is based
// off a reference wall clock time read when the IDState was created.
func (s *IDState) millisecondMonotonicNow() int64 {
	epochNow := time.Since(s.generatorStart) + s.generatorStartWallOffset
	return int64(epochNow / time.Millisecond)
}

// NextID returns the next value in a time ordered, unique and monotonic series.
// If that property can't be assured the function will error. On
// ErrOverloaded the caller should sleep for a millisecond or so, with jitter,
// and try again.
func (s *IDState) NextID() (uint64, error) {

	// A read/modify/write on the last issued value. We read it, work out the
	// successor, and only get to keep our result if the value has not changed
	// under our feet.

	// note: allowSpins == 0 is supported and simply means try once
	for i := 0; i <= s.allowSpins; i++ {

		now := s.millisecondMonotonicNow()
		last := s.last.Load()

		next, _, _, err := Generate(now, last, s.node)
		if err != nil {
			return 0, err
		}
		if s.last.CompareAndSwap(last, next) {
			return next, nil
		}
	}

	// To reach here we must be at high contention, we have failed the CAS
	// swap the allowed number of times.
	return 0, ErrOverloaded
}
