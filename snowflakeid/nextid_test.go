package snowflakeid

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	type want struct {
		ms      uint64
		counter uint16
		ticked  bool
		wrapped bool
	}
	tests := []struct {
		name    string
		now     int64
		prev    uint64
		node    NodeID
		want    want
		wantErr error
	}{
		{"clock ticked resets counter", 1700000000123, Encode(1700000000000, 9, 3), 7, want{1700000000123, 0, true, false}, nil},
		{"same millisecond bumps counter", 1000, Encode(1000, 4, 7), 7, want{1000, 5, false, false}, nil},
		{"clock behind bumps counter", 900, Encode(1000, 4, 7), 7, want{1000, 5, false, false}, nil},
		{"counter exhausted borrows a millisecond", 1000, Encode(1000, MaxCounter, 7), 7, want{1001, 0, false, true}, nil},
		{"exhausted with clock behind", 10, Encode(1000, MaxCounter, 7), 7, want{1001, 0, false, true}, nil},
		{"zero prev", 5, 0, 0, want{5, 0, true, false}, nil},
		{"node unset", 5, 0, NodeUnset, want{}, ErrNodeUnset},
		{"node out of range", 5, 0, 1024, want{}, ErrNodeRange},
		{"now overflows", MaxTime + 1, 0, 1, want{}, ErrTimeOverflow},
		{"borrow overflows", 0, Encode(MaxTime, MaxCounter, 1), 1, want{}, ErrTimeOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ticked, wrapped, err := Generate(tt.now, tt.prev, tt.node)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			ms, counter, node := Split(next)
			assert.Equal(t, tt.want.ms, ms)
			assert.Equal(t, tt.want.counter, counter)
			assert.Equal(t, tt.node, node)
			assert.Equal(t, tt.want.ticked, ticked)
			assert.Equal(t, tt.want.wrapped, wrapped)
			assert.Greater(t, IDSequence(next), IDSequence(tt.prev))
		})
	}
}

// TestGenerateWraparound checks that 4097 calls within a single millisecond
// borrow exactly one millisecond and keep the series strictly increasing.
func TestGenerateWraparound(t *testing.T) {
	const now = 5000
	var prev uint64
	wraps := 0
	for i := 0; i < MaxCounter+2; i++ {
		next, _, wrapped, err := Generate(now, prev, 1)
		require.NoError(t, err)
		require.Greater(t, next, prev)
		if wrapped {
			wraps++
		}
		prev = next
	}
	assert.Equal(t, 1, wraps)
	ms, counter, _ := Split(prev)
	assert.Equal(t, uint64(now+1), ms)
	assert.Equal(t, uint16(0), counter)
}

func TestGenerateNodeOverwritten(t *testing.T) {
	prev := Encode(1000, 2, 900)
	next, _, _, err := Generate(1000, prev, 5)
	require.NoError(t, err)
	_, counter, node := Split(next)
	assert.Equal(t, NodeID(5), node)
	assert.Equal(t, uint16(3), counter)
}

func TestReserve(t *testing.T) {
	id := Encode(1000, 17, 3)
	r, err := Reserve(id)
	require.NoError(t, err)
	ms, counter, node := Split(r)
	assert.Equal(t, uint64(1001), ms)
	assert.Equal(t, uint16(17), counter)
	assert.Equal(t, NodeID(3), node)

	// Everything a source can issue before its clock passes 1001ms orders
	// before the reserved value.
	prev := id
	for i := 0; i < 100; i++ {
		prev, _, _, err = Generate(1000, prev, 3)
		require.NoError(t, err)
		assert.Less(t, prev, r)
	}

	_, err = Reserve(Encode(MaxTime, 0, 0))
	assert.ErrorIs(t, err, ErrTimeOverflow)
}

func TestNewIDState(t *testing.T) {
	_, err := NewIDState(DefaultConfig())
	assert.ErrorIs(t, err, ErrNodeUnset)

	cfg := DefaultConfig()
	cfg.Node = 11
	s, err := NewIDState(cfg)
	require.NoError(t, err)
	assert.Equal(t, NodeID(11), s.Node())

	var last uint64
	for i := 0; i < 10000; i++ {
		id, err := s.NextID()
		require.NoError(t, err)
		require.Greater(t, id, last)
		require.Equal(t, 11, DecodeNode(int64(id)))
		last = id
	}
}

// Benchmark_NextIDStressTest stresses the id generator as hard as the host CPU
// will allow.
func Benchmark_NextIDStressTest(b *testing.B) {
	var errCount atomic.Int32
	var violations atomic.Int32

	cfg := Config{
		Node:       NodeUnset,
		WorkerCIDR: "10.0.0.0/22",
		PodIP:      "10.0.0.1",
		AllowSpins: MaxSpins,
	}
	s, err := NewIDState(cfg)
	if err != nil {
		b.Fatalf("initializing benchmark: %v", err)
	}

	b.RunParallel(func(pb *testing.PB) {
		// Each go-routine must see a strictly increasing series. Checking
		// across go-routines would need a lock, which would stop us
		// saturating the generator.
		var last uint64
		for pb.Next() {
			id, err := s.NextID()
			if err != nil {
				if !errors.Is(err, ErrOverloaded) {
					b.Errorf("%v", err)
				}
				errCount.Add(1)
				continue
			}
			if id <= last {
				violations.Add(1)
			}
			last = id
		}
	})
	if violations.Load() != 0 {
		b.Fatalf("%d monotonic violations", violations.Load())
	}
	b.ReportMetric(float64(errCount.Load()), "overloads")
}
