package snowflakeid

import "time"

type Config struct {
	// Node is the identity stamped into the low bits of every id. Use
	// NodeUnset to leave it unconfigured and derive it from WorkerCIDR and
	// PodIP instead.
	Node NodeID

	// WorkerCIDR ensures two pods can't generate the same snowflake id by
	// selecting the host bits of the pods private ip address. Only consulted
	// when Node is NodeUnset.
	WorkerCIDR string

	// PodIP is the workload private ip address obtained via the Kubernetes
	// downward api.
	PodIP string

	// AllowSpins bounds the CAS cycles used by IDState. It should typically be
	// set to the constant MaxSpins. Zero means try once.
	AllowSpins uint8
}

const (
	// TimeBits is the number of bits reserved for the millisecond timestamp.
	// With the 2020 epoch this lasts until ~2159. The field is unsigned and
	// is never allowed to reach 1 << TimeBits, so the top bit of an id is
	// always zero and every id is a positive int64.
	TimeBits    = 42
	CounterBits = 12
	NodeBits    = 10

	NodeShift    = 0
	CounterShift = NodeBits
	TimeShift    = CounterBits + NodeBits

	MaxCounter = (1 << CounterBits) - 1
	MaxNode    = (1 << NodeBits) - 1
	MaxTime    = (1 << TimeBits) - 1

	NodeMask    uint64 = MaxNode << NodeShift
	CounterMask uint64 = MaxCounter << CounterShift
	TimeMask    uint64 = MaxTime << TimeShift

	// EpochUnixMilli is 2020-01-01T00:00:00Z in unix milliseconds.
	EpochUnixMilli int64 = 1577836800 * 1000
)

// Epoch is the reference zero time for the timestamp field.
var Epoch = time.UnixMilli(EpochUnixMilli).UTC()

// DefaultConfig returns a configuration with no node identity and the
// standard spin allowance.
func DefaultConfig() Config {
	return Config{Node: NodeUnset, AllowSpins: MaxSpins}
}
