// Package snowflakeid implements the bit layout and the step function for
// time ordered 64 bit snowflake ids.
//
// Layout, most significant bit first:
//
//	| 42 bits milliseconds since 2020-01-01 | 12 bits counter | 10 bits node |
//
// The following properties hold for the generated ids:
//
//   - For a fixed node and a fixed source of previous values, the
//     (timestamp, counter) pair strictly increases. The node field never
//     participates in ordering.
//   - The timestamp is never negative and never reaches 2^42, so ids are
//     positive when held in an int64.
//   - At most 4096 ids are issued per millisecond per source. When the
//     counter is exhausted, or the clock stalls or goes backwards, the next
//     millisecond is borrowed rather than repeating a value.
//
// Generate is the pure step function. It carries no state; durability of the
// previous value is the callers concern. IDState is a process local, lock
// free, generator built on the same step for callers that do not need ids to
// survive a restart.
package snowflakeid
