// Package wal is an append only durability log.
//
// Records are assigned strictly increasing log sequence numbers (LSN) and are
// framed, checksummed and written to numbered segments. A segment is rolled
// once it holds the configured maximum number of records. Segments are kept
// in a SegmentStore, which may be memory (tests), a local directory or Azure
// blob storage.
//
// A checkpoint records a redo point. Recovery replays every record at or
// after the redo point, and segments that lie wholly before it are deleted
// once the checkpoint is durable. Checkpoints may be plain CBOR or COSE Sign1
// sealed, in which case they are verified when read.
package wal
