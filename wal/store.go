package wal

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("the log object was not found")
	ErrExistsOC  = errors.New("optimistic concurrency failure, subject already exists")
	ErrContentOC = errors.New("optimistic concurrency failure, content to replace does not match expected content")
)

// SegmentStore persists log segments and the checkpoint.
//
// Writes are conditional. An empty etag requires that the object does not
// exist (ErrExistsOC otherwise), a non empty etag requires that it matches
// the stored object (ErrContentOC otherwise). A successful write is durable
// when it returns, and returns the new etag.
type SegmentStore interface {
	// ListSegments returns the indices of the stored segments, in ascending
	// order.
	ListSegments(ctx context.Context) ([]uint32, error)
	ReadSegment(ctx context.Context, index uint32) ([]byte, string, error)
	WriteSegment(ctx context.Context, index uint32, data []byte, etag string) (string, error)
	DeleteSegment(ctx context.Context, index uint32) error

	ReadCheckpoint(ctx context.Context) ([]byte, string, error)
	WriteCheckpoint(ctx context.Context, data []byte, etag string) (string, error)
}

const (
	SegmentExt           = "log"
	CheckpointObjectName = "checkpoint.cbor"
)

// SegmentName returns the object name for a segment. The zero padding keeps
// lexical order the same as numeric order.
func SegmentName(index uint32) string {
	return fmt.Sprintf("%016d.%s", index, SegmentExt)
}
