package wal

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

type memObject struct {
	data []byte
	etag string
}

// MemStore is a SegmentStore held in memory. Its contents outlive any Log
// opened on it, which makes it suitable for simulating a crash and restart.
type MemStore struct {
	mu         sync.Mutex
	writes     uint64
	segments   map[uint32]*memObject
	checkpoint *memObject

	// FailWrites, when set, is returned from every write.
	FailWrites error
}

func NewMemStore() *MemStore {
	return &MemStore{segments: map[uint32]*memObject{}}
}

func (s *MemStore) nextETag() string {
	s.writes++
	return strconv.FormatUint(s.writes, 16)
}

func (s *MemStore) ListSegments(ctx context.Context) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	indices := make([]uint32, 0, len(s.segments))
	for i := range s.segments {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	return indices, nil
}

func (s *MemStore) ReadSegment(ctx context.Context, index uint32) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.segments[index]
	if !ok {
		return nil, "", fmt.Errorf("segment %d: %w", index, ErrNotFound)
	}
	return slices.Clone(obj.data), obj.etag, nil
}

func (s *MemStore) WriteSegment(ctx context.Context, index uint32, data []byte, etag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, err := s.put(s.segments[index], data, etag)
	if err != nil {
		return "", fmt.Errorf("segment %d: %w", index, err)
	}
	s.segments[index] = obj
	return obj.etag, nil
}

func (s *MemStore) DeleteSegment(ctx context.Context, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	delete(s.segments, index)
	return nil
}

func (s *MemStore) ReadCheckpoint(ctx context.Context) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint == nil {
		return nil, "", fmt.Errorf("checkpoint: %w", ErrNotFound)
	}
	return slices.Clone(s.checkpoint.data), s.checkpoint.etag, nil
}

func (s *MemStore) WriteCheckpoint(ctx context.Context, data []byte, etag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, err := s.put(s.checkpoint, data, etag)
	if err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	s.checkpoint = obj
	return obj.etag, nil
}

func (s *MemStore) put(existing *memObject, data []byte, etag string) (*memObject, error) {
	if s.FailWrites != nil {
		return nil, s.FailWrites
	}
	if etag == "" && existing != nil {
		return nil, ErrExistsOC
	}
	if etag != "" && (existing == nil || existing.etag != etag) {
		return nil, ErrContentOC
	}
	return &memObject{data: slices.Clone(data), etag: s.nextETag()}, nil
}

// Tamper replaces the stored bytes of a segment without changing its etag.
// It exists to let tests model torn writes and bit rot.
func (s *MemStore) Tamper(index uint32, fn func([]byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.segments[index]; ok {
		obj.data = fn(obj.data)
	}
}

// TamperCheckpoint is Tamper for the checkpoint object.
func (s *MemStore) TamperCheckpoint(fn func([]byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoint != nil {
		s.checkpoint.data = fn(s.checkpoint.data)
	}
}
