package wal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
)

var (
	ErrClosed = errors.New("the log is closed")
)

// head is the in memory image of the segment currently accepting appends.
type head struct {
	index    uint32
	firstLSN LSN
	records  int
	data     []byte
	// etag is empty until the segment has been written to the store.
	etag string
}

// Log is the durability log. Append is serialized by the log mutex, which is
// the only point of serialization across all the objects that share the log.
type Log struct {
	mu sync.Mutex

	log   logger.Logger
	store SegmentStore
	codec recordCodec
	opts  Options

	next LSN
	head head
	// firstLSNs maps every stored segment index to the lsn of its first
	// record. It is used to decide which segments a checkpoint retires.
	firstLSNs map[uint32]LSN

	checkpoint     *Checkpoint
	checkpointETag string
	closed         bool
}

// Open reads the segments and the checkpoint from store and prepares the log
// for appending.
//
// Every segment but the last must be complete and intact. The last segment
// may end with a torn frame, left by a crash part way through a write. The
// torn bytes are discarded and will be overwritten by the next append. Such a
// frame was never acknowledged to the caller of Append.
func Open(ctx context.Context, store SegmentStore, opts ...Option) (*Log, error) {
	l := &Log{
		store:     store,
		firstLSNs: map[uint32]LSN{},
		opts:      Options{maxSegmentRecords: DefaultMaxSegmentRecords, now: time.Now},
	}
	for _, o := range opts {
		o(&l.opts)
	}
	var err error
	if l.opts.codec == nil {
		if l.opts.codec, err = NewPlainCheckpointCodec(); err != nil {
			return nil, err
		}
	}
	l.log = l.opts.log
	if l.log == nil {
		l.log = logger.Sugar.WithServiceName("wal")
	}
	if l.codec, err = newRecordCodec(); err != nil {
		return nil, err
	}

	if err = l.readCheckpoint(ctx); err != nil {
		return nil, err
	}
	if err = l.readSegments(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) readCheckpoint(ctx context.Context) error {
	data, etag, err := l.store.ReadCheckpoint(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	cp, err := l.opts.codec.DecodeCheckpoint(data)
	if err != nil {
		return err
	}
	l.checkpoint = &cp
	l.checkpointETag = etag
	return nil
}

func (l *Log) readSegments(ctx context.Context) error {
	indices, err := l.store.ListSegments(ctx)
	if err != nil {
		return err
	}

	if len(indices) == 0 {
		// Either a new log or every segment has been retired by a
		// checkpoint. The head segment is never deleted, so the latter only
		// happens if it was never written.
		l.next = 1
		if l.checkpoint != nil && l.checkpoint.Redo > l.next {
			l.next = l.checkpoint.Redo
		}
		var index uint32
		if l.checkpoint != nil {
			index = l.checkpoint.Segment
		}
		l.head = l.newHead(index, l.next)
		return nil
	}

	var expect LSN
	for i, index := range indices {
		last := i == len(indices)-1
		data, etag, err := l.store.ReadSegment(ctx, index)
		if err != nil {
			return err
		}
		seg, err := parseSegment(l.codec, index, data, last)
		if err != nil {
			return err
		}
		if i == 0 {
			// Truncation never retires the segment holding the redo point.
			redo := LSN(1)
			if l.checkpoint != nil {
				redo = l.checkpoint.Redo
			}
			if seg.FirstLSN > redo {
				return fmt.Errorf("first segment %d starts at %d, after the redo point %d: %w", index, seg.FirstLSN, redo, ErrSegmentGap)
			}
		} else if seg.FirstLSN != expect {
			return fmt.Errorf("segment %d starts at %d, expected %d: %w", index, seg.FirstLSN, expect, ErrSegmentGap)
		}
		l.firstLSNs[index] = seg.FirstLSN
		expect = seg.lastLSN() + 1

		if !last {
			continue
		}
		if seg.torn {
			l.log.Infof("segment %d: discarding %d torn bytes after lsn %d", index, len(data)-seg.valid, seg.lastLSN())
		}
		l.head = head{
			index:    index,
			firstLSN: seg.FirstLSN,
			records:  len(seg.records),
			data:     data[:seg.valid],
			etag:     etag,
		}
	}
	l.next = expect
	if l.checkpoint != nil && l.checkpoint.Redo > l.next {
		return fmt.Errorf("checkpoint redo %d is beyond the end of the log %d: %w", l.checkpoint.Redo, l.next, ErrSegmentGap)
	}
	return nil
}

func (l *Log) newHead(index uint32, firstLSN LSN) head {
	return head{
		index:    index,
		firstLSN: firstLSN,
		data:     EncodeSegmentHeader(SegmentHeader{Version: SegmentCurrentVersion, Index: index, FirstLSN: firstLSN}),
	}
}

// Append assigns the next lsn to rec and writes it to the store. The record
// is durable when Append returns without error. On error no lsn is consumed
// and the log is unchanged.
func (l *Log) Append(ctx context.Context, rec Record) (LSN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	h := l.head
	if h.records >= l.opts.maxSegmentRecords {
		h = l.newHead(h.index+1, l.next)
	}

	rec.LSN = l.next
	payload, err := l.codec.encode(rec)
	if err != nil {
		return 0, err
	}
	data := AppendFrame(slices.Clip(h.data), payload)

	etag, err := l.store.WriteSegment(ctx, h.index, data, h.etag)
	if err != nil {
		return 0, fmt.Errorf("append lsn %d to segment %d: %w", rec.LSN, h.index, err)
	}

	if h.index != l.head.index {
		l.log.Infof("rolled to segment %d at lsn %d", h.index, h.firstLSN)
	}
	h.data = data
	h.etag = etag
	h.records++
	l.head = h
	l.firstLSNs[h.index] = h.firstLSN
	l.next++
	return rec.LSN, nil
}

// InsertPosition returns the lsn the next appended record will be assigned.
// A checkpoint uses it as its redo point.
func (l *Log) InsertPosition() LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// LastCheckpoint returns the most recently written checkpoint.
func (l *Log) LastCheckpoint() (Checkpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checkpoint == nil {
		return Checkpoint{}, false
	}
	return *l.checkpoint, true
}

// RedoPoint returns the redo lsn of the last checkpoint, or 1 if there is no
// checkpoint.
func (l *Log) RedoPoint() LSN {
	if cp, ok := l.LastCheckpoint(); ok {
		return cp.Redo
	}
	return 1
}

// Replay calls fn for every record with an lsn at or after from, in lsn
// order. Records are read back from the store. Consumers must be idempotent,
// a crash during recovery replays the same records again.
func (l *Log) Replay(ctx context.Context, from LSN, fn func(Record) error) error {
	l.mu.Lock()
	headIndex := l.head.index
	l.mu.Unlock()

	indices, err := l.store.ListSegments(ctx)
	if err != nil {
		return err
	}
	for _, index := range indices {
		if err = ctx.Err(); err != nil {
			return err
		}
		data, _, err := l.store.ReadSegment(ctx, index)
		if err != nil {
			return err
		}
		seg, err := parseSegment(l.codec, index, data, index == headIndex)
		if err != nil {
			return err
		}
		if seg.lastLSN() < from {
			continue
		}
		for _, rec := range seg.records {
			if rec.LSN < from {
				continue
			}
			if err = fn(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Checkpoint durably records redo as the recovery starting point, then
// deletes the segments whose records are all before redo. The head segment
// is never deleted. The caller must have flushed every page change made by
// records before redo.
func (l *Log) Checkpoint(ctx context.Context, redo LSN) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if redo > l.next {
		return fmt.Errorf("redo %d is beyond the insert position %d", redo, l.next)
	}
	if l.checkpoint != nil && redo < l.checkpoint.Redo {
		return fmt.Errorf("redo %d precedes the last checkpoint %d", redo, l.checkpoint.Redo)
	}

	cp := Checkpoint{Redo: redo, Timestamp: l.opts.now().UnixMilli(), Segment: l.head.index}
	data, err := l.opts.codec.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	etag, err := l.store.WriteCheckpoint(ctx, data, l.checkpointETag)
	if err != nil {
		return fmt.Errorf("checkpoint at %d: %w", redo, err)
	}
	l.checkpoint = &cp
	l.checkpointETag = etag

	return l.truncate(ctx, redo)
}

// truncate deletes the segments wholly before redo. A segment is wholly
// before redo if its successor starts at or before redo.
func (l *Log) truncate(ctx context.Context, redo LSN) error {
	indices := make([]uint32, 0, len(l.firstLSNs))
	for index := range l.firstLSNs {
		indices = append(indices, index)
	}
	slices.Sort(indices)

	for i, index := range indices {
		if index == l.head.index || i+1 >= len(indices) {
			break
		}
		if l.firstLSNs[indices[i+1]] > redo {
			break
		}
		if err := l.store.DeleteSegment(ctx, index); err != nil {
			return fmt.Errorf("truncate segment %d: %w", index, err)
		}
		delete(l.firstLSNs, index)
	}
	return nil
}

// Segments returns the indices of the segments the log currently holds.
func (l *Log) Segments() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	indices := make([]uint32, 0, len(l.firstLSNs))
	for index := range l.firstLSNs {
		indices = append(indices, index)
	}
	slices.Sort(indices)
	return indices
}

// Close stops the log accepting appends. Every acknowledged append is
// already durable, so there is nothing to flush.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
