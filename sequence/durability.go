package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/forestrie/go-snowflake/pagestore"
	"github.com/forestrie/go-snowflake/seqpage"
	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/forestrie/go-snowflake/wal"
)

// advance runs one nextval cycle against the object page and returns the
// issued value.
//
// The page lock is held for the whole cycle, and the clock is only read once
// it is held, so values issued from one page are strictly ordered.
//
// A durability record is written when the issued value is not covered by the
// previous reservation: the clock ticked, the counter wrapped, or the page
// was last logged before the most recent checkpoint redo point. The record
// does not carry the issued value, it reserves one millisecond beyond it.
// Until the clock passes that millisecond, later values from the same page
// are covered and need no record of their own. Recovery installs the
// reservation, so a restart never issues a value at or below one that was
// handed out before the crash.
func (e *Engine) advance(ctx context.Context, txn *txnState, obj pagestore.Object, node snowflakeid.NodeID) (int64, error) {
	buf, err := e.pool.Get(obj.ID)
	if err != nil {
		return 0, e.storageError(obj, err)
	}

	buf.Lock()
	defer buf.Unlock()

	if buf.Evicted() {
		return 0, fmt.Errorf("sequence %d: %w", obj.ID, ErrObjectNotFound)
	}
	if buf.Generation() != obj.Generation {
		return 0, fmt.Errorf("sequence %d buffer generation %d, catalog %d: %w", obj.ID, buf.Generation(), obj.Generation, ErrCorruptStorage)
	}
	page, err := seqpage.Decode(buf.Data())
	if err != nil {
		return 0, fmt.Errorf("sequence %q: %w: %w", obj.Name, ErrCorruptStorage, err)
	}

	nowMS := snowflakeid.EpochMilli(e.opts.now())
	next, ticked, wrapped, err := snowflakeid.Generate(nowMS, uint64(page.LastValue), node)
	if err != nil {
		if errors.Is(err, snowflakeid.ErrNodeUnset) || errors.Is(err, snowflakeid.ErrNodeRange) {
			return 0, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return 0, fmt.Errorf("sequence %q: %w", obj.Name, err)
	}

	reason := ""
	switch {
	case ticked:
		reason = reasonTick
	case wrapped:
		reason = reasonWrap
	case page.LSN < e.redo.Load():
		reason = reasonCheckpoint
	}
	// Dirty before the append. If the append fails the page is unchanged.
	buf.MarkDirty()

	lsn := page.LSN
	if reason != "" {
		reserved, err := snowflakeid.Reserve(next)
		if err != nil {
			return 0, fmt.Errorf("sequence %q: %w", obj.Name, err)
		}
		rec := wal.Record{
			Object:     obj.ID,
			Generation: obj.Generation,
			Page:       seqpage.New(seqpage.Record{LastValue: int64(reserved), IsCalled: true}),
		}
		// Once the page lock is taken the cycle runs to completion.
		appended, err := e.wal.Append(context.WithoutCancel(ctx), rec)
		if err != nil {
			txn.abort()
			return 0, fmt.Errorf("sequence %q: %w: %w", obj.Name, ErrDurability, err)
		}
		lsn = uint64(appended)
		e.metrics.logWrites.WithLabelValues(reason).Inc()
	} else {
		e.metrics.logSkipped.Inc()
	}

	seqpage.EncodeInto(buf.Data(), seqpage.Page{
		LSN:     lsn,
		Version: page.Version,
		Record: seqpage.Record{
			LastValue: int64(next),
			IsCalled:  true,
			LogCount:  int64(next),
		},
	})
	e.metrics.nextval.Inc()
	if wrapped {
		e.metrics.wraps.Inc()
	}
	return int64(next), nil
}

// storageError classifies a failure to read the page of obj.
func (e *Engine) storageError(obj pagestore.Object, err error) error {
	if errors.Is(err, pagestore.ErrNotFound) {
		return fmt.Errorf("sequence %d: %w", obj.ID, ErrObjectNotFound)
	}
	return fmt.Errorf("sequence %q: %w: %w", obj.Name, ErrCorruptStorage, err)
}

// install applies a durability record during recovery. Records for objects
// that no longer exist, or whose storage has since been replaced, are
// ignored, as are records older than the page. It reports whether the
// image was installed.
func (e *Engine) install(rec wal.Record) (bool, error) {
	obj, ok := e.object(rec.Object)
	if !ok || obj.Kind != pagestore.KindSequence || obj.Generation != rec.Generation {
		return false, nil
	}
	image, err := seqpage.Decode(rec.Page)
	if err != nil {
		return false, fmt.Errorf("lsn %d sequence %q: %w: %w", rec.LSN, obj.Name, ErrCorruptStorage, err)
	}

	buf, err := e.pool.Get(obj.ID)
	if err != nil {
		return false, e.storageError(obj, err)
	}
	buf.Lock()
	defer buf.Unlock()

	if buf.Generation() != rec.Generation {
		return false, nil
	}
	// The page lsn is read without verifying the page. A page that fails
	// verification is replaced by the image. A page written at rec.LSN may
	// hold the value logged there but not the reservation, so the image is
	// installed again.
	if len(buf.Data()) == seqpage.PageSize && seqpage.PageLSN(buf.Data()) > uint64(rec.LSN) {
		return false, nil
	}
	image.LSN = uint64(rec.LSN)
	if len(buf.Data()) != seqpage.PageSize {
		buf.SetData(seqpage.Encode(image))
	} else {
		seqpage.EncodeInto(buf.Data(), image)
	}
	buf.MarkDirty()
	return true, nil
}
