// Package sequence provides snowflake sequences: named objects that issue
// time ordered 64 bit ids, strictly increasing per object, that survive a
// crash without repeating.
//
// The engine keeps one page per sequence in a page file, shared through a
// buffer cache. nextval updates the page in memory under the buffer lock and
// relies on the durability log, rather than the page file, for crash safety.
// Dirty pages reach the page file at checkpoints.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-snowflake/bufcache"
	"github.com/forestrie/go-snowflake/pagestore"
	"github.com/forestrie/go-snowflake/seqpage"
	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/forestrie/go-snowflake/wal"
	"github.com/hashicorp/go-multierror"
)

type Engine struct {
	log      logger.Logger
	cfg      Config
	opts     Options
	pages    *pagestore.Store
	wal      *wal.Log
	pool     *bufcache.Pool
	locks    *lockManager
	settings *Settings
	metrics  *metrics

	catalogMu sync.RWMutex
	catalog   map[uint64]pagestore.Object

	// redo is the redo point of the checkpoint in progress, or of the last
	// one. A page last logged before it must be logged again.
	redo   atomic.Uint64
	txnIDs atomic.Uint64

	checkpointMu sync.Mutex
	stop         chan struct{}
	done         chan struct{}
	closed       atomic.Bool
}

// Open opens or creates the engine in cfg.DataDir and recovers it. Every
// durability record after the last checkpoint is replayed before Open
// returns.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		opts:    Options{now: time.Now, guard: AllowAll{}, maxSegmentRecords: cfg.MaxSegmentRecords},
		locks:   newLockManager(),
		catalog: map[uint64]pagestore.Object{},
	}
	for _, o := range opts {
		o(&e.opts)
	}
	e.log = e.opts.log
	if e.log == nil {
		e.log = logger.Sugar.WithServiceName("sequence")
	}
	e.metrics = newMetrics(e.opts.registerer)

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required: %w", ErrBadConfig)
	}
	node, err := snowflakeid.ResolveNode(cfg.Snowflake)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	e.settings = NewSettings(e.opts.guard, node)

	if err = os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, err
	}
	if e.pages, err = pagestore.Open(cfg.PageFilePath(), e.log); err != nil {
		return nil, err
	}
	segments := e.opts.segments
	if segments == nil {
		if segments, err = wal.NewDirStore(cfg.WALDir()); err != nil {
			e.pages.Close()
			return nil, err
		}
	}
	walOpts := []wal.Option{
		wal.WithLogger(e.log),
		wal.WithClock(e.opts.now),
		wal.WithMaxSegmentRecords(e.opts.maxSegmentRecords),
	}
	if e.opts.checkpointCodec != nil {
		walOpts = append(walOpts, wal.WithCheckpointCodec(e.opts.checkpointCodec))
	}
	if e.wal, err = wal.Open(ctx, segments, walOpts...); err != nil {
		e.pages.Close()
		return nil, err
	}
	e.pool = bufcache.NewPool(e.pages)

	if err = e.loadCatalog(); err != nil {
		e.closeStores()
		return nil, err
	}
	if err = e.recover(ctx); err != nil {
		e.closeStores()
		return nil, err
	}

	if cfg.CheckpointInterval > 0 {
		e.stop = make(chan struct{})
		e.done = make(chan struct{})
		go e.checkpointer(cfg.CheckpointInterval)
	}
	e.log.Infof("opened %s, node %d, %d objects", cfg.DataDir, node, len(e.catalog))
	return e, nil
}

func (e *Engine) loadCatalog() error {
	objs, err := e.pages.Objects()
	if err != nil {
		return err
	}
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	for _, obj := range objs {
		e.catalog[obj.ID] = obj
	}
	return nil
}

func (e *Engine) object(id uint64) (pagestore.Object, bool) {
	e.catalogMu.RLock()
	defer e.catalogMu.RUnlock()
	obj, ok := e.catalog[id]
	return obj, ok
}

func (e *Engine) setObject(obj pagestore.Object) {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	e.catalog[obj.ID] = obj
}

func (e *Engine) forgetObject(id uint64) {
	e.catalogMu.Lock()
	defer e.catalogMu.Unlock()
	delete(e.catalog, id)
}

// recover replays the durability log from the redo point of the last
// checkpoint. If anything was replayed, a checkpoint is taken so the next
// recovery starts after it.
func (e *Engine) recover(ctx context.Context) error {
	redo := e.wal.RedoPoint()
	e.redo.Store(uint64(redo))

	var replayed, installed int
	err := e.wal.Replay(ctx, redo, func(rec wal.Record) error {
		replayed++
		ok, err := e.install(rec)
		if ok {
			installed++
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("recovery from lsn %d: %w", redo, err)
	}
	if replayed == 0 {
		return nil
	}
	e.metrics.replayed.Add(float64(installed))
	e.log.Infof("recovery from lsn %d: replayed %d records, installed %d pages", redo, replayed, installed)
	return e.checkpoint(ctx)
}

// Checkpoint writes every dirty page to the page file and records a new
// redo point, after which the durability log before it can be discarded.
func (e *Engine) Checkpoint(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.checkpoint(ctx)
}

func (e *Engine) checkpoint(ctx context.Context) error {
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()

	// Publish the redo point before collecting the pages. A cycle that runs
	// after its page has been collected sees the new redo point and logs.
	redo := e.wal.InsertPosition()
	e.redo.Store(uint64(redo))

	dirty := e.pool.CollectDirty()
	if err := e.writePages(dirty); err != nil {
		return fmt.Errorf("checkpoint at %d: %w", redo, err)
	}
	if err := e.wal.Checkpoint(ctx, redo); err != nil {
		return err
	}
	e.metrics.checkpoints.Inc()
	e.log.Infof("checkpoint at lsn %d, wrote %d pages", redo, len(dirty))
	return nil
}

// writePages writes collected pages to the page file. On failure the pages
// are marked dirty again for the next checkpoint.
func (e *Engine) writePages(dirty []bufcache.Page) error {
	if len(dirty) == 0 {
		return nil
	}
	pages := make([]pagestore.Page, 0, len(dirty))
	for _, p := range dirty {
		pages = append(pages, pagestore.Page{ID: p.ID, Generation: p.Generation, Data: p.Data})
	}
	if _, err := e.pages.WritePages(pages); err != nil {
		e.pool.Redirty(dirty)
		return err
	}
	return nil
}

func (e *Engine) checkpointer(interval time.Duration) {
	defer close(e.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.checkpoint(context.Background()); err != nil {
				// logger.Logger has no error level, the wrapped zap logger does.
				e.log.WithOptions().Errorf("periodic checkpoint: %v", err)
			}
		}
	}
}

func (e *Engine) stopCheckpointer() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
}

func (e *Engine) closeStores() error {
	var result error
	if err := e.wal.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.pages.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

// Close takes a final checkpoint and closes the page file and the log.
// Sessions must not be used afterwards.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.stopCheckpointer()

	var result error
	if err := e.checkpoint(context.Background()); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.closeStores(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func (e *Engine) Settings() *Settings {
	return e.settings
}

func (e *Engine) Guard() AccessGuard {
	return e.opts.guard
}

func (e *Engine) newTxnID() uint64 {
	return e.txnIDs.Add(1)
}

func catalogError(err error) error {
	switch {
	case errors.Is(err, pagestore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	case errors.Is(err, pagestore.ErrExists):
		return fmt.Errorf("%w: %w", ErrObjectExists, err)
	}
	return err
}

// CreateSequence creates a sequence. Its first nextval is stamped with the
// time it is called.
func (e *Engine) CreateSequence(ctx context.Context, name string) (pagestore.Object, error) {
	return e.CreateObject(ctx, name, pagestore.KindSequence)
}

// CreateObject adds an object of any kind to the catalog. Only sequences
// own a page.
func (e *Engine) CreateObject(ctx context.Context, name string, kind pagestore.Kind) (pagestore.Object, error) {
	if e.closed.Load() {
		return pagestore.Object{}, ErrEngineClosed
	}
	var page []byte
	if kind == pagestore.KindSequence {
		page = seqpage.New(seqpage.Record{})
	}
	obj, err := e.pages.Create(name, kind, page)
	if err != nil {
		return pagestore.Object{}, catalogError(err)
	}
	if page != nil {
		e.pool.Install(obj.ID, obj.Generation, page, false)
	}
	e.setObject(obj)
	return obj, nil
}

// Lookup finds an object by name.
func (e *Engine) Lookup(name string) (pagestore.Object, error) {
	obj, err := e.pages.Lookup(name)
	if err != nil {
		return pagestore.Object{}, catalogError(err)
	}
	return obj, nil
}

// Objects lists the catalog in id order.
func (e *Engine) Objects() ([]pagestore.Object, error) {
	return e.pages.Objects()
}

// exclusive runs fn holding the AccessExclusive lock on the object, in a
// transaction of its own.
func (e *Engine) exclusive(ctx context.Context, id uint64, fn func(obj pagestore.Object) error) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	txn := e.newTxnID()
	if err := e.locks.Acquire(ctx, txn, id, LockAccessExclusive); err != nil {
		return err
	}
	defer e.locks.ReleaseAll(txn)

	obj, ok := e.object(id)
	if !ok {
		return fmt.Errorf("object %d: %w", id, ErrObjectNotFound)
	}
	return fn(obj)
}

// ReplaceSequence moves the sequence to new storage. The persisted record is
// carried over, so values issued afterwards still follow every value issued
// before. Sessions that have used the sequence notice the new generation the
// next time they open it.
func (e *Engine) ReplaceSequence(ctx context.Context, id uint64) (pagestore.Object, error) {
	var replaced pagestore.Object
	err := e.exclusive(ctx, id, func(obj pagestore.Object) error {
		if obj.Kind != pagestore.KindSequence {
			return fmt.Errorf("%q is a %s: %w", obj.Name, obj.Kind, ErrWrongObjectType)
		}
		buf, err := e.pool.Get(id)
		if err != nil {
			return e.storageError(obj, err)
		}
		buf.Lock()
		page, err := seqpage.Decode(buf.Data())
		buf.Unlock()
		if err != nil {
			return fmt.Errorf("sequence %q: %w: %w", obj.Name, ErrCorruptStorage, err)
		}

		// The new storage starts unlogged, so the next nextval writes a
		// record tagged with the new generation.
		data := seqpage.New(page.Record)
		if replaced, err = e.pages.Replace(id, data); err != nil {
			return catalogError(err)
		}
		e.pool.Install(id, replaced.Generation, data, false)
		e.setObject(replaced)
		return nil
	})
	return replaced, err
}

// DropObject removes the object from the catalog.
func (e *Engine) DropObject(ctx context.Context, id uint64) error {
	return e.exclusive(ctx, id, func(obj pagestore.Object) error {
		if err := e.pages.Drop(id); err != nil {
			return catalogError(err)
		}
		e.pool.Evict(id)
		e.forgetObject(id)
		if g, ok := e.opts.guard.(*ACLGuard); ok {
			g.Forget(id)
		}
		return nil
	})
}

// SequenceState is a snapshot of a sequence, as the buffer cache holds it.
type SequenceState struct {
	Object pagestore.Object
	Page   seqpage.Page
	// Dirty is true if the page has changes not yet written by a
	// checkpoint.
	Dirty bool
}

// Inspect returns the current state of a sequence without issuing a value.
func (e *Engine) Inspect(id uint64) (SequenceState, error) {
	obj, ok := e.object(id)
	if !ok {
		return SequenceState{}, fmt.Errorf("object %d: %w", id, ErrObjectNotFound)
	}
	if obj.Kind != pagestore.KindSequence {
		return SequenceState{}, fmt.Errorf("%q is a %s: %w", obj.Name, obj.Kind, ErrWrongObjectType)
	}
	buf, err := e.pool.Get(id)
	if err != nil {
		return SequenceState{}, e.storageError(obj, err)
	}
	buf.Lock()
	defer buf.Unlock()
	page, err := seqpage.Decode(buf.Data())
	if err != nil {
		return SequenceState{}, fmt.Errorf("sequence %q: %w: %w", obj.Name, ErrCorruptStorage, err)
	}
	return SequenceState{Object: obj, Page: page, Dirty: buf.Dirty()}, nil
}
