// Package bufcache is the shared buffer cache for object pages.
//
// There is one Buffer per object. Its mutex is the page lock: whoever holds
// it may read and modify the page bytes. Modifications are written back to
// the page file in bulk by a checkpoint, which collects the dirty buffers.
package bufcache

import (
	"slices"
	"sync"
)

// Loader reads a page, and the storage generation it belongs to, from the
// page file.
type Loader interface {
	LoadPage(id uint64) ([]byte, uint64, error)
}

type Buffer struct {
	mu sync.Mutex

	id         uint64
	generation uint64
	data       []byte
	dirty      bool
	// evicted is set when the object has been dropped. Holders of a stale
	// pointer must not use it.
	evicted bool
}

func (b *Buffer) Lock()   { b.mu.Lock() }
func (b *Buffer) Unlock() { b.mu.Unlock() }

func (b *Buffer) ID() uint64 { return b.id }

// The remaining accessors require the buffer lock.

func (b *Buffer) Generation() uint64 { return b.generation }

// Data returns the page bytes. They may be modified in place while the lock
// is held, in which case MarkDirty must also be called.
func (b *Buffer) Data() []byte { return b.data }

// SetData replaces the page bytes, for a page that can't be updated in place.
func (b *Buffer) SetData(data []byte) { b.data = slices.Clone(data) }

func (b *Buffer) MarkDirty() { b.dirty = true }

func (b *Buffer) Dirty() bool { return b.dirty }

func (b *Buffer) Evicted() bool { return b.evicted }

// Page is a copy of a dirty buffer, taken for write back.
type Page struct {
	ID         uint64
	Generation uint64
	Data       []byte
}

type Pool struct {
	mu      sync.Mutex
	loader  Loader
	buffers map[uint64]*Buffer
}

func NewPool(loader Loader) *Pool {
	return &Pool{loader: loader, buffers: map[uint64]*Buffer{}}
}

// Get returns the buffer for the object, loading it on a miss.
func (p *Pool) Get(id uint64) (*Buffer, error) {
	p.mu.Lock()
	b, ok := p.buffers[id]
	p.mu.Unlock()
	if ok {
		return b, nil
	}

	// Load without the pool lock so a slow read doesn't stall every other
	// object. If we race another loader, the first to install wins.
	data, generation, err := p.loader.LoadPage(id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buffers[id]; ok {
		return b, nil
	}
	b = &Buffer{id: id, generation: generation, data: data}
	p.buffers[id] = b
	return b, nil
}

// Install sets the content of the object buffer, creating it if necessary.
// It is used when storage is created or replaced, and by recovery.
func (p *Pool) Install(id uint64, generation uint64, data []byte, dirty bool) *Buffer {
	p.mu.Lock()
	b, ok := p.buffers[id]
	if !ok {
		b = &Buffer{id: id}
		p.buffers[id] = b
	}
	p.mu.Unlock()

	b.Lock()
	defer b.Unlock()
	b.generation = generation
	b.data = slices.Clone(data)
	b.dirty = dirty
	return b
}

// Evict forgets the buffer for a dropped object, discarding any unwritten
// changes.
func (p *Pool) Evict(id uint64) {
	p.mu.Lock()
	b, ok := p.buffers[id]
	delete(p.buffers, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	b.Lock()
	b.evicted = true
	b.dirty = false
	b.Unlock()
}

// CollectDirty copies every dirty page, under its buffer lock, and clears the
// dirty flags. If writing the pages fails they must be handed to Redirty.
func (p *Pool) CollectDirty() []Page {
	p.mu.Lock()
	buffers := make([]*Buffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		buffers = append(buffers, b)
	}
	p.mu.Unlock()

	var pages []Page
	for _, b := range buffers {
		b.Lock()
		if b.dirty && !b.evicted {
			pages = append(pages, Page{ID: b.id, Generation: b.generation, Data: slices.Clone(b.data)})
			b.dirty = false
		}
		b.Unlock()
	}
	slices.SortFunc(pages, func(a, b Page) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return pages
}

// Redirty restores the dirty flag for pages whose write back failed. Buffers
// that have since moved to another generation are left alone.
func (p *Pool) Redirty(pages []Page) {
	for _, pg := range pages {
		p.mu.Lock()
		b, ok := p.buffers[pg.ID]
		p.mu.Unlock()
		if !ok {
			continue
		}
		b.Lock()
		if b.generation == pg.Generation {
			b.dirty = true
		}
		b.Unlock()
	}
}

// Len returns the number of buffers held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}
