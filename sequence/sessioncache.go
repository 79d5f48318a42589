package sequence

import (
	"context"
	"fmt"
)

// cacheEntry is the state a session keeps for each sequence it has touched.
type cacheEntry struct {
	id uint64
	// generation is the storage generation last seen for the object.
	generation uint64
	// lockedTxn is the transaction in which the object lock was taken. The
	// lock is held in the current transaction iff it equals its id.
	lockedTxn uint64

	lastValid bool
	// last is the value most recently returned to this session.
	last int64
	// cached is the last value fetched from storage. Values are not pre
	// allocated, so it only differs from last after a storage replace.
	cached int64
}

// sessionCache is owned by a single session and is not safe for concurrent
// use.
type sessionCache struct {
	locks   *lockManager
	entries map[uint64]*cacheEntry
	// lastUsed is the entry of the sequence nextval most recently returned a
	// value for.
	lastUsed *cacheEntry
}

func newSessionCache(locks *lockManager) *sessionCache {
	return &sessionCache{locks: locks, entries: map[uint64]*cacheEntry{}}
}

// acquire finds or creates the entry for the object and makes sure the
// object lock is held in txn.
func (c *sessionCache) acquire(ctx context.Context, txn uint64, id uint64) (*cacheEntry, error) {
	e, ok := c.entries[id]
	if !ok {
		e = &cacheEntry{id: id}
		c.entries[id] = e
	}
	if e.lockedTxn == txn {
		return e, nil
	}
	if err := c.locks.Acquire(ctx, txn, id, LockRowExclusive); err != nil {
		return nil, err
	}
	e.lockedTxn = txn
	return e, nil
}

// onObjectOpened notes the storage generation of the opened object. If the
// storage has been replaced since the session last saw it, any cached but
// unissued value is dropped. The currval state is kept.
func (c *sessionCache) onObjectOpened(e *cacheEntry, generation uint64) {
	if e.generation == generation {
		return
	}
	e.generation = generation
	e.cached = e.last
}

func (c *sessionCache) issued(e *cacheEntry, value int64) {
	e.last = value
	e.cached = value
	e.lastValid = true
	c.lastUsed = e
}

func (c *sessionCache) readBack(id uint64) (int64, error) {
	e, ok := c.entries[id]
	if !ok || !e.lastValid {
		return 0, fmt.Errorf("currval of sequence %d: %w", id, ErrUndefinedInSession)
	}
	return e.last, nil
}

// discard forgets every entry.
func (c *sessionCache) discard() {
	c.entries = map[uint64]*cacheEntry{}
	c.lastUsed = nil
}
