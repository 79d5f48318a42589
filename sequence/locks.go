package sequence

import (
	"context"
	"fmt"
	"sync"
)

// LockMode is the strength of a transaction scoped object lock.
type LockMode uint8

const (
	LockNone LockMode = iota
	// LockRowExclusive is taken by nextval and currval. It is compatible
	// with itself, so any number of transactions may allocate from a
	// sequence at once.
	LockRowExclusive
	// LockAccessExclusive is taken by replace and drop. It conflicts with
	// every lock held by another transaction.
	LockAccessExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockRowExclusive:
		return "RowExclusive"
	case LockAccessExclusive:
		return "AccessExclusive"
	}
	return "None"
}

type objectLock struct {
	holders map[uint64]LockMode
	// released is closed, and replaced, whenever a holder lets go.
	released chan struct{}
}

func (l *objectLock) compatible(txn uint64, mode LockMode) bool {
	for holder, held := range l.holders {
		if holder == txn {
			continue
		}
		if mode == LockAccessExclusive || held == LockAccessExclusive {
			return false
		}
	}
	return true
}

// lockManager holds transaction scoped object locks. They are released all
// together when the transaction ends.
type lockManager struct {
	mu    sync.Mutex
	locks map[uint64]*objectLock
	held  map[uint64][]uint64
}

func newLockManager() *lockManager {
	return &lockManager{
		locks: map[uint64]*objectLock{},
		held:  map[uint64][]uint64{},
	}
}

// Acquire takes the lock on the object for txn, waiting while another
// transaction holds a conflicting lock. A transaction that already holds the
// lock is granted the stronger of the two modes.
func (m *lockManager) Acquire(ctx context.Context, txn uint64, id uint64, mode LockMode) error {
	for {
		m.mu.Lock()
		l, ok := m.locks[id]
		if !ok {
			l = &objectLock{holders: map[uint64]LockMode{}, released: make(chan struct{})}
			m.locks[id] = l
		}
		if l.compatible(txn, mode) {
			if held, ok := l.holders[txn]; !ok {
				m.held[txn] = append(m.held[txn], id)
				l.holders[txn] = mode
			} else if mode > held {
				l.holders[txn] = mode
			}
			m.mu.Unlock()
			return nil
		}
		wait := l.released
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s lock on object %d: %w", mode, id, ctx.Err())
		case <-wait:
		}
	}
}

// Held returns the mode in which txn holds the lock on the object.
func (m *lockManager) Held(txn uint64, id uint64) LockMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[id]; ok {
		return l.holders[txn]
	}
	return LockNone
}

// ReleaseAll releases every lock held by txn and wakes the waiters.
func (m *lockManager) ReleaseAll(txn uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.held[txn] {
		l, ok := m.locks[id]
		if !ok {
			continue
		}
		delete(l.holders, txn)
		close(l.released)
		l.released = make(chan struct{})
		if len(l.holders) == 0 {
			delete(m.locks, id)
		}
	}
	delete(m.held, txn)
}
