package sequence

import (
	"context"
	"fmt"

	"github.com/forestrie/go-snowflake/pagestore"
	"github.com/google/uuid"
)

type txnState struct {
	id       uint64
	readOnly bool
	implicit bool
	// aborted is set when a statement fails. Only Rollback, or Commit which
	// then rolls back, ends an aborted transaction.
	aborted bool
}

func (t *txnState) abort() {
	t.aborted = true
}

type TxnOption func(*txnState)

// ReadOnly begins a read-only transaction. nextval is refused in it.
func ReadOnly() TxnOption {
	return func(t *txnState) {
		t.readOnly = true
	}
}

type SessionOption func(*Session)

// DefaultReadOnly makes statements run outside an explicit transaction
// read-only.
func DefaultReadOnly() SessionOption {
	return func(s *Session) {
		s.readOnly = true
	}
}

// Session is one client of the engine. A session must only be used by one
// goroutine at a time. Different sessions may be used concurrently.
type Session struct {
	id        uuid.UUID
	engine    *Engine
	principal Principal
	readOnly  bool
	parallel  bool
	cache     *sessionCache
	txn       *txnState
	closed    bool
}

func (e *Engine) NewSession(principal Principal, opts ...SessionOption) (*Session, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	s := &Session{
		id:        uuid.New(),
		engine:    e,
		principal: principal,
		cache:     newSessionCache(e.locks),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) Principal() Principal {
	return s.principal
}

func (s *Session) InTxn() bool {
	return s.txn != nil
}

func (s *Session) check() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.engine.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// Begin starts an explicit transaction. Statements run until Commit or
// Rollback share its object locks.
func (s *Session) Begin(opts ...TxnOption) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.txn != nil {
		return ErrTxnInProgress
	}
	txn := &txnState{id: s.engine.newTxnID()}
	for _, o := range opts {
		o(txn)
	}
	s.txn = txn
	return nil
}

// Commit ends the transaction. Committing an aborted transaction rolls it
// back and returns ErrTxnAborted.
//
// Issued values are never returned, whichever way the transaction ends.
func (s *Session) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.txn == nil {
		return ErrNoTxn
	}
	aborted := s.txn.aborted
	s.end()
	if aborted {
		return ErrTxnAborted
	}
	return nil
}

func (s *Session) Rollback() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.txn == nil {
		return ErrNoTxn
	}
	s.end()
	return nil
}

func (s *Session) end() {
	s.engine.locks.ReleaseAll(s.txn.id)
	s.txn = nil
}

// EnterParallelMode marks the session as running a parallel operation, in
// which nextval is refused.
func (s *Session) EnterParallelMode() {
	s.parallel = true
}

func (s *Session) ExitParallelMode() {
	s.parallel = false
}

// Discard forgets the values this session has seen, for every sequence.
func (s *Session) Discard() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.cache.discard()
	return nil
}

// Close rolls back any open transaction.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if s.txn != nil {
		s.end()
	}
	s.closed = true
	return nil
}

func (s *Session) txnInfo(txn *txnState) TxnInfo {
	return TxnInfo{ID: txn.id, ReadOnly: txn.readOnly, Parallel: s.parallel}
}

// statement runs fn in the current transaction, or in an implicit one that
// ends with the statement. A failure aborts an explicit transaction.
func (s *Session) statement(fn func(txn *txnState) (int64, error)) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	txn := s.txn
	if txn == nil {
		txn = &txnState{id: s.engine.newTxnID(), readOnly: s.readOnly, implicit: true}
		defer s.engine.locks.ReleaseAll(txn.id)
	} else if txn.aborted {
		return 0, ErrTxnAborted
	}
	v, err := fn(txn)
	if err != nil {
		txn.abort()
	}
	return v, err
}

// open locks the object for the transaction and checks it is a sequence.
func (s *Session) open(ctx context.Context, txn *txnState, id uint64) (*cacheEntry, pagestore.Object, error) {
	entry, err := s.cache.acquire(ctx, txn.id, id)
	if err != nil {
		return nil, pagestore.Object{}, err
	}
	obj, ok := s.engine.object(id)
	if !ok {
		return nil, pagestore.Object{}, fmt.Errorf("object %d: %w", id, ErrObjectNotFound)
	}
	if obj.Kind != pagestore.KindSequence {
		return nil, pagestore.Object{}, fmt.Errorf("%q is a %s: %w", obj.Name, obj.Kind, ErrWrongObjectType)
	}
	s.cache.onObjectOpened(entry, obj.Generation)
	return entry, obj, nil
}

func (s *Session) permission(obj pagestore.Object, action Action) error {
	if !s.engine.opts.guard.CheckPermission(s.principal, obj.ID, action) {
		return fmt.Errorf("%s needs %s on %q: %w", s.principal, action, obj.Name, ErrPermission)
	}
	return nil
}

// NextVal issues the next value of the sequence. Values from one sequence
// strictly increase, in the order callers acquire its page, and are never
// issued twice, even across a crash. Values may be skipped.
func (s *Session) NextVal(ctx context.Context, id uint64) (int64, error) {
	return s.statement(func(txn *txnState) (int64, error) {
		node, err := s.engine.settings.requireNode()
		if err != nil {
			return 0, err
		}
		entry, obj, err := s.open(ctx, txn, id)
		if err != nil {
			return 0, err
		}
		if err = s.permission(obj, ActionUsage|ActionUpdate); err != nil {
			return 0, err
		}
		guard := s.engine.opts.guard
		if err = guard.AssertNotReadOnly(s.txnInfo(txn)); err != nil {
			return 0, err
		}
		if err = guard.AssertNotParallelContext(s.txnInfo(txn)); err != nil {
			return 0, err
		}

		value, err := s.engine.advance(ctx, txn, obj, node)
		if err != nil {
			return 0, err
		}
		s.cache.issued(entry, value)
		return value, nil
	})
}

// CurrVal returns the value NextVal most recently returned for the sequence
// in this session.
func (s *Session) CurrVal(ctx context.Context, id uint64) (int64, error) {
	return s.statement(func(txn *txnState) (int64, error) {
		_, obj, err := s.open(ctx, txn, id)
		if err != nil {
			return 0, err
		}
		if err = s.permission(obj, ActionSelect|ActionUsage); err != nil {
			return 0, err
		}
		return s.cache.readBack(id)
	})
}

// LastVal returns the value NextVal most recently returned in this session,
// for any sequence.
func (s *Session) LastVal() (int64, error) {
	return s.statement(func(txn *txnState) (int64, error) {
		last := s.cache.lastUsed
		if last == nil || !last.lastValid {
			return 0, fmt.Errorf("lastval: %w", ErrUndefinedInSession)
		}
		obj, ok := s.engine.object(last.id)
		if !ok {
			return 0, fmt.Errorf("lastval sequence %d has been dropped: %w", last.id, ErrUndefinedInSession)
		}
		if err := s.permission(obj, ActionSelect|ActionUsage); err != nil {
			return 0, err
		}
		return last.last, nil
	})
}
