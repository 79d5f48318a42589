package sequence

import (
	"fmt"
	"sync"
)

// Action is a set of privileges on an object. A permission check passes if
// any one of the requested privileges is granted.
type Action uint8

const (
	ActionSelect Action = 1 << iota
	ActionUsage
	ActionUpdate

	ActionAll = ActionSelect | ActionUsage | ActionUpdate
)

func (a Action) String() string {
	s := ""
	for _, p := range []struct {
		bit  Action
		name string
	}{{ActionSelect, "select"}, {ActionUsage, "usage"}, {ActionUpdate, "update"}} {
		if a&p.bit == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += p.name
	}
	if s == "" {
		return "none"
	}
	return s
}

// Principal names the user on whose behalf a session runs.
type Principal string

// TxnInfo describes the transaction a statement runs in.
type TxnInfo struct {
	ID       uint64
	ReadOnly bool
	Parallel bool
}

// AccessGuard decides whether a principal may operate on an object, and
// refuses modifications the surrounding transaction does not allow.
type AccessGuard interface {
	CheckPermission(principal Principal, id uint64, action Action) bool
	IsSuperuser(principal Principal) bool
	AssertNotReadOnly(txn TxnInfo) error
	AssertNotParallelContext(txn TxnInfo) error
}

func assertNotReadOnly(txn TxnInfo) error {
	if txn.ReadOnly {
		return fmt.Errorf("txn %d: %w", txn.ID, ErrReadOnly)
	}
	return nil
}

func assertNotParallel(txn TxnInfo) error {
	if txn.Parallel {
		return fmt.Errorf("txn %d: %w", txn.ID, ErrParallelContext)
	}
	return nil
}

// AllowAll grants every privilege to every principal. The transaction state
// checks still apply.
type AllowAll struct{}

func (AllowAll) CheckPermission(Principal, uint64, Action) bool { return true }
func (AllowAll) IsSuperuser(Principal) bool                     { return true }
func (AllowAll) AssertNotReadOnly(txn TxnInfo) error            { return assertNotReadOnly(txn) }
func (AllowAll) AssertNotParallelContext(txn TxnInfo) error     { return assertNotParallel(txn) }

// ACLGuard grants privileges per principal and object. Superusers pass every
// check.
type ACLGuard struct {
	mu         sync.RWMutex
	superusers map[Principal]bool
	grants     map[Principal]map[uint64]Action
}

func NewACLGuard(superusers ...Principal) *ACLGuard {
	g := &ACLGuard{
		superusers: map[Principal]bool{},
		grants:     map[Principal]map[uint64]Action{},
	}
	for _, p := range superusers {
		g.superusers[p] = true
	}
	return g
}

func (g *ACLGuard) Grant(principal Principal, id uint64, action Action) {
	g.mu.Lock()
	defer g.mu.Unlock()
	objs, ok := g.grants[principal]
	if !ok {
		objs = map[uint64]Action{}
		g.grants[principal] = objs
	}
	objs[id] |= action
}

func (g *ACLGuard) Revoke(principal Principal, id uint64, action Action) {
	g.mu.Lock()
	defer g.mu.Unlock()
	objs, ok := g.grants[principal]
	if !ok {
		return
	}
	objs[id] &^= action
	if objs[id] == 0 {
		delete(objs, id)
	}
}

// Forget removes every grant on the object, for use when it is dropped.
func (g *ACLGuard) Forget(id uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, objs := range g.grants {
		delete(objs, id)
	}
}

func (g *ACLGuard) CheckPermission(principal Principal, id uint64, action Action) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.superusers[principal] {
		return true
	}
	return g.grants[principal][id]&action != 0
}

func (g *ACLGuard) IsSuperuser(principal Principal) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.superusers[principal]
}

func (g *ACLGuard) AssertNotReadOnly(txn TxnInfo) error        { return assertNotReadOnly(txn) }
func (g *ACLGuard) AssertNotParallelContext(txn TxnInfo) error { return assertNotParallel(txn) }
