package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/forestrie/go-snowflake/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrValAndLastVal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	a, err := e.CreateSequence(ctx, "a")
	require.NoError(t, err)
	b, err := e.CreateSequence(ctx, "b")
	require.NoError(t, err)
	s := newTestSession(t, e)

	_, err = s.CurrVal(ctx, a.ID)
	require.ErrorIs(t, err, ErrUndefinedInSession)
	_, err = s.LastVal()
	require.ErrorIs(t, err, ErrUndefinedInSession)

	va := nextVals(t, s, a.ID, 1)[0]
	vb := nextVals(t, s, b.ID, 1)[0]

	got, err := s.CurrVal(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, va, got)
	got, err = s.LastVal()
	require.NoError(t, err)
	assert.Equal(t, vb, got)

	// Another session's values are its own.
	other := newTestSession(t, e)
	_, err = other.CurrVal(ctx, a.ID)
	require.ErrorIs(t, err, ErrUndefinedInSession)
	vo := nextVals(t, other, a.ID, 1)[0]
	got, err = s.CurrVal(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, va, got)
	assert.Greater(t, vo, va)

	require.NoError(t, s.Discard())
	_, err = s.CurrVal(ctx, a.ID)
	require.ErrorIs(t, err, ErrUndefinedInSession)
	_, err = s.LastVal()
	require.ErrorIs(t, err, ErrUndefinedInSession)
}

func TestCurrValSurvivesTxnEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	seq, err := e.CreateSequence(ctx, "orders")
	require.NoError(t, err)
	s := newTestSession(t, e)

	require.NoError(t, s.Begin())
	v := nextVals(t, s, seq.ID, 1)[0]
	assert.Equal(t, LockRowExclusive, e.locks.Held(s.txn.id, seq.ID))
	txn := s.txn.id
	require.NoError(t, s.Rollback())
	assert.Equal(t, LockNone, e.locks.Held(txn, seq.ID))

	// Rolling back does not return the value.
	got, err := s.CurrVal(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, v, got)
	assert.Greater(t, nextVals(t, s, seq.ID, 1)[0], v)
}

func TestTxnLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	seq, err := e.CreateSequence(ctx, "orders")
	require.NoError(t, err)
	s := newTestSession(t, e)

	require.ErrorIs(t, s.Commit(), ErrNoTxn)
	require.ErrorIs(t, s.Rollback(), ErrNoTxn)

	require.NoError(t, s.Begin())
	assert.True(t, s.InTxn())
	require.ErrorIs(t, s.Begin(), ErrTxnInProgress)

	// The lock is taken once per transaction.
	nextVals(t, s, seq.ID, 3)
	entry := s.cache.entries[seq.ID]
	assert.Equal(t, s.txn.id, entry.lockedTxn)
	require.NoError(t, s.Commit())
	assert.False(t, s.InTxn())

	// A failed statement aborts the explicit transaction.
	require.NoError(t, s.Begin())
	_, err = s.CurrVal(ctx, 4242)
	require.ErrorIs(t, err, ErrObjectNotFound)
	_, err = s.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrTxnAborted)
	require.ErrorIs(t, s.Commit(), ErrTxnAborted)
	assert.False(t, s.InTxn())

	nextVals(t, s, seq.ID, 1)

	require.NoError(t, s.Begin())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, s.Begin(), ErrSessionClosed)
	require.ErrorIs(t, s.Discard(), ErrSessionClosed)
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	guard := NewACLGuard("admin")
	e := env.open(t, WithGuard(guard))
	seq, err := e.CreateSequence(ctx, "orders")
	require.NoError(t, err)

	alice, err := e.NewSession("alice")
	require.NoError(t, err)
	defer alice.Close()
	admin, err := e.NewSession("admin")
	require.NoError(t, err)
	defer admin.Close()

	_, err = alice.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrPermission)
	_, err = alice.CurrVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrPermission)

	// Select alone allows currval but not nextval.
	guard.Grant("alice", seq.ID, ActionSelect)
	_, err = alice.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrPermission)
	_, err = alice.CurrVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrUndefinedInSession)

	// Either usage or update allows nextval.
	guard.Grant("alice", seq.ID, ActionUpdate)
	v, err := alice.NextVal(ctx, seq.ID)
	require.NoError(t, err)

	guard.Revoke("alice", seq.ID, ActionSelect|ActionUpdate)
	_, err = alice.CurrVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrPermission)
	_, err = alice.LastVal()
	require.ErrorIs(t, err, ErrPermission)
	guard.Grant("alice", seq.ID, ActionUsage)
	got, err := alice.LastVal()
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = admin.NextVal(ctx, seq.ID)
	require.NoError(t, err)

	settings := e.Settings()
	require.ErrorIs(t, settings.SetNode("alice", 3), ErrPermission)
	require.ErrorIs(t, settings.ClearNode("alice"), ErrPermission)
	require.ErrorIs(t, settings.SetNode("admin", 1024), ErrConfiguration)
	require.ErrorIs(t, settings.SetNode("admin", -1), snowflakeid.ErrNodeRange)
	assert.Equal(t, testNode, settings.Node())
	require.NoError(t, settings.SetNode("admin", 3))
	v, err = admin.NextVal(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, snowflakeid.DecodeNode(v))
}

func TestReadOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	seq, err := e.CreateSequence(ctx, "orders")
	require.NoError(t, err)

	s := newTestSession(t, e)
	v := nextVals(t, s, seq.ID, 1)[0]

	require.NoError(t, s.Begin(ReadOnly()))
	_, err = s.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrReadOnly)
	require.NoError(t, s.Rollback())

	require.NoError(t, s.Begin(ReadOnly()))
	got, err := s.CurrVal(ctx, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, v, got)
	require.NoError(t, s.Commit())

	ro := newTestSession(t, e, DefaultReadOnly())
	_, err = ro.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrReadOnly)

	// The refusal happens before the page is touched.
	state, err := e.Inspect(seq.ID)
	require.NoError(t, err)
	assert.Equal(t, v, state.Page.LastValue)
}

func TestParallelMode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)
	seq, err := e.CreateSequence(ctx, "orders")
	require.NoError(t, err)
	s := newTestSession(t, e)

	s.EnterParallelMode()
	_, err = s.NextVal(ctx, seq.ID)
	require.ErrorIs(t, err, ErrParallelContext)
	s.ExitParallelMode()
	nextVals(t, s, seq.ID, 1)
}

func TestConcurrentSessionsNoDuplicates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	// The real clock, so the workers hit both counter bumps and ticks.
	e := env.open(t, WithClock(time.Now))
	seq, err := e.CreateSequence(ctx, "orders")
	require.NoError(t, err)

	const workers = 8
	const perWorker = 500

	results := make([][]int64, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		s, err := e.NewSession(Principal("worker"))
		require.NoError(t, err)
		wg.Add(1)
		go func(w int, s *Session) {
			defer wg.Done()
			defer s.Close()
			for i := 0; i < perWorker; i++ {
				v, err := s.NextVal(ctx, seq.ID)
				if err != nil {
					t.Errorf("worker %d: %v", w, err)
					return
				}
				results[w] = append(results[w], v)
			}
		}(w, s)
	}
	wg.Wait()

	seen := map[int64]bool{}
	for w, values := range results {
		require.Len(t, values, perWorker, "worker %d", w)
		// Each worker sees its own values strictly increasing.
		requireIncreasing(t, values)
		for _, v := range values {
			require.False(t, seen[v], "duplicate %d", v)
			seen[v] = true
		}
	}

	// Everything issued stays below what is issued after a crash.
	var highest int64
	for v := range seen {
		if v > highest {
			highest = v
		}
	}
	e.crash()
	e2 := env.open(t, WithClock(time.Now))
	s := newTestSession(t, e2)
	assert.Greater(t, nextVals(t, s, seq.ID, 1)[0], highest)
}

func TestConcurrentSessionsManySequences(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	e := env.open(t)

	const sequences = 4
	ids := make([]uint64, sequences)
	for i := range ids {
		seq, err := e.CreateSequence(ctx, string(rune('a'+i)))
		require.NoError(t, err)
		ids[i] = seq.ID
	}

	// A frozen clock forces every value through the counter, and the
	// wrap, from many goroutines at once.
	var mu sync.Mutex
	seen := map[uint64]map[int64]bool{}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		s, err := e.NewSession("worker")
		require.NoError(t, err)
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			defer s.Close()
			for i := 0; i < 2400; i++ {
				id := ids[i%sequences]
				v, err := s.NextVal(ctx, id)
				if err != nil {
					t.Errorf("nextval %d: %v", id, err)
					return
				}
				mu.Lock()
				if seen[id] == nil {
					seen[id] = map[int64]bool{}
				}
				if seen[id][v] {
					t.Errorf("sequence %d issued %d twice", id, v)
				}
				seen[id][v] = true
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Len(t, seen[id], 8*2400/sequences)
	}
}

func TestEngineClosedSessions(t *testing.T) {
	env := newTestEnv(t)
	e := env.open(t)
	s := newTestSession(t, e)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := s.NextVal(context.Background(), 1)
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.NewSession("late")
	require.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.CreateSequence(context.Background(), "late")
	require.ErrorIs(t, err, ErrEngineClosed)
}

func BenchmarkNextVal(b *testing.B) {
	ctx := context.Background()
	cfg := DefaultConfig(b.TempDir())
	cfg.Snowflake.Node = testNode
	cfg.CheckpointInterval = 0
	logger.New("NOOP")
	e, err := Open(ctx, cfg, WithLogger(logger.Sugar), WithClock(time.Now), WithSegmentStore(wal.NewMemStore()))
	require.NoError(b, err)
	defer e.Close()
	seq, err := e.CreateSequence(ctx, "bench")
	require.NoError(b, err)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		s, err := e.NewSession("bench")
		if err != nil {
			b.Error(err)
			return
		}
		defer s.Close()
		for pb.Next() {
			if _, err := s.NextVal(ctx, seq.ID); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
