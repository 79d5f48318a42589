package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		held      LockMode
		requested LockMode
		want      bool
	}{
		{"row exclusive shares", LockRowExclusive, LockRowExclusive, true},
		{"access exclusive waits for row exclusive", LockRowExclusive, LockAccessExclusive, false},
		{"row exclusive waits for access exclusive", LockAccessExclusive, LockRowExclusive, false},
		{"access exclusive waits for access exclusive", LockAccessExclusive, LockAccessExclusive, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newLockManager()
			require.NoError(t, m.Acquire(context.Background(), 1, 10, tt.held))

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			err := m.Acquire(ctx, 2, 10, tt.requested)
			if tt.want {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, context.DeadlineExceeded)
			assert.Equal(t, LockNone, m.Held(2, 10))
		})
	}
}

func TestLockUpgradeAndRelease(t *testing.T) {
	ctx := context.Background()
	m := newLockManager()

	require.NoError(t, m.Acquire(ctx, 1, 10, LockRowExclusive))
	require.NoError(t, m.Acquire(ctx, 1, 11, LockRowExclusive))
	// The only holder may upgrade, and never downgrades.
	require.NoError(t, m.Acquire(ctx, 1, 10, LockAccessExclusive))
	require.NoError(t, m.Acquire(ctx, 1, 10, LockRowExclusive))
	assert.Equal(t, LockAccessExclusive, m.Held(1, 10))

	granted := make(chan error, 1)
	go func() {
		granted <- m.Acquire(ctx, 2, 10, LockRowExclusive)
	}()
	select {
	case err := <-granted:
		t.Fatalf("acquired while access exclusive was held: %v", err)
	case <-time.After(10 * time.Millisecond):
	}

	m.ReleaseAll(1)
	require.NoError(t, <-granted)
	assert.Equal(t, LockNone, m.Held(1, 10))
	assert.Equal(t, LockNone, m.Held(1, 11))
	assert.Equal(t, LockRowExclusive, m.Held(2, 10))

	m.ReleaseAll(2)
	assert.Empty(t, m.locks)
	assert.Empty(t, m.held)
}

func TestLockModeString(t *testing.T) {
	assert.Equal(t, "RowExclusive", LockRowExclusive.String())
	assert.Equal(t, "AccessExclusive", LockAccessExclusive.String())
	assert.Equal(t, "None", LockNone.String())
}
