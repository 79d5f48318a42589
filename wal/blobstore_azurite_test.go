//go:build integration && azurite

package wal

import (
	"context"
	"testing"

	"github.com/forestrie/go-snowflake/flaketesting"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAzuriteStore(t *testing.T, container string) *BlobStore {
	tc := flaketesting.NewAzuriteTestContext(t, flaketesting.TestConfig{TestLabelPrefix: container})
	store := NewBlobStore(tc.GetStorer(), uuid.New())
	t.Cleanup(func() { tc.DeleteBlobsByPrefix(LogPrefix(store.LogID())) })
	return store
}

func TestBlobStore(t *testing.T) {
	testSegmentStore(t, newAzuriteStore(t, "testblobstore"))
}

func TestBlobStoreLog(t *testing.T) {
	ctx := context.Background()
	store := newAzuriteStore(t, "testblobstorelog")

	l := openTestLog(t, store, WithMaxSegmentRecords(2))
	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, testRecord(1, byte(i)))
		require.NoError(t, err)
	}
	require.NoError(t, l.Checkpoint(ctx, 5))

	l2 := openTestLog(t, store, WithMaxSegmentRecords(2))
	assert.Equal(t, LSN(6), l2.InsertPosition())
	assert.Equal(t, []uint32{2}, l2.Segments())
	got := replayAll(t, l2, l2.RedoPoint())
	require.Len(t, got, 1)
	assert.Equal(t, LSN(5), got[0].LSN)
}
