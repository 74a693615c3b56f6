package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookkeeperKeepsBoundedHistory(t *testing.T) {
	store := newMemStore()
	book, err := NewBookkeeper(store, zerolog.Nop())
	require.NoError(t, err)

	integrationID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < historyLimit+2; i++ {
		book.RecordOutcome(context.Background(), integrationID, StatusSuccess, "run", base.Add(time.Duration(i)*time.Hour))
	}

	recs := store.records[integrationID]
	assert.Len(t, recs, historyLimit)

	// The survivors are the newest records; the latest one is untouched.
	latest, err := book.Latest(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Duration(historyLimit+1)*time.Hour), latest.SyncedAt)
	for _, rec := range recs {
		assert.True(t, rec.SyncedAt.After(base.Add(time.Hour)), "old record survived pruning: %v", rec.SyncedAt)
	}
}

func TestBookkeeperHistoryIsPerIntegration(t *testing.T) {
	store := newMemStore()
	book, err := NewBookkeeper(store, zerolog.Nop())
	require.NoError(t, err)

	a, b := uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < historyLimit; i++ {
		book.RecordOutcome(context.Background(), a, StatusSuccess, "a", base.Add(time.Duration(i)*time.Minute))
	}
	book.RecordOutcome(context.Background(), b, StatusError, "b", base)

	assert.Len(t, store.records[a], historyLimit)
	assert.Len(t, store.records[b], 1)
}

func TestBookkeeperSwallowsStoreFailures(t *testing.T) {
	store := newMemStore()
	book, err := NewBookkeeper(store, zerolog.Nop())
	require.NoError(t, err)

	integrationID := uuid.New()

	store.failInsertRec = true
	book.RecordOutcome(context.Background(), integrationID, StatusSuccess, "run", time.Now())
	_, err = book.Latest(context.Background(), integrationID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A prune failure must not undo the already-inserted record.
	store.failInsertRec = false
	store.failPrune = true
	book.RecordOutcome(context.Background(), integrationID, StatusError, "run", time.Now())
	latest, err := book.Latest(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, latest.Status)
}
