package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// historyLimit caps the sync records retained per integration. The history is
// a ring of recent outcomes, not an audit log.
const historyLimit = 5

// Bookkeeper records the outcome of each sync batch and keeps per-integration
// history bounded. Recording is pure bookkeeping: failures are logged and
// swallowed so they can never roll back the reconciliation they describe.
type Bookkeeper struct {
	store SyncLogStore
	log   zerolog.Logger
}

// NewBookkeeper constructs a Bookkeeper over the provided sync log store.
func NewBookkeeper(store SyncLogStore, log zerolog.Logger) (*Bookkeeper, error) {
	if store == nil {
		return nil, errors.New("sync log store is required")
	}
	return &Bookkeeper{store: store, log: log}, nil
}

// RecordOutcome inserts one sync record and prunes the integration's history
// down to the retention limit.
func (b *Bookkeeper) RecordOutcome(ctx context.Context, integrationID uuid.UUID, status, message string, at time.Time) {
	rec := SyncRecord{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		Status:        status,
		Message:       message,
		SyncedAt:      at,
	}

	if err := b.store.InsertSyncRecord(ctx, rec); err != nil {
		b.log.Error().Err(err).
			Str("integration_id", integrationID.String()).
			Str("status", status).
			Msg("record sync outcome")
		return
	}

	if err := b.store.PruneSyncRecords(ctx, integrationID, historyLimit); err != nil {
		b.log.Error().Err(err).
			Str("integration_id", integrationID.String()).
			Msg("prune sync history")
	}
}

// Latest returns the most recent sync record for the integration, for status
// indicator purposes.
func (b *Bookkeeper) Latest(ctx context.Context, integrationID uuid.UUID) (SyncRecord, error) {
	return b.store.LatestSyncRecord(ctx, integrationID)
}
