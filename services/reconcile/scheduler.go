package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"medwatch/pkg/bus"
	"medwatch/pkg/db"
)

const syncCompletedSubject = "medwatch.sync.completed"

// BatchFetcher retrieves one batch of vendor items for a due integration.
// Transport and authentication against the partner system live behind this
// interface; the scheduler only cares about the due decision and dispatching
// one reconciliation per due integration.
type BatchFetcher interface {
	FetchBatch(ctx context.Context, integration Integration) ([]VendorItem, error)
}

// FetcherFunc adapts a function to the BatchFetcher interface.
type FetcherFunc func(ctx context.Context, integration Integration) ([]VendorItem, error)

// FetchBatch implements BatchFetcher.
func (f FetcherFunc) FetchBatch(ctx context.Context, integration Integration) ([]VendorItem, error) {
	return f(ctx, integration)
}

// Scheduler periodically scans for due integrations and dispatches one
// reconciliation run per due integration.
type Scheduler struct {
	pool       *pgxpool.Pool
	reconciler *Reconciler
	book       *Bookkeeper
	fetcher    BatchFetcher
	events     *bus.Bus
	interval   time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// NewScheduler constructs a Scheduler. events may be nil when no bus is
// configured; completion events are then skipped.
func NewScheduler(pool *pgxpool.Pool, reconciler *Reconciler, book *Bookkeeper, fetcher BatchFetcher, events *bus.Bus, interval time.Duration, log zerolog.Logger) (*Scheduler, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	if reconciler == nil {
		return nil, errors.New("reconciler is required")
	}
	if book == nil {
		return nil, errors.New("bookkeeper is required")
	}
	if fetcher == nil {
		return nil, errors.New("batch fetcher is required")
	}
	if interval <= 0 {
		interval = time.Minute
	}

	return &Scheduler{
		pool:       pool,
		reconciler: reconciler,
		book:       book,
		fetcher:    fetcher,
		events:     events,
		interval:   interval,
		log:        log,
		now:        time.Now,
	}, nil
}

// Due reports whether an integration with the given last sync time and
// configured interval should sync now. A never-synced integration is always
// due.
func Due(lastSyncedAt *time.Time, intervalSeconds int, now time.Time) bool {
	if lastSyncedAt == nil {
		return true
	}
	return !lastSyncedAt.Add(time.Duration(intervalSeconds) * time.Second).After(now)
}

// DueIntegrations returns every integration whose configured interval has
// elapsed since its most recent sync record, or which has never synced.
func (s *Scheduler) DueIntegrations(ctx context.Context, now time.Time) ([]Integration, error) {
	var due []Integration
	err := db.Select(ctx, s.pool, &due, `
SELECT i.id, i.name, i.kind, i.sync_interval_seconds,
       COALESCE(i.settings->>'endpoint', '') AS endpoint
FROM integrations i
LEFT JOIN LATERAL (
    SELECT synced_at
    FROM sync_records r
    WHERE r.integration_id = i.id
    ORDER BY synced_at DESC
    LIMIT 1
) last ON true
WHERE last.synced_at IS NULL
   OR last.synced_at + make_interval(secs => i.sync_interval_seconds) <= $1
ORDER BY i.name
`, now)
	if err != nil {
		return nil, err
	}
	return due, nil
}

// Run scans for due integrations on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := s.now().UTC()

	due, err := s.DueIntegrations(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("scan due integrations")
		return
	}

	for _, integration := range due {
		batch, err := s.fetcher.FetchBatch(ctx, integration)
		if err != nil {
			// A fetch failure is an error outcome for this cycle; the next
			// due scan re-drives the integration.
			s.log.Error().Err(err).
				Str("integration_id", integration.ID.String()).
				Msg("fetch batch")
			s.book.RecordOutcome(ctx, integration.ID, StatusError, fmt.Sprintf("fetch batch: %v", err), now)
			syncRunsTotal.WithLabelValues(StatusError).Inc()
			continue
		}

		res := s.reconciler.Reconcile(ctx, integration.ID, batch)

		s.log.Info().
			Str("integration_id", integration.ID.String()).
			Int("created", res.CreatedItemsCount).
			Int("updated", res.UpdatedItemsCount).
			Bool("should_retry", res.ShouldRetry).
			Msg("reconciliation run finished")

		s.publishResult(ctx, integration, res)
	}
}

func (s *Scheduler) publishResult(ctx context.Context, integration Integration, res Result) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"integration_id": integration.ID,
		"kind":           integration.Kind,
		"result":         res,
	}
	if err := s.events.Publish(ctx, syncCompletedSubject, payload); err != nil {
		s.log.Warn().Err(err).Msg("publish sync completion")
	}
}

// HTTPFetcher pulls vendor batches from the endpoint configured in the
// integration's settings. Integrations without an endpoint yield an empty
// batch, which reconciles as a successful zero-item run.
type HTTPFetcher struct {
	Client *http.Client
}

// FetchBatch implements BatchFetcher.
func (f *HTTPFetcher) FetchBatch(ctx context.Context, integration Integration) ([]VendorItem, error) {
	if integration.Endpoint == "" {
		return nil, nil
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, integration.Endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch batch: unexpected status %d", resp.StatusCode)
	}

	var envelope struct {
		Items []VendorItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return envelope.Items, nil
}
