package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T, store *memStore) *Reconciler {
	t.Helper()

	resolver, err := NewResolver(store)
	require.NoError(t, err)
	book, err := NewBookkeeper(store, zerolog.Nop())
	require.NoError(t, err)
	rec, err := NewReconciler(store, resolver, book, uuid.New(), zerolog.Nop())
	require.NoError(t, err)
	return rec
}

func TestReconcileCreatesThenUpdatesViaMapping(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	batch := []VendorItem{{
		VendorID:       "scanner-001",
		Kind:           ItemKindAsset,
		Name:           "Infusion Pump A",
		Classification: "acme/pump/3.1",
		Hostname:       "pump-a.icu.local",
	}}

	first := rec.Reconcile(context.Background(), integrationID, batch)
	assert.Equal(t, 1, first.CreatedItemsCount)
	assert.Equal(t, 0, first.UpdatedItemsCount)
	assert.False(t, first.ShouldRetry)
	assert.Equal(t, "synced 1 items (1 created, 0 updated)", first.Message)

	// The second run must reach the same item through its mapping, not
	// create a twin.
	batch[0].Name = "Infusion Pump A (renamed)"
	second := rec.Reconcile(context.Background(), integrationID, batch)
	assert.Equal(t, 0, second.CreatedItemsCount)
	assert.Equal(t, 1, second.UpdatedItemsCount)

	require.Len(t, store.items, 1)
	for _, item := range store.items {
		assert.Equal(t, "Infusion Pump A (renamed)", item.Name)
	}

	latest, err := store.LatestSyncRecord(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, latest.Status)
}

func TestReconcileAdoptsExistingItemByIdentity(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	existingID := store.seedItem(ItemKindAsset, "Manually entered pump", Identity{Hostname: "pump-b.icu.local"})

	res := rec.Reconcile(context.Background(), integrationID, []VendorItem{{
		VendorID:       "scanner-002",
		Kind:           ItemKindAsset,
		Name:           "Infusion Pump B",
		Classification: "acme/pump/3.1",
		Hostname:       "pump-b.icu.local",
		SerialNumber:   "SN-0042",
	}})

	assert.Equal(t, 0, res.CreatedItemsCount)
	assert.Equal(t, 1, res.UpdatedItemsCount)
	require.Len(t, store.items, 1)

	adopted := store.items[existingID]
	assert.Equal(t, "Infusion Pump B", adopted.Name)
	assert.Equal(t, "SN-0042", adopted.Identity.SerialNumber)

	mapping, err := store.MappingByExternalID(context.Background(), integrationID, "scanner-002")
	require.NoError(t, err)
	assert.Equal(t, existingID, mapping.ItemID)
}

func TestReconcileMappingWinsOverIdentityMatch(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	// First sync establishes the mapping for scanner-003.
	rec.Reconcile(context.Background(), integrationID, []VendorItem{{
		VendorID:       "scanner-003",
		Kind:           ItemKindAsset,
		Name:           "Monitor",
		Classification: "acme/monitor/1.0",
		Hostname:       "mon-1.ward.local",
	}})
	mapping, err := store.MappingByExternalID(context.Background(), integrationID, "scanner-003")
	require.NoError(t, err)

	// A different existing item now carries the hostname the next payload
	// reports. The established mapping must still win.
	decoyID := store.seedItem(ItemKindAsset, "Decoy", Identity{Hostname: "mon-1b.ward.local"})

	res := rec.Reconcile(context.Background(), integrationID, []VendorItem{{
		VendorID:       "scanner-003",
		Kind:           ItemKindAsset,
		Name:           "Monitor (moved)",
		Classification: "acme/monitor/1.0",
		Hostname:       "mon-1b.ward.local",
	}})

	assert.Equal(t, 1, res.UpdatedItemsCount)
	assert.Equal(t, "Monitor (moved)", store.items[mapping.ItemID].Name)
	assert.Equal(t, "Decoy", store.items[decoyID].Name)
}

func TestReconcileEmptyIdentityAlwaysCreates(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	makeItem := func(vendorID string) VendorItem {
		return VendorItem{
			VendorID:       vendorID,
			Kind:           ItemKindRemediation,
			Name:           "Apply firmware patch",
			Classification: "acme/pump/3.1",
			Summary:        "Patch to firmware 3.1.7",
		}
	}

	first := rec.Reconcile(context.Background(), integrationID, []VendorItem{makeItem("rem-1")})
	second := rec.Reconcile(context.Background(), integrationID, []VendorItem{makeItem("rem-2")})

	// No identity attribute means no fallback match: identical content under
	// distinct vendor ids duplicates rather than merges.
	assert.Equal(t, 1, first.CreatedItemsCount)
	assert.Equal(t, 1, second.CreatedItemsCount)
	assert.Len(t, store.items, 2)
}

func TestReconcileCreateConflictAdoptsConcurrentWinner(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	// Another run committed a matching asset between this run's identity
	// lookup and its insert. The lookup misses once, the insert then trips
	// the unique constraint on hostname.
	winnerID := store.seedItem(ItemKindAsset, "Committed first", Identity{Hostname: "pump-c.icu.local"})
	store.missFindOnce = true

	res := rec.Reconcile(context.Background(), integrationID, []VendorItem{{
		VendorID:       "scanner-004",
		Kind:           ItemKindAsset,
		Name:           "Infusion Pump C",
		Classification: "acme/pump/3.1",
		Hostname:       "pump-c.icu.local",
	}})

	assert.False(t, res.ShouldRetry)
	assert.Equal(t, 0, res.CreatedItemsCount)
	assert.Equal(t, 1, res.UpdatedItemsCount)
	require.Len(t, store.items, 1)

	mapping, err := store.MappingByExternalID(context.Background(), integrationID, "scanner-004")
	require.NoError(t, err)
	assert.Equal(t, winnerID, mapping.ItemID)
	assert.Equal(t, "Infusion Pump C", store.items[winnerID].Name)
}

func TestReconcileEmptyBatch(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	res := rec.Reconcile(context.Background(), integrationID, nil)

	assert.False(t, res.ShouldRetry)
	assert.Equal(t, 0, res.CreatedItemsCount)
	assert.Equal(t, 0, res.UpdatedItemsCount)
	assert.Equal(t, "synced 0 items (0 created, 0 updated)", res.Message)

	latest, err := store.LatestSyncRecord(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, latest.Status)
}

func TestReconcilePartialFailureKeepsCommittedPrefix(t *testing.T) {
	store := newMemStore()
	store.failVendorID = "scanner-bad"
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	res := rec.Reconcile(context.Background(), integrationID, []VendorItem{
		{VendorID: "scanner-ok-1", Kind: ItemKindAsset, Name: "A", Classification: "acme/pump/3.1", Hostname: "h1"},
		{VendorID: "scanner-bad", Kind: ItemKindAsset, Name: "B", Classification: "acme/pump/3.1", Hostname: "h2"},
		{VendorID: "scanner-ok-2", Kind: ItemKindAsset, Name: "C", Classification: "acme/pump/3.1", Hostname: "h3"},
	})

	assert.True(t, res.ShouldRetry)
	assert.Equal(t, 1, res.CreatedItemsCount)
	assert.Contains(t, res.Message, `item 1 (vendor id "scanner-bad")`)

	// The first item stays committed, the third was never attempted.
	assert.Len(t, store.items, 1)
	_, err := store.MappingByExternalID(context.Background(), integrationID, "scanner-ok-2")
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := store.LatestSyncRecord(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, latest.Status)
}

func TestReconcileRejectsMissingVendorID(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)

	res := rec.Reconcile(context.Background(), uuid.New(), []VendorItem{{
		Kind:           ItemKindAsset,
		Name:           "No vendor id",
		Classification: "acme/pump/3.1",
	}})

	assert.True(t, res.ShouldRetry)
	assert.Contains(t, res.Message, "vendor id is required")
	assert.Empty(t, store.items)
}

func TestReconcileObservesRunMetrics(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)

	successBefore := testutil.ToFloat64(syncRunsTotal.WithLabelValues(StatusSuccess))
	createdBefore := testutil.ToFloat64(itemsCreatedTotal)

	res := rec.Reconcile(context.Background(), uuid.New(), []VendorItem{{
		VendorID:       "scanner-005",
		Kind:           ItemKindAsset,
		Name:           "Ventilator",
		Classification: "acme/vent/2.0",
		Hostname:       "vent-1.icu.local",
	}})
	require.False(t, res.ShouldRetry)

	// The engine itself observes the run, so API-triggered syncs count the
	// same as scheduler ticks.
	assert.Equal(t, successBefore+1, testutil.ToFloat64(syncRunsTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, createdBefore+1, testutil.ToFloat64(itemsCreatedTotal))
}

func TestReconcileOutcomeTimestampedAtBatchStart(t *testing.T) {
	store := newMemStore()
	rec := newTestReconciler(t, store)
	integrationID := uuid.New()

	start := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	rec.now = func() time.Time { return start }

	res := rec.Reconcile(context.Background(), integrationID, nil)
	assert.Equal(t, start, res.SyncedAt)

	latest, err := store.LatestSyncRecord(context.Background(), integrationID)
	require.NoError(t, err)
	assert.Equal(t, start, latest.SyncedAt)
}
