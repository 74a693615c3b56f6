package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler merges inbound vendor batches into existing items. Matching is
// two-phase per item: the external mapping for (integration, vendor id) is
// authoritative once established; only unmapped items fall back to matching on
// identity attributes. An item supplying no identity attribute at all is never
// matched and always creates a new record, so repeated syncs of such items
// produce duplicates. That is the long-standing observed behavior and callers
// depend on it; do not quietly replace it with a merge.
type Reconciler struct {
	items    ItemStore
	resolver *Resolver
	book     *Bookkeeper
	ownerID  uuid.UUID
	log      zerolog.Logger
	now      func() time.Time
}

// NewReconciler constructs a Reconciler. ownerID is the account that owns
// items created by sync runs.
func NewReconciler(items ItemStore, resolver *Resolver, book *Bookkeeper, ownerID uuid.UUID, log zerolog.Logger) (*Reconciler, error) {
	if items == nil {
		return nil, errors.New("item store is required")
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if book == nil {
		return nil, errors.New("bookkeeper is required")
	}
	if ownerID == uuid.Nil {
		return nil, errors.New("owner id is required")
	}

	return &Reconciler{
		items:    items,
		resolver: resolver,
		book:     book,
		ownerID:  ownerID,
		log:      log,
		now:      time.Now,
	}, nil
}

// Reconcile processes one batch for one integration, item by item in input
// order. Each item's mutation runs in its own store transaction; the first
// persistence error stops the batch, leaving the already-committed prefix in
// place, and is reported through the result rather than returned. The outcome
// is always recorded via the bookkeeper, timestamped at batch start.
func (r *Reconciler) Reconcile(ctx context.Context, integrationID uuid.UUID, batch []VendorItem) Result {
	begin := time.Now()
	start := r.now().UTC()
	res := Result{SyncedAt: start}

	for i, item := range batch {
		if err := r.reconcileItem(ctx, integrationID, item, start, &res); err != nil {
			res.ShouldRetry = true
			res.Message = fmt.Sprintf("item %d (vendor id %q): %v", i, item.VendorID, err)
			r.log.Error().Err(err).
				Str("integration_id", integrationID.String()).
				Str("vendor_id", item.VendorID).
				Int("index", i).
				Msg("reconciliation stopped")
			break
		}
	}

	status := StatusSuccess
	if res.ShouldRetry {
		status = StatusError
	} else {
		res.Message = fmt.Sprintf("synced %d items (%d created, %d updated)",
			res.CreatedItemsCount+res.UpdatedItemsCount, res.CreatedItemsCount, res.UpdatedItemsCount)
	}
	r.book.RecordOutcome(ctx, integrationID, status, res.Message, start)
	observeRun(res, time.Since(begin).Seconds())

	return res
}

func (r *Reconciler) reconcileItem(ctx context.Context, integrationID uuid.UUID, item VendorItem, syncedAt time.Time, res *Result) error {
	if item.VendorID == "" {
		return errors.New("vendor id is required")
	}

	// Phase one: the mapping wins over any attribute match.
	mapping, err := r.items.MappingByExternalID(ctx, integrationID, item.VendorID)
	switch {
	case err == nil:
		group, err := r.resolver.Resolve(ctx, item.Classification)
		if err != nil {
			return err
		}
		if err := r.items.UpdateMappedItem(ctx, mapping, item, group.ID, syncedAt); err != nil {
			return fmt.Errorf("update mapped item: %w", err)
		}
		res.UpdatedItemsCount++
		return nil
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("lookup mapping: %w", err)
	}

	// Phase two: fallback identity match, skipped entirely when the item
	// supplies no identifying attribute.
	if item.Identity().Empty() {
		group, err := r.resolver.Resolve(ctx, item.Classification)
		if err != nil {
			return err
		}
		return r.createItem(ctx, integrationID, item, group.ID, syncedAt, res)
	}

	itemID, err := r.items.FindUnmappedItem(ctx, integrationID, item)
	switch {
	case err == nil:
		group, err := r.resolver.Resolve(ctx, item.Classification)
		if err != nil {
			return err
		}
		if err := r.items.AdoptItem(ctx, integrationID, itemID, item, group.ID, syncedAt); err != nil {
			return fmt.Errorf("adopt item: %w", err)
		}
		res.UpdatedItemsCount++
		return nil
	case errors.Is(err, ErrNotFound):
		group, err := r.resolver.Resolve(ctx, item.Classification)
		if err != nil {
			return err
		}
		return r.createItem(ctx, integrationID, item, group.ID, syncedAt, res)
	default:
		return fmt.Errorf("identity match: %w", err)
	}
}

// createItem inserts the item and its mapping. When the insert loses to a
// concurrent run, signalled by ErrDuplicateIdentity from the store's unique
// constraints, the engine re-runs the match and converges on the committed
// winner instead of failing the batch.
func (r *Reconciler) createItem(ctx context.Context, integrationID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time, res *Result) error {
	_, err := r.items.CreateItem(ctx, integrationID, r.ownerID, item, groupID, syncedAt)
	if err == nil {
		res.CreatedItemsCount++
		return nil
	}
	if !errors.Is(err, ErrDuplicateIdentity) {
		return fmt.Errorf("create item: %w", err)
	}

	r.log.Debug().
		Str("integration_id", integrationID.String()).
		Str("vendor_id", item.VendorID).
		Msg("create lost to concurrent run, re-matching")

	mapping, mapErr := r.items.MappingByExternalID(ctx, integrationID, item.VendorID)
	switch {
	case mapErr == nil:
		if err := r.items.UpdateMappedItem(ctx, mapping, item, groupID, syncedAt); err != nil {
			return fmt.Errorf("update mapped item: %w", err)
		}
		res.UpdatedItemsCount++
		return nil
	case !errors.Is(mapErr, ErrNotFound):
		return fmt.Errorf("lookup mapping: %w", mapErr)
	}

	itemID, findErr := r.items.FindUnmappedItem(ctx, integrationID, item)
	if findErr != nil {
		if errors.Is(findErr, ErrNotFound) {
			return fmt.Errorf("create item: %w", err)
		}
		return fmt.Errorf("identity match: %w", findErr)
	}
	if err := r.items.AdoptItem(ctx, integrationID, itemID, item, groupID, syncedAt); err != nil {
		return fmt.Errorf("adopt item: %w", err)
	}
	res.UpdatedItemsCount++
	return nil
}
