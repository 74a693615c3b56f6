package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Resolver maps classification keys to canonical classification groups,
// creating a group on first reference. Creation is "insert, then re-read": the
// insert relies on the store's unique key constraint, so two concurrent first
// uses of the same key converge on the single winning row.
type Resolver struct {
	groups GroupStore
}

// NewResolver constructs a Resolver over the provided group store.
func NewResolver(groups GroupStore) (*Resolver, error) {
	if groups == nil {
		return nil, errors.New("group store is required")
	}
	return &Resolver{groups: groups}, nil
}

// Resolve returns the group for the given classification key, creating it with
// only the key populated if it does not exist yet.
func (r *Resolver) Resolve(ctx context.Context, key string) (ClassificationGroup, error) {
	if key == "" {
		return ClassificationGroup{}, errors.New("classification key is required")
	}

	group := ClassificationGroup{ID: uuid.New(), Key: key}
	if err := r.groups.InsertGroup(ctx, group); err != nil {
		return ClassificationGroup{}, fmt.Errorf("insert group %q: %w", key, err)
	}

	// Re-read regardless of whether the insert won: on conflict the store kept
	// the existing row and our generated id is stale.
	resolved, err := r.groups.GroupByKey(ctx, key)
	if err != nil {
		return ClassificationGroup{}, fmt.Errorf("read group %q: %w", key, err)
	}
	return resolved, nil
}

// ResolveAll resolves every key independently and in parallel, returning the
// groups in input order. Duplicate keys resolve to the same group; no
// de-duplication of the result is performed.
func (r *Resolver) ResolveAll(ctx context.Context, keys []string) ([]ClassificationGroup, error) {
	groups := make([]ClassificationGroup, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			groups[i], errs[i] = r.Resolve(ctx, key)
		}(i, key)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return groups, nil
}
