package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultVersionsPerPage = 50
	maxVersionsPerPage     = 200
)

// ErrVersionContentMissing is returned when a version input carries neither a
// retrievable location nor a content hash.
var ErrVersionContentMissing = errors.New("artifact version requires a url or a sha256")

// Chain manages artifact wrappers and their immutable, backward-linked version
// history. Appends against the same wrapper are serialized twice: by a
// per-wrapper mutex in this process and by the store's row lock inside the
// transaction, so two concurrent calls can never compute the same next version.
type Chain struct {
	store ArtifactStore

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewChain constructs a Chain over the provided artifact store.
func NewChain(store ArtifactStore) (*Chain, error) {
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	return &Chain{
		store: store,
		locks: make(map[uuid.UUID]*sync.Mutex),
	}, nil
}

// Validate checks that the input carries at least one content reference.
func (in VersionInput) Validate() error {
	if in.Kind == "" {
		return errors.New("artifact version kind is required")
	}
	if in.URL == "" && in.SHA256 == "" {
		return ErrVersionContentMissing
	}
	return nil
}

// CreateVersion appends one new immutable version to the wrapper's chain: the
// new version number is the current latest plus one (or 1 for an empty
// wrapper), its prev pointer references the superseded version, and the
// wrapper's latest pointer is repointed, all in one store transaction.
func (c *Chain) CreateVersion(ctx context.Context, wrapperID uuid.UUID, input VersionInput) (ArtifactVersion, error) {
	if err := input.Validate(); err != nil {
		return ArtifactVersion{}, err
	}

	lock := c.wrapperLock(wrapperID)
	lock.Lock()
	defer lock.Unlock()

	var created ArtifactVersion
	err := c.store.InTx(ctx, func(tx ArtifactTx) error {
		wrapper, err := tx.WrapperForUpdate(ctx, wrapperID)
		if err != nil {
			return err
		}

		version, err := appendVersion(ctx, tx, wrapper, input, time.Now().UTC())
		if err != nil {
			return err
		}
		created = version
		return nil
	})
	if err != nil {
		return ArtifactVersion{}, err
	}
	return created, nil
}

// CreateWrappersForItem creates one wrapper per input, scoped to the owning
// item, and seeds each at version 1. Used at item-creation time.
func (c *Chain) CreateWrappersForItem(ctx context.Context, ownerID uuid.UUID, ref ItemRef, inputs []VersionInput) ([]ArtifactWrapper, error) {
	if ref.AssetID == nil && ref.RemediationID == nil {
		return nil, errors.New("wrapper requires an owning item")
	}
	for _, input := range inputs {
		if err := input.Validate(); err != nil {
			return nil, err
		}
	}

	wrappers := make([]ArtifactWrapper, 0, len(inputs))
	for _, input := range inputs {
		now := time.Now().UTC()
		wrapper := ArtifactWrapper{
			ID:            uuid.New(),
			OwnerID:       ownerID,
			Name:          input.Name,
			AssetID:       ref.AssetID,
			RemediationID: ref.RemediationID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if wrapper.Name == "" {
			wrapper.Name = input.Kind
		}

		err := c.store.InTx(ctx, func(tx ArtifactTx) error {
			if err := tx.InsertWrapper(ctx, wrapper); err != nil {
				return err
			}
			version, err := appendVersion(ctx, tx, wrapper, input, now)
			if err != nil {
				return err
			}
			latest := version.ID
			wrapper.LatestVersionID = &latest
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("seed wrapper %s: %w", wrapper.ID, err)
		}
		wrappers = append(wrappers, wrapper)
	}
	return wrappers, nil
}

// ListVersions returns one page of the wrapper's versions ordered by version
// number ascending. Page numbering starts at 1.
func (c *Chain) ListVersions(ctx context.Context, wrapperID uuid.UUID, page, perPage int) (VersionPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultVersionsPerPage
	}
	if perPage > maxVersionsPerPage {
		perPage = maxVersionsPerPage
	}

	items, total, err := c.store.VersionsPage(ctx, wrapperID, perPage, (page-1)*perPage)
	if err != nil {
		return VersionPage{}, err
	}
	return VersionPage{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// Version returns a single version by id, regardless of latest status.
func (c *Chain) Version(ctx context.Context, versionID uuid.UUID) (ArtifactVersion, error) {
	return c.store.VersionByID(ctx, versionID)
}

// UpdateVersionMeta edits a version's non-identity metadata without creating a
// new version. Version number, prev pointer, and content references never
// change through this path.
func (c *Chain) UpdateVersionMeta(ctx context.Context, versionID uuid.UUID, meta VersionMetaUpdate) (ArtifactVersion, error) {
	return c.store.UpdateVersionMeta(ctx, versionID, meta)
}

// wrapperLock returns the append mutex for the wrapper. Entries are kept for
// the life of the process, one mutex per wrapper touched; nothing evicts them,
// so long-running processes hold a few dozen bytes per distinct wrapper seen.
func (c *Chain) wrapperLock(wrapperID uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[wrapperID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[wrapperID] = lock
	}
	return lock
}

// appendVersion performs the read-latest/compute-next/insert/repoint sequence
// against an already-locked wrapper inside the caller's transaction.
func appendVersion(ctx context.Context, tx ArtifactTx, wrapper ArtifactWrapper, input VersionInput, now time.Time) (ArtifactVersion, error) {
	next := 1
	var prevID *uuid.UUID
	if wrapper.LatestVersionID != nil {
		latest, err := tx.VersionByID(ctx, *wrapper.LatestVersionID)
		if err != nil {
			return ArtifactVersion{}, fmt.Errorf("read latest version: %w", err)
		}
		next = latest.Version + 1
		id := latest.ID
		prevID = &id
	}

	version := ArtifactVersion{
		ID:            uuid.New(),
		WrapperID:     wrapper.ID,
		Version:       next,
		PrevVersionID: prevID,
		Kind:          input.Kind,
		Name:          input.Name,
		CreatedAt:     now,
	}
	if input.URL != "" {
		url := input.URL
		version.URL = &url
	}
	if input.SHA256 != "" {
		sum := input.SHA256
		version.SHA256 = &sum
	}
	if input.SizeBytes > 0 {
		size := input.SizeBytes
		version.SizeBytes = &size
	}

	if err := tx.InsertVersion(ctx, version); err != nil {
		return ArtifactVersion{}, fmt.Errorf("insert version %d: %w", next, err)
	}
	if err := tx.SetLatestVersion(ctx, wrapper.ID, version.ID); err != nil {
		return ArtifactVersion{}, fmt.Errorf("repoint latest: %w", err)
	}
	return version, nil
}
