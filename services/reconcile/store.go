package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by store lookups when no row matches. Callers branch
// on it with errors.Is; any other error is a persistence failure.
var ErrNotFound = errors.New("not found")

// ErrDuplicateIdentity is returned by CreateItem when a uniqueness constraint
// on an identity attribute or the external mapping fires, meaning a concurrent
// run committed a matching item between the engine's miss and this insert. The
// engine re-runs the match against the committed winner instead of failing the
// batch.
var ErrDuplicateIdentity = errors.New("duplicate identity")

// GroupStore persists classification groups. InsertGroup must be backed by a
// unique constraint on the key and silently skip the insert on conflict, so
// that a follow-up GroupByKey observes the winning row.
type GroupStore interface {
	GroupByKey(ctx context.Context, key string) (ClassificationGroup, error)
	InsertGroup(ctx context.Context, group ClassificationGroup) error
}

// SyncLogStore persists per-integration sync outcome records.
type SyncLogStore interface {
	InsertSyncRecord(ctx context.Context, rec SyncRecord) error
	// PruneSyncRecords deletes all but the keep most-recently-timestamped
	// records for the integration.
	PruneSyncRecords(ctx context.Context, integrationID uuid.UUID, keep int) error
	LatestSyncRecord(ctx context.Context, integrationID uuid.UUID) (SyncRecord, error)
}

// ItemStore persists domain items and their external mappings. Every mutating
// operation is a single store transaction; the engine never spans a
// transaction across items.
type ItemStore interface {
	MappingByExternalID(ctx context.Context, integrationID uuid.UUID, externalID string) (ExternalMapping, error)

	// UpdateMappedItem touches the mapping's last-synced timestamp and updates
	// the mapped item's mutable fields (including its classification group) in
	// one transaction.
	UpdateMappedItem(ctx context.Context, mapping ExternalMapping, item VendorItem, groupID uuid.UUID, syncedAt time.Time) error

	// FindUnmappedItem searches for an existing item of the same kind matching
	// ANY supplied identity attribute that has no mapping yet for the given
	// integration. Returns ErrNotFound when nothing matches.
	FindUnmappedItem(ctx context.Context, integrationID uuid.UUID, item VendorItem) (uuid.UUID, error)

	// AdoptItem creates a mapping for an existing item and updates the item's
	// fields in one transaction.
	AdoptItem(ctx context.Context, integrationID uuid.UUID, itemID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time) error

	// CreateItem creates a brand-new item together with its mapping in one
	// transaction and returns the new item id.
	CreateItem(ctx context.Context, integrationID uuid.UUID, ownerID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time) (uuid.UUID, error)
}

// ArtifactTx exposes the operations available inside one artifact store
// transaction. WrapperForUpdate must take a row-level lock so concurrent
// version appends against the same wrapper serialize at the store too.
type ArtifactTx interface {
	WrapperForUpdate(ctx context.Context, wrapperID uuid.UUID) (ArtifactWrapper, error)
	VersionByID(ctx context.Context, versionID uuid.UUID) (ArtifactVersion, error)
	InsertWrapper(ctx context.Context, wrapper ArtifactWrapper) error
	InsertVersion(ctx context.Context, version ArtifactVersion) error
	SetLatestVersion(ctx context.Context, wrapperID, versionID uuid.UUID) error
}

// VersionMetaUpdate carries the editable, non-identity metadata of a version.
// Nil fields are left untouched.
type VersionMetaUpdate struct {
	Name      *string
	Kind      *string
	SizeBytes *int64
}

// ArtifactStore persists wrappers and their version chains.
type ArtifactStore interface {
	// InTx runs fn inside a single store transaction, rolling back on error.
	InTx(ctx context.Context, fn func(tx ArtifactTx) error) error

	VersionsPage(ctx context.Context, wrapperID uuid.UUID, limit, offset int) ([]ArtifactVersion, int64, error)
	VersionByID(ctx context.Context, versionID uuid.UUID) (ArtifactVersion, error)
	UpdateVersionMeta(ctx context.Context, versionID uuid.UUID, meta VersionMetaUpdate) (ArtifactVersion, error)
}
