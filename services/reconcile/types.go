package reconcile

import (
	"time"

	"github.com/google/uuid"
)

// Item kinds the reconciliation engine knows how to persist.
const (
	ItemKindAsset         = "asset"
	ItemKindVulnerability = "vulnerability"
	ItemKindRemediation   = "remediation"
)

// Sync outcome statuses recorded by the bookkeeper.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// VendorItem is one inbound record from a third-party integration. VendorID is
// the partner system's own identifier and the primary matching key; identity
// attributes are optional and empty strings mean "not supplied".
type VendorItem struct {
	VendorID       string         `json:"vendor_id"`
	Kind           string         `json:"kind"`
	Name           string         `json:"name"`
	Classification string         `json:"classification"`
	Hostname       string         `json:"hostname,omitempty"`
	MACAddress     string         `json:"mac_address,omitempty"`
	SerialNumber   string         `json:"serial_number,omitempty"`
	CVE            string         `json:"cve,omitempty"`
	Severity       string         `json:"severity,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

// Identity is the set of optional identifying attributes used by the fallback
// match when no external mapping exists yet.
type Identity struct {
	Hostname     string
	MACAddress   string
	SerialNumber string
	CVE          string
}

// Identity extracts the identifying attributes supplied on the item.
func (it VendorItem) Identity() Identity {
	return Identity{
		Hostname:     it.Hostname,
		MACAddress:   it.MACAddress,
		SerialNumber: it.SerialNumber,
		CVE:          it.CVE,
	}
}

// Empty reports whether no identifying attribute was supplied at all.
func (id Identity) Empty() bool {
	return id.Hostname == "" && id.MACAddress == "" && id.SerialNumber == "" && id.CVE == ""
}

// Result summarises one reconciliation run over a single integration's batch.
// ShouldRetry is advisory: the scheduler re-drives the integration on its next
// due cycle, the engine itself never retries.
type Result struct {
	Message           string    `json:"message"`
	CreatedItemsCount int       `json:"createdItemsCount"`
	UpdatedItemsCount int       `json:"updatedItemsCount"`
	ShouldRetry       bool      `json:"shouldRetry"`
	SyncedAt          time.Time `json:"syncedAt"`
}

// ClassificationGroup is the canonical device/product class for a
// classification key. Groups are created lazily and never deleted here.
type ClassificationGroup struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Key         string    `json:"key" db:"key"`
	Vendor      string    `json:"vendor" db:"vendor"`
	Product     string    `json:"product" db:"product"`
	Version     string    `json:"version" db:"version"`
	Description string    `json:"description" db:"description"`
}

// ExternalMapping links one (integration, external id) pair to exactly one
// item. Once established it is authoritative and never repointed.
type ExternalMapping struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	ExternalID    string    `json:"external_id"`
	ItemKind      string    `json:"item_kind"`
	ItemID        uuid.UUID `json:"item_id"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
}

// SyncRecord is one bookkeeping entry for a sync batch.
type SyncRecord struct {
	ID            uuid.UUID `json:"id"`
	IntegrationID uuid.UUID `json:"integration_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	SyncedAt      time.Time `json:"synced_at"`
}

// Integration describes a configured third-party source, as needed by the
// scheduler's due decision. Endpoint is pulled out of the integration's
// settings for the batch fetcher.
type Integration struct {
	ID                  uuid.UUID `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Kind                string    `json:"kind" db:"kind"`
	SyncIntervalSeconds int       `json:"sync_interval_seconds" db:"sync_interval_seconds"`
	Endpoint            string    `json:"endpoint,omitempty" db:"endpoint"`
}

// ArtifactWrapper is the stable, version-independent handle for a downloadable
// artifact. LatestVersionID is nil until the first version exists.
type ArtifactWrapper struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	Name            string     `json:"name"`
	AssetID         *uuid.UUID `json:"asset_id,omitempty"`
	RemediationID   *uuid.UUID `json:"remediation_id,omitempty"`
	LatestVersionID *uuid.UUID `json:"latest_version_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ArtifactVersion is one immutable version of a wrapper's content. Version
// numbers within a wrapper are contiguous integers starting at 1 and
// PrevVersionID walks the chain back to version 1.
type ArtifactVersion struct {
	ID            uuid.UUID  `json:"id"`
	WrapperID     uuid.UUID  `json:"wrapper_id"`
	Version       int        `json:"version"`
	PrevVersionID *uuid.UUID `json:"prev_version_id,omitempty"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name,omitempty"`
	URL           *string    `json:"url,omitempty"`
	SHA256        *string    `json:"sha256,omitempty"`
	SizeBytes     *int64     `json:"size_bytes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// VersionInput supplies the content of a new artifact version. At least one of
// URL or SHA256 is required.
type VersionInput struct {
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// ItemRef scopes an artifact wrapper to its owning item.
type ItemRef struct {
	AssetID       *uuid.UUID
	RemediationID *uuid.UUID
}

// VersionPage is one page of a wrapper's version history, ordered by version
// number ascending.
type VersionPage struct {
	Items   []ArtifactVersion `json:"items"`
	Total   int64             `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}
