package reconcile

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type groupModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key         string    `gorm:"type:text;uniqueIndex;not null"`
	Vendor      string    `gorm:"type:text"`
	Product     string    `gorm:"type:text"`
	Version     string    `gorm:"type:text"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (groupModel) TableName() string { return "classification_groups" }

func (m groupModel) toDomain() ClassificationGroup {
	return ClassificationGroup{
		ID:          m.ID,
		Key:         m.Key,
		Vendor:      m.Vendor,
		Product:     m.Product,
		Version:     m.Version,
		Description: m.Description,
	}
}

type assetModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	Name         string            `gorm:"type:text;not null"`
	Hostname     *string           `gorm:"type:text;index"`
	MACAddress   *string           `gorm:"type:text;index"`
	SerialNumber *string           `gorm:"type:text;index"`
	GroupID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	Details      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (assetModel) TableName() string { return "assets" }

type vulnerabilityModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Name      string            `gorm:"type:text;not null"`
	Severity  string            `gorm:"type:text"`
	CVE       *string           `gorm:"type:text;index"`
	GroupID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (vulnerabilityModel) TableName() string { return "vulnerabilities" }

type remediationModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Name      string            `gorm:"type:text;not null"`
	Summary   string            `gorm:"type:text"`
	GroupID   uuid.UUID         `gorm:"type:uuid;not null;index"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (remediationModel) TableName() string { return "remediations" }

type mappingModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	IntegrationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_mappings_integration_external"`
	ExternalID    string    `gorm:"type:text;not null;uniqueIndex:idx_mappings_integration_external"`
	ItemKind      string    `gorm:"type:text;not null"`
	ItemID        uuid.UUID `gorm:"type:uuid;not null;index"`
	LastSyncedAt  time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

func (mappingModel) TableName() string { return "external_mappings" }

func (m mappingModel) toDomain() ExternalMapping {
	return ExternalMapping{
		ID:            m.ID,
		IntegrationID: m.IntegrationID,
		ExternalID:    m.ExternalID,
		ItemKind:      m.ItemKind,
		ItemID:        m.ItemID,
		LastSyncedAt:  m.LastSyncedAt,
	}
}

type syncRecordModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	IntegrationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Status        string    `gorm:"type:text;not null"`
	Message       string    `gorm:"type:text"`
	SyncedAt      time.Time `gorm:"type:timestamptz;not null;index"`
}

func (syncRecordModel) TableName() string { return "sync_records" }

func (m syncRecordModel) toDomain() SyncRecord {
	return SyncRecord{
		ID:            m.ID,
		IntegrationID: m.IntegrationID,
		Status:        m.Status,
		Message:       m.Message,
		SyncedAt:      m.SyncedAt,
	}
}

type wrapperModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	Name            string     `gorm:"type:text;not null"`
	AssetID         *uuid.UUID `gorm:"type:uuid;index"`
	RemediationID   *uuid.UUID `gorm:"type:uuid;index"`
	LatestVersionID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt       time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (wrapperModel) TableName() string { return "artifact_wrappers" }

func (m wrapperModel) toDomain() ArtifactWrapper {
	return ArtifactWrapper{
		ID:              m.ID,
		OwnerID:         m.OwnerID,
		Name:            m.Name,
		AssetID:         m.AssetID,
		RemediationID:   m.RemediationID,
		LatestVersionID: m.LatestVersionID,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

type versionModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	WrapperID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_artifact_versions_wrapper_version"`
	Version       int        `gorm:"not null;uniqueIndex:idx_artifact_versions_wrapper_version"`
	PrevVersionID *uuid.UUID `gorm:"type:uuid"`
	Kind          string     `gorm:"type:text;not null"`
	Name          string     `gorm:"type:text"`
	URL           *string    `gorm:"type:text"`
	SHA256        *string    `gorm:"type:text"`
	SizeBytes     *int64     `gorm:""`
	CreatedAt     time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (versionModel) TableName() string { return "artifact_versions" }

func (m versionModel) toDomain() ArtifactVersion {
	return ArtifactVersion{
		ID:            m.ID,
		WrapperID:     m.WrapperID,
		Version:       m.Version,
		PrevVersionID: m.PrevVersionID,
		Kind:          m.Kind,
		Name:          m.Name,
		URL:           m.URL,
		SHA256:        m.SHA256,
		SizeBytes:     m.SizeBytes,
		CreatedAt:     m.CreatedAt,
	}
}

func versionFromDomain(v ArtifactVersion) versionModel {
	return versionModel{
		ID:            v.ID,
		WrapperID:     v.WrapperID,
		Version:       v.Version,
		PrevVersionID: v.PrevVersionID,
		Kind:          v.Kind,
		Name:          v.Name,
		URL:           v.URL,
		SHA256:        v.SHA256,
		SizeBytes:     v.SizeBytes,
		CreatedAt:     v.CreatedAt,
	}
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	if src == nil {
		return out
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
