package api

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type integrationModel struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name                string            `gorm:"type:text;not null"`
	Kind                string            `gorm:"type:text;not null"`
	SyncIntervalSeconds int               `gorm:"not null;default:3600"`
	Settings            datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt           time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt           time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (integrationModel) TableName() string { return "integrations" }

func (m integrationModel) toAPI() Integration {
	return Integration{
		ID:                  m.ID,
		Name:                m.Name,
		Kind:                m.Kind,
		SyncIntervalSeconds: m.SyncIntervalSeconds,
		Settings:            mapFromJSONMap(m.Settings),
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

type assetModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID      uuid.UUID         `gorm:"type:uuid;not null"`
	Name         string            `gorm:"type:text;not null"`
	Hostname     *string           `gorm:"type:text"`
	MACAddress   *string           `gorm:"type:text"`
	SerialNumber *string           `gorm:"type:text"`
	GroupID      uuid.UUID         `gorm:"type:uuid;not null"`
	Details      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (assetModel) TableName() string { return "assets" }

func (m assetModel) toAPI() Asset {
	return Asset{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Name:         m.Name,
		Hostname:     stringOrEmpty(m.Hostname),
		MACAddress:   stringOrEmpty(m.MACAddress),
		SerialNumber: stringOrEmpty(m.SerialNumber),
		GroupID:      m.GroupID,
		Details:      mapFromJSONMap(m.Details),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type vulnerabilityModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name      string            `gorm:"type:text;not null"`
	Severity  string            `gorm:"type:text"`
	CVE       *string           `gorm:"type:text"`
	GroupID   uuid.UUID         `gorm:"type:uuid;not null"`
	Details   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (vulnerabilityModel) TableName() string { return "vulnerabilities" }

func (m vulnerabilityModel) toAPI() Vulnerability {
	return Vulnerability{
		ID:        m.ID,
		Name:      m.Name,
		Severity:  m.Severity,
		CVE:       stringOrEmpty(m.CVE),
		GroupID:   m.GroupID,
		Details:   mapFromJSONMap(m.Details),
		CreatedAt: m.CreatedAt,
	}
}

type groupModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key         string    `gorm:"type:text;uniqueIndex;not null"`
	Vendor      string    `gorm:"type:text"`
	Product     string    `gorm:"type:text"`
	Version     string    `gorm:"type:text"`
	Description string    `gorm:"type:text"`
}

func (groupModel) TableName() string { return "classification_groups" }

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
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

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
