package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type ClassificationGroup struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Key         string    `gorm:"type:text;uniqueIndex;not null"`
	Vendor      string    `gorm:"type:text"`
	Product     string    `gorm:"type:text"`
	Version     string    `gorm:"type:text"`
	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Integration struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Name                string            `gorm:"type:text;not null"`
	Kind                string            `gorm:"type:text;not null"`
	SyncIntervalSeconds int               `gorm:"not null;default:3600"`
	Settings            datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt           time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt           time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Asset struct {
	ID           uuid.UUID           `gorm:"type:uuid;primaryKey"`
	OwnerID      uuid.UUID           `gorm:"type:uuid;not null;index"`
	Name         string              `gorm:"type:text;not null"`
	Hostname     *string             `gorm:"type:text;index:idx_assets_hostname,unique,where:hostname IS NOT NULL"`
	MACAddress   *string             `gorm:"type:text;index:idx_assets_mac_address,unique,where:mac_address IS NOT NULL"`
	SerialNumber *string             `gorm:"type:text;index:idx_assets_serial_number,unique,where:serial_number IS NOT NULL"`
	GroupID      uuid.UUID           `gorm:"type:uuid;not null;index"`
	Details      datatypes.JSONMap   `gorm:"type:jsonb"`
	CreatedAt    time.Time           `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Group        ClassificationGroup `gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type Vulnerability struct {
	ID        uuid.UUID           `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	Name      string              `gorm:"type:text;not null"`
	Severity  string              `gorm:"type:text"`
	CVE       *string             `gorm:"type:text;index:idx_vulnerabilities_cve,unique,where:cve IS NOT NULL"`
	GroupID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	Details   datatypes.JSONMap   `gorm:"type:jsonb"`
	CreatedAt time.Time           `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time           `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Group     ClassificationGroup `gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type Remediation struct {
	ID        uuid.UUID           `gorm:"type:uuid;primaryKey"`
	OwnerID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	Name      string              `gorm:"type:text;not null"`
	Summary   string              `gorm:"type:text"`
	GroupID   uuid.UUID           `gorm:"type:uuid;not null;index"`
	Details   datatypes.JSONMap   `gorm:"type:jsonb"`
	CreatedAt time.Time           `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time           `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Group     ClassificationGroup `gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

type ExternalMapping struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey"`
	IntegrationID uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_mappings_integration_external"`
	ExternalID    string      `gorm:"type:text;not null;uniqueIndex:idx_mappings_integration_external"`
	ItemKind      string      `gorm:"type:text;not null"`
	ItemID        uuid.UUID   `gorm:"type:uuid;not null;index"`
	LastSyncedAt  time.Time   `gorm:"type:timestamptz;not null;default:now()"`
	Integration   Integration `gorm:"foreignKey:IntegrationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type SyncRecord struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey"`
	IntegrationID uuid.UUID   `gorm:"type:uuid;not null;index"`
	Status        string      `gorm:"type:text;not null"`
	Message       string      `gorm:"type:text"`
	SyncedAt      time.Time   `gorm:"type:timestamptz;not null;index"`
	Integration   Integration `gorm:"foreignKey:IntegrationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type ArtifactWrapper struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey"`
	OwnerID         uuid.UUID    `gorm:"type:uuid;not null;index"`
	Name            string       `gorm:"type:text;not null"`
	AssetID         *uuid.UUID   `gorm:"type:uuid;index"`
	RemediationID   *uuid.UUID   `gorm:"type:uuid;index"`
	LatestVersionID *uuid.UUID   `gorm:"type:uuid"`
	CreatedAt       time.Time    `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt       time.Time    `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Asset           *Asset       `gorm:"foreignKey:AssetID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Remediation     *Remediation `gorm:"foreignKey:RemediationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type ArtifactVersion struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WrapperID     uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_artifact_versions_wrapper_version"`
	Version       int             `gorm:"not null;uniqueIndex:idx_artifact_versions_wrapper_version"`
	PrevVersionID *uuid.UUID      `gorm:"type:uuid"`
	Kind          string          `gorm:"type:text;not null"`
	Name          string          `gorm:"type:text"`
	URL           *string         `gorm:"type:text"`
	SHA256        *string         `gorm:"type:text"`
	SizeBytes     *int64          `gorm:""`
	CreatedAt     time.Time       `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Wrapper       ArtifactWrapper `gorm:"foreignKey:WrapperID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&ClassificationGroup{},
		&Integration{},
		&Asset{},
		&Vulnerability{},
		&Remediation{},
		&ExternalMapping{},
		&SyncRecord{},
		&ArtifactWrapper{},
		&ArtifactVersion{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Asset{}, "Group"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Vulnerability{}, "Group"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Remediation{}, "Group"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ExternalMapping{}, "Integration"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&SyncRecord{}, "Integration"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ArtifactVersion{}, "Wrapper"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&ArtifactVersion{},
		&ArtifactWrapper{},
		&SyncRecord{},
		&ExternalMapping{},
		&Remediation{},
		&Vulnerability{},
		&Asset{},
		&Integration{},
		&ClassificationGroup{},
	); err != nil {
		return err
	}

	return nil
}
