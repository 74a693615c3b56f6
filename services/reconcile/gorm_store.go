package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the PostgreSQL-backed implementation of the engine's store
// contracts. It is constructed once at application start and injected into
// each component; no package-level connection state exists.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore wraps the provided GORM handle.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

var (
	_ GroupStore    = (*GormStore)(nil)
	_ SyncLogStore  = (*GormStore)(nil)
	_ ItemStore     = (*GormStore)(nil)
	_ ArtifactStore = (*GormStore)(nil)
)

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GroupByKey returns the group for an exact classification key match.
func (s *GormStore) GroupByKey(ctx context.Context, key string) (ClassificationGroup, error) {
	var model groupModel
	if err := s.orm.WithContext(ctx).First(&model, "key = ?", key).Error; err != nil {
		return ClassificationGroup{}, mapNotFound(err)
	}
	return model.toDomain(), nil
}

// InsertGroup inserts a group, skipping the insert when the key already
// exists. The unique index on key arbitrates concurrent first use.
func (s *GormStore) InsertGroup(ctx context.Context, group ClassificationGroup) error {
	model := groupModel{
		ID:          group.ID,
		Key:         group.Key,
		Vendor:      group.Vendor,
		Product:     group.Product,
		Version:     group.Version,
		Description: group.Description,
	}
	return s.orm.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&model).Error
}

// InsertSyncRecord persists one sync outcome record.
func (s *GormStore) InsertSyncRecord(ctx context.Context, rec SyncRecord) error {
	model := syncRecordModel{
		ID:            rec.ID,
		IntegrationID: rec.IntegrationID,
		Status:        rec.Status,
		Message:       rec.Message,
		SyncedAt:      rec.SyncedAt,
	}
	return s.orm.WithContext(ctx).Create(&model).Error
}

// PruneSyncRecords deletes all but the keep most recent records for the
// integration.
func (s *GormStore) PruneSyncRecords(ctx context.Context, integrationID uuid.UUID, keep int) error {
	return s.orm.WithContext(ctx).Exec(`
DELETE FROM sync_records
WHERE integration_id = ?
  AND id NOT IN (
      SELECT id FROM sync_records
      WHERE integration_id = ?
      ORDER BY synced_at DESC
      LIMIT ?
  )
`, integrationID, integrationID, keep).Error
}

// LatestSyncRecord returns the most recent record for the integration.
func (s *GormStore) LatestSyncRecord(ctx context.Context, integrationID uuid.UUID) (SyncRecord, error) {
	var model syncRecordModel
	err := s.orm.WithContext(ctx).
		Where("integration_id = ?", integrationID).
		Order("synced_at DESC").
		First(&model).Error
	if err != nil {
		return SyncRecord{}, mapNotFound(err)
	}
	return model.toDomain(), nil
}

// MappingByExternalID looks up the mapping for (integration, external id).
func (s *GormStore) MappingByExternalID(ctx context.Context, integrationID uuid.UUID, externalID string) (ExternalMapping, error) {
	var model mappingModel
	err := s.orm.WithContext(ctx).
		Where("integration_id = ? AND external_id = ?", integrationID, externalID).
		First(&model).Error
	if err != nil {
		return ExternalMapping{}, mapNotFound(err)
	}
	return model.toDomain(), nil
}

// UpdateMappedItem touches the mapping and updates the mapped item in one
// transaction.
func (s *GormStore) UpdateMappedItem(ctx context.Context, mapping ExternalMapping, item VendorItem, groupID uuid.UUID, syncedAt time.Time) error {
	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&mappingModel{}).
			Where("id = ?", mapping.ID).
			Update("last_synced_at", syncedAt).Error
		if err != nil {
			return err
		}
		return updateItemFields(tx, mapping.ItemKind, mapping.ItemID, item, groupID)
	})
}

// FindUnmappedItem searches for an item of the batch's kind matching any
// supplied identity attribute that has no mapping yet for this integration.
func (s *GormStore) FindUnmappedItem(ctx context.Context, integrationID uuid.UUID, item VendorItem) (uuid.UUID, error) {
	identity := item.Identity()

	var conds []string
	var args []any
	switch item.Kind {
	case ItemKindAsset:
		if identity.Hostname != "" {
			conds, args = append(conds, "hostname = ?"), append(args, identity.Hostname)
		}
		if identity.MACAddress != "" {
			conds, args = append(conds, "mac_address = ?"), append(args, identity.MACAddress)
		}
		if identity.SerialNumber != "" {
			conds, args = append(conds, "serial_number = ?"), append(args, identity.SerialNumber)
		}
	case ItemKindVulnerability:
		if identity.CVE != "" {
			conds, args = append(conds, "cve = ?"), append(args, identity.CVE)
		}
	}
	if len(conds) == 0 {
		return uuid.Nil, ErrNotFound
	}

	table, err := itemTable(item.Kind)
	if err != nil {
		return uuid.Nil, err
	}

	var row struct {
		ID uuid.UUID
	}
	query := fmt.Sprintf(`
SELECT id FROM %s
WHERE (%s)
  AND NOT EXISTS (
      SELECT 1 FROM external_mappings em
      WHERE em.item_id = %s.id AND em.integration_id = ?
  )
ORDER BY created_at ASC
LIMIT 1
`, table, strings.Join(conds, " OR "), table)
	args = append(args, integrationID)

	if err := s.orm.WithContext(ctx).Raw(query, args...).Take(&row).Error; err != nil {
		return uuid.Nil, mapNotFound(err)
	}
	return row.ID, nil
}

// AdoptItem creates a mapping for an existing item and updates the item in
// one transaction.
func (s *GormStore) AdoptItem(ctx context.Context, integrationID uuid.UUID, itemID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time) error {
	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mapping := mappingModel{
			ID:            uuid.New(),
			IntegrationID: integrationID,
			ExternalID:    item.VendorID,
			ItemKind:      item.Kind,
			ItemID:        itemID,
			LastSyncedAt:  syncedAt,
		}
		if err := tx.Create(&mapping).Error; err != nil {
			return err
		}
		return updateItemFields(tx, item.Kind, itemID, item, groupID)
	})
}

// CreateItem creates a brand-new item together with its mapping in one
// transaction. A unique violation on an identity attribute or the mapping is
// surfaced as ErrDuplicateIdentity so the engine can re-match against the row
// a concurrent run committed first.
func (s *GormStore) CreateItem(ctx context.Context, integrationID uuid.UUID, ownerID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time) (uuid.UUID, error) {
	itemID := uuid.New()
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := insertItem(tx, itemID, ownerID, item, groupID); err != nil {
			return err
		}
		mapping := mappingModel{
			ID:            uuid.New(),
			IntegrationID: integrationID,
			ExternalID:    item.VendorID,
			ItemKind:      item.Kind,
			ItemID:        itemID,
			LastSyncedAt:  syncedAt,
		}
		return tx.Create(&mapping).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("%w: %s %q", ErrDuplicateIdentity, item.Kind, item.VendorID)
		}
		return uuid.Nil, err
	}
	return itemID, nil
}

func itemTable(kind string) (string, error) {
	switch kind {
	case ItemKindAsset:
		return "assets", nil
	case ItemKindVulnerability:
		return "vulnerabilities", nil
	case ItemKindRemediation:
		return "remediations", nil
	default:
		return "", fmt.Errorf("unknown item kind %q", kind)
	}
}

func insertItem(tx *gorm.DB, itemID, ownerID uuid.UUID, item VendorItem, groupID uuid.UUID) error {
	switch item.Kind {
	case ItemKindAsset:
		return tx.Create(&assetModel{
			ID:           itemID,
			OwnerID:      ownerID,
			Name:         item.Name,
			Hostname:     optional(item.Hostname),
			MACAddress:   optional(item.MACAddress),
			SerialNumber: optional(item.SerialNumber),
			GroupID:      groupID,
			Details:      toJSONMap(item.Details),
		}).Error
	case ItemKindVulnerability:
		return tx.Create(&vulnerabilityModel{
			ID:       itemID,
			OwnerID:  ownerID,
			Name:     item.Name,
			Severity: item.Severity,
			CVE:      optional(item.CVE),
			GroupID:  groupID,
			Details:  toJSONMap(item.Details),
		}).Error
	case ItemKindRemediation:
		return tx.Create(&remediationModel{
			ID:      itemID,
			OwnerID: ownerID,
			Name:    item.Name,
			Summary: item.Summary,
			GroupID: groupID,
			Details: toJSONMap(item.Details),
		}).Error
	default:
		return fmt.Errorf("unknown item kind %q", item.Kind)
	}
}

// updateItemFields overwrites the item's mutable fields with the inbound
// record. Identity attributes are only overwritten when supplied; an absent
// attribute never clears a stored one.
func updateItemFields(tx *gorm.DB, kind string, itemID uuid.UUID, item VendorItem, groupID uuid.UUID) error {
	updates := map[string]any{
		"group_id":   groupID,
		"updated_at": time.Now().UTC(),
	}
	if item.Name != "" {
		updates["name"] = item.Name
	}
	if item.Details != nil {
		updates["details"] = toJSONMap(item.Details)
	}

	var model any
	switch kind {
	case ItemKindAsset:
		if item.Hostname != "" {
			updates["hostname"] = item.Hostname
		}
		if item.MACAddress != "" {
			updates["mac_address"] = item.MACAddress
		}
		if item.SerialNumber != "" {
			updates["serial_number"] = item.SerialNumber
		}
		model = &assetModel{}
	case ItemKindVulnerability:
		if item.Severity != "" {
			updates["severity"] = item.Severity
		}
		if item.CVE != "" {
			updates["cve"] = item.CVE
		}
		model = &vulnerabilityModel{}
	case ItemKindRemediation:
		if item.Summary != "" {
			updates["summary"] = item.Summary
		}
		model = &remediationModel{}
	default:
		return fmt.Errorf("unknown item kind %q", kind)
	}

	return tx.Model(model).Where("id = ?", itemID).Updates(updates).Error
}

// InTx runs fn inside one database transaction.
func (s *GormStore) InTx(ctx context.Context, fn func(tx ArtifactTx) error) error {
	return s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormArtifactTx{tx: tx})
	})
}

// VersionsPage returns one page of a wrapper's versions ordered ascending.
func (s *GormStore) VersionsPage(ctx context.Context, wrapperID uuid.UUID, limit, offset int) ([]ArtifactVersion, int64, error) {
	orm := s.orm.WithContext(ctx)

	var total int64
	if err := orm.Model(&versionModel{}).Where("wrapper_id = ?", wrapperID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []versionModel
	err := orm.Where("wrapper_id = ?", wrapperID).
		Order("version ASC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	versions := make([]ArtifactVersion, 0, len(models))
	for _, m := range models {
		versions = append(versions, m.toDomain())
	}
	return versions, total, nil
}

// VersionByID returns a single version regardless of latest status.
func (s *GormStore) VersionByID(ctx context.Context, versionID uuid.UUID) (ArtifactVersion, error) {
	var model versionModel
	if err := s.orm.WithContext(ctx).First(&model, "id = ?", versionID).Error; err != nil {
		return ArtifactVersion{}, mapNotFound(err)
	}
	return model.toDomain(), nil
}

// UpdateVersionMeta edits a version's editable metadata in place.
func (s *GormStore) UpdateVersionMeta(ctx context.Context, versionID uuid.UUID, meta VersionMetaUpdate) (ArtifactVersion, error) {
	updates := map[string]any{}
	if meta.Name != nil {
		updates["name"] = *meta.Name
	}
	if meta.Kind != nil {
		updates["kind"] = *meta.Kind
	}
	if meta.SizeBytes != nil {
		updates["size_bytes"] = *meta.SizeBytes
	}

	var model versionModel
	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", versionID).Error; err != nil {
			return mapNotFound(err)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&versionModel{}).Where("id = ?", versionID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", versionID).Error
	})
	if err != nil {
		return ArtifactVersion{}, err
	}
	return model.toDomain(), nil
}

type gormArtifactTx struct {
	tx *gorm.DB
}

// WrapperForUpdate reads the wrapper under a row-level lock.
func (t *gormArtifactTx) WrapperForUpdate(ctx context.Context, wrapperID uuid.UUID) (ArtifactWrapper, error) {
	var model wrapperModel
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", wrapperID).Error
	if err != nil {
		return ArtifactWrapper{}, mapNotFound(err)
	}
	return model.toDomain(), nil
}

func (t *gormArtifactTx) VersionByID(ctx context.Context, versionID uuid.UUID) (ArtifactVersion, error) {
	var model versionModel
	if err := t.tx.WithContext(ctx).First(&model, "id = ?", versionID).Error; err != nil {
		return ArtifactVersion{}, mapNotFound(err)
	}
	return model.toDomain(), nil
}

func (t *gormArtifactTx) InsertWrapper(ctx context.Context, wrapper ArtifactWrapper) error {
	model := wrapperModel{
		ID:              wrapper.ID,
		OwnerID:         wrapper.OwnerID,
		Name:            wrapper.Name,
		AssetID:         wrapper.AssetID,
		RemediationID:   wrapper.RemediationID,
		LatestVersionID: wrapper.LatestVersionID,
		CreatedAt:       wrapper.CreatedAt,
		UpdatedAt:       wrapper.UpdatedAt,
	}
	return t.tx.WithContext(ctx).Create(&model).Error
}

func (t *gormArtifactTx) InsertVersion(ctx context.Context, version ArtifactVersion) error {
	model := versionFromDomain(version)
	return t.tx.WithContext(ctx).Create(&model).Error
}

func (t *gormArtifactTx) SetLatestVersion(ctx context.Context, wrapperID, versionID uuid.UUID) error {
	return t.tx.WithContext(ctx).
		Model(&wrapperModel{}).
		Where("id = ?", wrapperID).
		Updates(map[string]any{
			"latest_version_id": versionID,
			"updated_at":        time.Now().UTC(),
		}).Error
}
