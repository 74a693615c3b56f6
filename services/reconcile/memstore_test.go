package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory implementation of every store contract, used to
// exercise the engine without a database. Fault fields inject persistence
// failures at specific points.
type memStore struct {
	mu sync.Mutex

	groups   map[string]ClassificationGroup
	records  map[uuid.UUID][]SyncRecord
	mappings map[string]ExternalMapping
	items    map[uuid.UUID]memItem
	order    []uuid.UUID
	wrappers map[uuid.UUID]ArtifactWrapper
	versions map[uuid.UUID]ArtifactVersion

	failVendorID  string
	failInsertRec bool
	failPrune     bool
	missFindOnce  bool
}

type memItem struct {
	ID       uuid.UUID
	Kind     string
	OwnerID  uuid.UUID
	Name     string
	Identity Identity
	GroupID  uuid.UUID
	Severity string
	Summary  string
	Details  map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		groups:   make(map[string]ClassificationGroup),
		records:  make(map[uuid.UUID][]SyncRecord),
		mappings: make(map[string]ExternalMapping),
		items:    make(map[uuid.UUID]memItem),
		wrappers: make(map[uuid.UUID]ArtifactWrapper),
		versions: make(map[uuid.UUID]ArtifactVersion),
	}
}

func mappingKey(integrationID uuid.UUID, externalID string) string {
	return integrationID.String() + "|" + externalID
}

func (s *memStore) GroupByKey(_ context.Context, key string) (ClassificationGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[key]
	if !ok {
		return ClassificationGroup{}, ErrNotFound
	}
	return group, nil
}

func (s *memStore) InsertGroup(_ context.Context, group ClassificationGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.Key]; ok {
		return nil
	}
	s.groups[group.Key] = group
	return nil
}

func (s *memStore) InsertSyncRecord(_ context.Context, rec SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsertRec {
		return errors.New("insert sync record: injected failure")
	}
	s.records[rec.IntegrationID] = append(s.records[rec.IntegrationID], rec)
	return nil
}

func (s *memStore) PruneSyncRecords(_ context.Context, integrationID uuid.UUID, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPrune {
		return errors.New("prune sync records: injected failure")
	}
	recs := s.records[integrationID]
	sort.Slice(recs, func(i, j int) bool { return recs[i].SyncedAt.After(recs[j].SyncedAt) })
	if len(recs) > keep {
		recs = recs[:keep]
	}
	s.records[integrationID] = recs
	return nil
}

func (s *memStore) LatestSyncRecord(_ context.Context, integrationID uuid.UUID) (SyncRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[integrationID]
	if len(recs) == 0 {
		return SyncRecord{}, ErrNotFound
	}
	latest := recs[0]
	for _, rec := range recs[1:] {
		if rec.SyncedAt.After(latest.SyncedAt) {
			latest = rec
		}
	}
	return latest, nil
}

func (s *memStore) MappingByExternalID(_ context.Context, integrationID uuid.UUID, externalID string) (ExternalMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping, ok := s.mappings[mappingKey(integrationID, externalID)]
	if !ok {
		return ExternalMapping{}, ErrNotFound
	}
	return mapping, nil
}

func (s *memStore) UpdateMappedItem(_ context.Context, mapping ExternalMapping, item VendorItem, groupID uuid.UUID, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failVendorID != "" && item.VendorID == s.failVendorID {
		return errors.New("injected failure")
	}
	mapping.LastSyncedAt = syncedAt
	s.mappings[mappingKey(mapping.IntegrationID, mapping.ExternalID)] = mapping
	s.applyItem(mapping.ItemID, item, groupID)
	return nil
}

func (s *memStore) FindUnmappedItem(_ context.Context, integrationID uuid.UUID, item VendorItem) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missFindOnce {
		s.missFindOnce = false
		return uuid.Nil, ErrNotFound
	}
	identity := item.Identity()
	for _, id := range s.order {
		existing := s.items[id]
		if existing.Kind != item.Kind {
			continue
		}
		if !identityMatches(existing.Identity, identity) {
			continue
		}
		if s.hasMappingLocked(integrationID, id) {
			continue
		}
		return id, nil
	}
	return uuid.Nil, ErrNotFound
}

func identityMatches(stored, inbound Identity) bool {
	switch {
	case inbound.Hostname != "" && stored.Hostname == inbound.Hostname:
		return true
	case inbound.MACAddress != "" && stored.MACAddress == inbound.MACAddress:
		return true
	case inbound.SerialNumber != "" && stored.SerialNumber == inbound.SerialNumber:
		return true
	case inbound.CVE != "" && stored.CVE == inbound.CVE:
		return true
	}
	return false
}

func (s *memStore) hasMappingLocked(integrationID, itemID uuid.UUID) bool {
	for _, mapping := range s.mappings {
		if mapping.IntegrationID == integrationID && mapping.ItemID == itemID {
			return true
		}
	}
	return false
}

func (s *memStore) AdoptItem(_ context.Context, integrationID uuid.UUID, itemID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failVendorID != "" && item.VendorID == s.failVendorID {
		return errors.New("injected failure")
	}
	s.mappings[mappingKey(integrationID, item.VendorID)] = ExternalMapping{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ExternalID:    item.VendorID,
		ItemKind:      item.Kind,
		ItemID:        itemID,
		LastSyncedAt:  syncedAt,
	}
	s.applyItem(itemID, item, groupID)
	return nil
}

func (s *memStore) CreateItem(_ context.Context, integrationID uuid.UUID, ownerID uuid.UUID, item VendorItem, groupID uuid.UUID, syncedAt time.Time) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failVendorID != "" && item.VendorID == s.failVendorID {
		return uuid.Nil, errors.New("injected failure")
	}
	inbound := item.Identity()
	for _, id := range s.order {
		existing := s.items[id]
		if existing.Kind == item.Kind && identityMatches(existing.Identity, inbound) {
			return uuid.Nil, fmt.Errorf("%w: %s %q", ErrDuplicateIdentity, item.Kind, item.VendorID)
		}
	}
	itemID := uuid.New()
	s.items[itemID] = memItem{
		ID:       itemID,
		Kind:     item.Kind,
		OwnerID:  ownerID,
		Name:     item.Name,
		Identity: item.Identity(),
		GroupID:  groupID,
		Severity: item.Severity,
		Summary:  item.Summary,
		Details:  item.Details,
	}
	s.order = append(s.order, itemID)
	s.mappings[mappingKey(integrationID, item.VendorID)] = ExternalMapping{
		ID:            uuid.New(),
		IntegrationID: integrationID,
		ExternalID:    item.VendorID,
		ItemKind:      item.Kind,
		ItemID:        itemID,
		LastSyncedAt:  syncedAt,
	}
	return itemID, nil
}

// seedItem places an existing, unmapped item in the store, as if created by a
// user or another integration.
func (s *memStore) seedItem(kind, name string, identity Identity) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	itemID := uuid.New()
	s.items[itemID] = memItem{ID: itemID, Kind: kind, Name: name, Identity: identity}
	s.order = append(s.order, itemID)
	return itemID
}

func (s *memStore) applyItem(itemID uuid.UUID, item VendorItem, groupID uuid.UUID) {
	existing, ok := s.items[itemID]
	if !ok {
		return
	}
	if item.Name != "" {
		existing.Name = item.Name
	}
	inbound := item.Identity()
	if inbound.Hostname != "" {
		existing.Identity.Hostname = inbound.Hostname
	}
	if inbound.MACAddress != "" {
		existing.Identity.MACAddress = inbound.MACAddress
	}
	if inbound.SerialNumber != "" {
		existing.Identity.SerialNumber = inbound.SerialNumber
	}
	if inbound.CVE != "" {
		existing.Identity.CVE = inbound.CVE
	}
	if item.Severity != "" {
		existing.Severity = item.Severity
	}
	if item.Summary != "" {
		existing.Summary = item.Summary
	}
	if item.Details != nil {
		existing.Details = item.Details
	}
	existing.GroupID = groupID
	s.items[itemID] = existing
}

func (s *memStore) InTx(_ context.Context, fn func(tx ArtifactTx) error) error {
	return fn(&memTx{s: s})
}

func (s *memStore) VersionsPage(_ context.Context, wrapperID uuid.UUID, limit, offset int) ([]ArtifactVersion, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.wrapperVersionsLocked(wrapperID)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (s *memStore) VersionByID(_ context.Context, versionID uuid.UUID) (ArtifactVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[versionID]
	if !ok {
		return ArtifactVersion{}, ErrNotFound
	}
	return version, nil
}

func (s *memStore) UpdateVersionMeta(_ context.Context, versionID uuid.UUID, meta VersionMetaUpdate) (ArtifactVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.versions[versionID]
	if !ok {
		return ArtifactVersion{}, ErrNotFound
	}
	if meta.Name != nil {
		version.Name = *meta.Name
	}
	if meta.Kind != nil {
		version.Kind = *meta.Kind
	}
	if meta.SizeBytes != nil {
		size := *meta.SizeBytes
		version.SizeBytes = &size
	}
	s.versions[versionID] = version
	return version, nil
}

func (s *memStore) wrapperVersionsLocked(wrapperID uuid.UUID) []ArtifactVersion {
	var all []ArtifactVersion
	for _, version := range s.versions {
		if version.WrapperID == wrapperID {
			all = append(all, version)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Version < all[j].Version })
	return all
}

type memTx struct {
	s *memStore
}

func (t *memTx) WrapperForUpdate(_ context.Context, wrapperID uuid.UUID) (ArtifactWrapper, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	wrapper, ok := t.s.wrappers[wrapperID]
	if !ok {
		return ArtifactWrapper{}, ErrNotFound
	}
	return wrapper, nil
}

func (t *memTx) VersionByID(ctx context.Context, versionID uuid.UUID) (ArtifactVersion, error) {
	return t.s.VersionByID(ctx, versionID)
}

func (t *memTx) InsertWrapper(_ context.Context, wrapper ArtifactWrapper) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.wrappers[wrapper.ID]; ok {
		return fmt.Errorf("wrapper %s already exists", wrapper.ID)
	}
	t.s.wrappers[wrapper.ID] = wrapper
	return nil
}

func (t *memTx) InsertVersion(_ context.Context, version ArtifactVersion) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, existing := range t.s.versions {
		if existing.WrapperID == version.WrapperID && existing.Version == version.Version {
			return fmt.Errorf("duplicate version %d for wrapper %s", version.Version, version.WrapperID)
		}
	}
	t.s.versions[version.ID] = version
	return nil
}

func (t *memTx) SetLatestVersion(_ context.Context, wrapperID, versionID uuid.UUID) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	wrapper, ok := t.s.wrappers[wrapperID]
	if !ok {
		return ErrNotFound
	}
	wrapper.LatestVersionID = &versionID
	t.s.wrappers[wrapperID] = wrapper
	return nil
}
