package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"medwatch/services/reconcile"
)

func (a *API) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string                  `json:"name"`
		Classification string                  `json:"classification"`
		Hostname       string                  `json:"hostname"`
		MACAddress     string                  `json:"mac_address"`
		SerialNumber   string                  `json:"serial_number"`
		Details        map[string]any          `json:"details"`
		Artifacts      []reconcile.VersionInput `json:"artifacts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Classification = strings.TrimSpace(req.Classification)
	if req.Name == "" || req.Classification == "" {
		respondError(w, http.StatusBadRequest, errors.New("name and classification are required"))
		return
	}
	if req.Details == nil {
		req.Details = map[string]any{}
	}
	// Artifact inputs are validated up front so a bad attachment never
	// leaves a half-created asset behind.
	for i, artifact := range req.Artifacts {
		if err := artifact.Validate(); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("artifact %d: %w", i, err))
			return
		}
	}

	ctx := r.Context()
	group, err := a.resolver.Resolve(ctx, req.Classification)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	now := time.Now().UTC()
	model := assetModel{
		ID:           uuid.New(),
		OwnerID:      a.config.SystemOwnerID,
		Name:         req.Name,
		Hostname:     optionalString(strings.TrimSpace(req.Hostname)),
		MACAddress:   optionalString(strings.ToLower(strings.TrimSpace(req.MACAddress))),
		SerialNumber: optionalString(strings.TrimSpace(req.SerialNumber)),
		GroupID:      group.ID,
		Details:      toJSONMap(req.Details),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	dbCtx, cancel := withTimeout(ctx)
	defer cancel()
	if err := a.store.ORM.WithContext(dbCtx).Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	asset := model.toAPI()
	payload := map[string]any{"asset": asset}

	// Attached artifacts each get their own wrapper seeded at version 1.
	if len(req.Artifacts) > 0 {
		assetID := asset.ID
		wrappers, err := a.chain.CreateWrappersForItem(ctx, a.config.SystemOwnerID, reconcile.ItemRef{AssetID: &assetID}, req.Artifacts)
		if err != nil {
			// The asset row is already committed at this point, so the
			// error names it rather than pretending nothing happened.
			respondError(w, http.StatusInternalServerError, fmt.Errorf("asset %s created, artifact wrappers failed: %w", asset.ID, err))
			return
		}
		payload["wrappers"] = wrappers
	}

	a.publishJSON(ctx, assetsTopic, map[string]any{
		"asset_id": asset.ID,
		"group_id": asset.GroupID,
	})
	respondJSON(w, http.StatusCreated, payload)
}

func (a *API) handleListAssets(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePagination(r, 50, 200)

	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	orm := a.store.ORM.WithContext(ctx)

	query := orm.Model(&assetModel{})
	if groupKey := strings.TrimSpace(r.URL.Query().Get("classification")); groupKey != "" {
		var group groupModel
		if err := orm.First(&group, "key = ?", groupKey).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				respondJSON(w, http.StatusOK, map[string]any{"items": []Asset{}, "total": 0, "page": page, "per_page": perPage})
				return
			}
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		query = query.Where("group_id = ?", group.ID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	var models []assetModel
	err := query.Order("created_at ASC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&models).Error
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	assets := make([]Asset, 0, len(models))
	for _, model := range models {
		assets = append(assets, model.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items":    assets,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (a *API) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid asset id is required"))
		return
	}

	asset, err := a.fetchAsset(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("asset %s not found", assetID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"asset": asset})
}

// handleDeleteAsset removes the asset together with its mappings, wrappers,
// and version chains in one transaction.
func (a *API) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid asset id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	err = a.store.ORM.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model assetModel
		if err := tx.First(&model, "id = ?", assetID).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM external_mappings WHERE item_id = ?`, assetID).Error; err != nil {
			return err
		}
		if err := tx.Exec(`
DELETE FROM artifact_versions
WHERE wrapper_id IN (SELECT id FROM artifact_wrappers WHERE asset_id = ?)
`, assetID).Error; err != nil {
			return err
		}
		if err := tx.Exec(`DELETE FROM artifact_wrappers WHERE asset_id = ?`, assetID).Error; err != nil {
			return err
		}
		return tx.Delete(&assetModel{}, "id = ?", assetID).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("asset %s not found", assetID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// handleAssetAdvisory renders a plain-text security advisory for the asset,
// listing every vulnerability recorded against its device class.
func (a *API) handleAssetAdvisory(w http.ResponseWriter, r *http.Request) {
	assetID, err := uuid.Parse(chi.URLParam(r, "assetID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid asset id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	orm := a.store.ORM.WithContext(ctx)

	var model assetModel
	if err := orm.First(&model, "id = ?", assetID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("asset %s not found", assetID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	asset := model.toAPI()

	var group groupModel
	if err := orm.First(&group, "id = ?", model.GroupID).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	var vulnModels []vulnerabilityModel
	if err := orm.Where("group_id = ?", model.GroupID).Order("severity DESC, name ASC").Find(&vulnModels).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	vulns := make([]Vulnerability, 0, len(vulnModels))
	for _, vm := range vulnModels {
		vulns = append(vulns, vm.toAPI())
	}

	rendered, err := a.renderer.Render("advisory.tmpl", map[string]any{
		"Asset":           asset,
		"Group":           group,
		"Vulnerabilities": vulns,
		"GeneratedAt":     time.Now().UTC(),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(rendered))
}

func (a *API) fetchAsset(ctx context.Context, id uuid.UUID) (Asset, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model assetModel
	if err := a.store.ORM.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return Asset{}, err
	}
	return model.toAPI(), nil
}
