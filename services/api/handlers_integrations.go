package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"medwatch/services/reconcile"
)

func (a *API) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                string         `json:"name"`
		Kind                string         `json:"kind"`
		SyncIntervalSeconds int            `json:"sync_interval_seconds"`
		Settings            map[string]any `json:"settings"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Name == "" || req.Kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("name and kind are required"))
		return
	}
	if req.SyncIntervalSeconds <= 0 {
		req.SyncIntervalSeconds = defaultSyncIntervalSec
	}
	if req.Settings == nil {
		req.Settings = map[string]any{}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	now := time.Now().UTC()
	model := integrationModel{
		ID:                  uuid.New(),
		Name:                req.Name,
		Kind:                req.Kind,
		SyncIntervalSeconds: req.SyncIntervalSeconds,
		Settings:            toJSONMap(req.Settings),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := a.store.ORM.WithContext(ctx).Create(&model).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	integration := model.toAPI()
	a.publishJSON(ctx, integrationsTopic, map[string]any{
		"integration_id": integration.ID,
		"kind":           integration.Kind,
	})
	respondJSON(w, http.StatusCreated, map[string]any{"integration": integration})
}

func (a *API) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var models []integrationModel
	if err := a.store.ORM.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	integrations := make([]Integration, 0, len(models))
	for _, model := range models {
		integrations = append(integrations, model.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"integrations": integrations})
}

func (a *API) handleIntegrationStatus(w http.ResponseWriter, r *http.Request) {
	integrationID, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid integration id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	integration, err := a.fetchIntegration(r.Context(), integrationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("integration %s not found", integrationID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	payload := map[string]any{"integration": integration}
	latest, err := a.book.Latest(ctx, integrationID)
	switch {
	case err == nil:
		payload["last_sync"] = latest
	case errors.Is(err, reconcile.ErrNotFound):
		payload["last_sync"] = nil
	default:
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, payload)
}

// handleIntegrationSync runs one reconciliation for the integration. The batch
// comes either inline in the request body or, when the body is empty, from the
// endpoint configured in the integration's settings.
func (a *API) handleIntegrationSync(w http.ResponseWriter, r *http.Request) {
	integrationID, err := uuid.Parse(chi.URLParam(r, "integrationID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid integration id is required"))
		return
	}

	integration, err := a.fetchIntegration(r.Context(), integrationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("integration %s not found", integrationID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	var req struct {
		Items []reconcile.VendorItem `json:"items"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if len(req.Items) == 0 && integration.endpoint() != "" {
		fetcher := &reconcile.HTTPFetcher{}
		req.Items, err = fetcher.FetchBatch(r.Context(), reconcile.Integration{
			ID:       integration.ID,
			Name:     integration.Name,
			Kind:     integration.Kind,
			Endpoint: integration.endpoint(),
		})
		if err != nil {
			respondError(w, http.StatusBadGateway, fmt.Errorf("fetch batch: %w", err))
			return
		}
	}

	res := a.reconciler.Reconcile(r.Context(), integrationID, req.Items)

	a.publishJSON(r.Context(), syncCompletedTopic, map[string]any{
		"integration_id": integrationID,
		"kind":           integration.Kind,
		"result":         res,
	})
	respondJSON(w, http.StatusOK, res)
}

func (a *API) fetchIntegration(ctx context.Context, id uuid.UUID) (Integration, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model integrationModel
	if err := a.store.ORM.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return Integration{}, err
	}
	return model.toAPI(), nil
}
