package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medwatch/services/reconcile"
)

func (a *API) handleListVersions(w http.ResponseWriter, r *http.Request) {
	wrapperID, err := uuid.Parse(chi.URLParam(r, "wrapperID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid wrapper id is required"))
		return
	}

	page, perPage := parsePagination(r, 50, 200)
	versions, err := a.chain.ListVersions(r.Context(), wrapperID, page, perPage)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, versions)
}

// handleAppendVersion appends one immutable version to the wrapper's chain.
// When no URL is supplied and S3 is configured, the content location is minted
// under the artifact bucket and a presigned upload URL is returned.
func (a *API) handleAppendVersion(w http.ResponseWriter, r *http.Request) {
	wrapperID, err := uuid.Parse(chi.URLParam(r, "wrapperID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid wrapper id is required"))
		return
	}

	var req struct {
		Kind      string `json:"kind"`
		Name      string `json:"name"`
		URL       string `json:"url"`
		SHA256    string `json:"sha256"`
		SizeBytes int64  `json:"size_bytes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	input := reconcile.VersionInput{
		Kind:      strings.TrimSpace(req.Kind),
		Name:      strings.TrimSpace(req.Name),
		URL:       strings.TrimSpace(req.URL),
		SHA256:    strings.TrimSpace(req.SHA256),
		SizeBytes: req.SizeBytes,
	}

	var uploadURL string
	if input.URL == "" && input.SHA256 != "" && a.store.S3 != nil {
		key := fmt.Sprintf("artifacts/%s/%s", wrapperID, uuid.New())
		input.URL = fmt.Sprintf("s3://%s/%s", a.config.ArtifactBucket, key)

		uploadURL, err = a.store.S3.PresignPut(r.Context(), a.config.ArtifactBucket, key, presignURLExpiry)
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Errorf("presign put: %w", err))
			return
		}
	}

	version, err := a.chain.CreateVersion(r.Context(), wrapperID, input)
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNotFound):
			respondError(w, http.StatusNotFound, fmt.Errorf("wrapper %s not found", wrapperID))
		case errors.Is(err, reconcile.ErrVersionContentMissing):
			respondError(w, http.StatusBadRequest, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	a.publishJSON(r.Context(), versionAppendedTopic, map[string]any{
		"wrapper_id": wrapperID,
		"version_id": version.ID,
		"version":    version.Version,
	})

	payload := map[string]any{"version": version}
	if uploadURL != "" {
		payload["upload_url"] = uploadURL
	}
	respondJSON(w, http.StatusCreated, payload)
}

func (a *API) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	versionID, err := uuid.Parse(chi.URLParam(r, "versionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid version id is required"))
		return
	}

	version, err := a.chain.Version(r.Context(), versionID)
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("version %s not found", versionID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	payload := map[string]any{"version": version}

	// A stored s3:// location is exchanged for a presigned download URL when
	// the client can't reach the bucket directly.
	if version.URL != nil && a.store.S3 != nil {
		if bucket, key, ok := parseS3Location(*version.URL); ok {
			downloadURL, err := a.store.S3.PresignGet(r.Context(), bucket, key, presignURLExpiry)
			if err == nil {
				payload["download_url"] = downloadURL
			}
		}
	}

	respondJSON(w, http.StatusOK, payload)
}

func (a *API) handleUpdateVersionMeta(w http.ResponseWriter, r *http.Request) {
	versionID, err := uuid.Parse(chi.URLParam(r, "versionID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid version id is required"))
		return
	}

	var req struct {
		Name      *string `json:"name"`
		Kind      *string `json:"kind"`
		SizeBytes *int64  `json:"size_bytes"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Kind != nil && strings.TrimSpace(*req.Kind) == "" {
		respondError(w, http.StatusBadRequest, errors.New("kind cannot be cleared"))
		return
	}

	version, err := a.chain.UpdateVersionMeta(r.Context(), versionID, reconcile.VersionMetaUpdate{
		Name:      req.Name,
		Kind:      req.Kind,
		SizeBytes: req.SizeBytes,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			respondError(w, http.StatusNotFound, fmt.Errorf("version %s not found", versionID))
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"version": version})
}

func parseS3Location(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
