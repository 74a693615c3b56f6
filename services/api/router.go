package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medwatch/pkg/render"
	"medwatch/services/reconcile"
)

const (
	presignURLExpiry       = 15 * time.Minute
	integrationsTopic      = "medwatch.integrations.created"
	assetsTopic            = "medwatch.assets.created"
	syncCompletedTopic     = "medwatch.sync.completed"
	versionAppendedTopic   = "medwatch.artifacts.version_appended"
	defaultSyncIntervalSec = 3600
)

// Config controls runtime behaviour for the API handlers. SystemOwnerID is the
// account that owns items created by reconciliation runs.
type Config struct {
	APIBase        string
	ArtifactBucket string
	SystemOwnerID  uuid.UUID
	Logger         zerolog.Logger
}

// API wires dependencies, the reconciliation engine, and configuration for
// HTTP handlers.
type API struct {
	store      *Store
	renderer   *render.Engine
	config     Config
	resolver   *reconcile.Resolver
	book       *reconcile.Bookkeeper
	reconciler *reconcile.Reconciler
	chain      *reconcile.Chain
}

// New initialises the API layer and the engine components it fronts.
func New(store *Store, renderer *render.Engine, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if cfg.SystemOwnerID == uuid.Nil {
		return nil, errors.New("system owner id is required")
	}
	if cfg.ArtifactBucket == "" {
		cfg.ArtifactBucket = os.Getenv("S3_BUCKET")
	}
	if store.S3 != nil && cfg.ArtifactBucket == "" {
		return nil, errors.New("artifact bucket is required when s3 is configured")
	}

	engineStore, err := reconcile.NewGormStore(store.ORM)
	if err != nil {
		return nil, err
	}
	resolver, err := reconcile.NewResolver(engineStore)
	if err != nil {
		return nil, err
	}
	book, err := reconcile.NewBookkeeper(engineStore, cfg.Logger)
	if err != nil {
		return nil, err
	}
	reconciler, err := reconcile.NewReconciler(engineStore, resolver, book, cfg.SystemOwnerID, cfg.Logger)
	if err != nil {
		return nil, err
	}
	chain, err := reconcile.NewChain(engineStore)
	if err != nil {
		return nil, err
	}

	return &API{
		store:      store,
		renderer:   renderer,
		config:     cfg,
		resolver:   resolver,
		book:       book,
		reconciler: reconciler,
		chain:      chain,
	}, nil
}

// Chain exposes the version chain manager for sibling services.
func (a *API) Chain() *reconcile.Chain { return a.chain }

// Reconciler exposes the engine for the scheduler wiring in main.
func (a *API) Reconciler() *reconcile.Reconciler { return a.reconciler }

// Bookkeeper exposes sync history access for the scheduler wiring in main.
func (a *API) Bookkeeper() *reconcile.Bookkeeper { return a.book }

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/integrations", a.handleCreateIntegration)
		r.Get("/integrations", a.handleListIntegrations)
		r.Get("/integrations/{integrationID}/status", a.handleIntegrationStatus)
		r.Post("/integrations/{integrationID}/sync", a.handleIntegrationSync)

		r.Post("/assets", a.handleCreateAsset)
		r.Get("/assets", a.handleListAssets)
		r.Get("/assets/{assetID}", a.handleGetAsset)
		r.Delete("/assets/{assetID}", a.handleDeleteAsset)
		r.Get("/assets/{assetID}/advisory", a.handleAssetAdvisory)

		r.Get("/wrappers/{wrapperID}/versions", a.handleListVersions)
		r.Post("/wrappers/{wrapperID}/versions", a.handleAppendVersion)
		r.Get("/versions/{versionID}", a.handleGetVersion)
		r.Put("/versions/{versionID}", a.handleUpdateVersionMeta)
	})

	return r, nil
}
