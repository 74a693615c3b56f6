package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"medwatch/pkg/bus"
	"medwatch/pkg/db"
	"medwatch/pkg/render"
	mws3 "medwatch/pkg/s3"
	"medwatch/pkg/telemetry"
	"medwatch/services/api"
	"medwatch/services/api/internal/config"
	"medwatch/services/api/internal/orm"
	"medwatch/services/reconcile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ownerID, err := uuid.Parse(cfg.SystemOwnerID)
	if err != nil {
		log.Fatal().Err(err).Msg("parse system owner id")
	}

	var traceMiddleware telemetry.Middleware
	if cfg.OTLPEndpoint != "" {
		shutdown, middleware, err := telemetry.Init(ctx, "medwatch-api", log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("init telemetry")
		}
		traceMiddleware = middleware
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown telemetry")
			}
		}()
	}

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	gormDB, err := orm.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect orm")
	}
	defer func() {
		if err := orm.Close(gormDB); err != nil {
			log.Error().Err(err).Msg("close orm")
		}
	}()

	store := &api.Store{DB: pool, ORM: gormDB}

	if cfg.NATSURL != "" {
		events, err := bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer events.Close()
		store.Bus = events
	}

	if os.Getenv("S3_ENDPOINT") != "" {
		s3Client, err := mws3.NewClientFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("init s3 client")
		}
		store.S3 = s3Client
	}

	renderer, err := render.New()
	if err != nil {
		log.Fatal().Err(err).Msg("init renderer")
	}

	apiLayer, err := api.New(store, renderer, api.Config{
		APIBase:        cfg.APIBase,
		ArtifactBucket: cfg.S3Bucket,
		SystemOwnerID:  ownerID,
		Logger:         log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	routes, err := apiLayer.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}
	if traceMiddleware != nil {
		routes = traceMiddleware(routes)
	}

	mux := http.NewServeMux()
	mux.Handle("/", routes)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if !cfg.SchedulerOff {
		scheduler, err := reconcile.NewScheduler(
			pool,
			apiLayer.Reconciler(),
			apiLayer.Bookkeeper(),
			&reconcile.HTTPFetcher{},
			store.Bus,
			cfg.SyncScanEvery,
			log.Logger,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("init scheduler")
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				log.Error().Err(err).Msg("scheduler stopped")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting medwatch-api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
