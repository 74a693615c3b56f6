package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the medwatch API service.
type Config struct {
	Addr           string        `env:"ADDR,default=:8080"`
	DBDSN          string        `env:"DB_DSN,required"`
	NATSURL        string        `env:"NATS_URL"`
	S3Bucket       string        `env:"S3_BUCKET"`
	APIBase        string        `env:"API_BASE_URL"`
	SystemOwnerID  string        `env:"SYSTEM_OWNER_ID,required"`
	SyncScanEvery  time.Duration `env:"SYNC_SCAN_INTERVAL,default=1m"`
	SchedulerOff   bool          `env:"SCHEDULER_DISABLED,default=false"`
	OTLPEndpoint   string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
