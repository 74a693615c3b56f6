package api

import (
	"time"

	"github.com/google/uuid"
)

// Integration models a configured third-party source of inventory and
// vulnerability data.
type Integration struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	Name                string         `json:"name" db:"name"`
	Kind                string         `json:"kind" db:"kind"`
	SyncIntervalSeconds int            `json:"sync_interval_seconds" db:"sync_interval_seconds"`
	Settings            map[string]any `json:"settings" db:"settings"`
	CreatedAt           time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at" db:"updated_at"`
}

func (i Integration) endpoint() string {
	raw, ok := i.Settings["endpoint"]
	if !ok {
		return ""
	}
	endpoint, _ := raw.(string)
	return endpoint
}
