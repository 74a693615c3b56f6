package api

import (
	"time"

	"github.com/google/uuid"
)

// Asset models one monitored medical device.
type Asset struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	OwnerID      uuid.UUID      `json:"owner_id" db:"owner_id"`
	Name         string         `json:"name" db:"name"`
	Hostname     string         `json:"hostname,omitempty" db:"hostname"`
	MACAddress   string         `json:"mac_address,omitempty" db:"mac_address"`
	SerialNumber string         `json:"serial_number,omitempty" db:"serial_number"`
	GroupID      uuid.UUID      `json:"group_id" db:"group_id"`
	Details      map[string]any `json:"details" db:"details"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Vulnerability models one known weakness recorded against a device class.
type Vulnerability struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Severity  string         `json:"severity,omitempty" db:"severity"`
	CVE       string         `json:"cve,omitempty" db:"cve"`
	GroupID   uuid.UUID      `json:"group_id" db:"group_id"`
	Details   map[string]any `json:"details" db:"details"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
