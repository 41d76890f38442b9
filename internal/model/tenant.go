// internal/model/tenant.go
package model

import (
	"time"
)

// Tenant holds the messaging instance credentials and the stored config
// overrides. Nil override fields fall back to the service defaults.
type Tenant struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	InstanceName  string    `db:"instance_name" json:"instance_name"`
	APIKey        string    `db:"api_key" json:"-"`
	MaxConcurrent *int      `db:"max_concurrent" json:"max_concurrent,omitempty"`
	MinIntervalMs *int      `db:"min_interval_ms" json:"min_interval_ms,omitempty"`
	Retries       *int      `db:"retries" json:"retries,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
