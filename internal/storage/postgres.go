// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"tenant-broadcast/internal/model"
	"tenant-broadcast/internal/queue"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantExists   = errors.New("tenant already exists")
)

const uniqueViolation = "23505"

type Storage struct {
	DB *sql.DB
}

func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	instance_name   TEXT NOT NULL,
	api_key         TEXT NOT NULL,
	max_concurrent  INTEGER,
	min_interval_ms INTEGER,
	retries         INTEGER,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Migrate creates the tenant registry table if it does not exist.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (s *Storage) CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error) {
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO tenants (id, name, instance_name, api_key)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, t.ID, t.Name, t.InstanceName, t.APIKey).Scan(&t.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return model.Tenant{}, fmt.Errorf("%w: %s", ErrTenantExists, t.ID)
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, nil
}

func (s *Storage) GetTenant(ctx context.Context, id string) (model.Tenant, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, instance_name, api_key, max_concurrent, min_interval_ms, retries, created_at
		FROM tenants
		WHERE id = $1
	`, id)

	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("failed to load tenant: %w", err)
	}
	return t, nil
}

func (s *Storage) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, instance_name, api_key, max_concurrent, min_interval_ms, retries, created_at
		FROM tenants
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var tenants []model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *Storage) DeleteTenant(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return nil
}

// SaveTenantConfig stores the provided overrides, leaving the others intact.
func (s *Storage) SaveTenantConfig(ctx context.Context, id string, p queue.PartialConfig) error {
	var maxConcurrent, minIntervalMs, retries sql.NullInt64
	if p.MaxConcurrent != nil {
		maxConcurrent = sql.NullInt64{Int64: int64(*p.MaxConcurrent), Valid: true}
	}
	if p.MinInterval != nil {
		minIntervalMs = sql.NullInt64{Int64: p.MinInterval.Milliseconds(), Valid: true}
	}
	if p.Retries != nil {
		retries = sql.NullInt64{Int64: int64(*p.Retries), Valid: true}
	}

	res, err := s.DB.ExecContext(ctx, `
		UPDATE tenants
		SET max_concurrent  = COALESCE($2, max_concurrent),
		    min_interval_ms = COALESCE($3, min_interval_ms),
		    retries         = COALESCE($4, retries)
		WHERE id = $1
	`, id, maxConcurrent, minIntervalMs, retries)
	if err != nil {
		return fmt.Errorf("failed to save tenant config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(row scanner) (model.Tenant, error) {
	var t model.Tenant
	var maxConcurrent, minIntervalMs, retries sql.NullInt64
	if err := row.Scan(&t.ID, &t.Name, &t.InstanceName, &t.APIKey, &maxConcurrent, &minIntervalMs, &retries, &t.CreatedAt); err != nil {
		return model.Tenant{}, err
	}
	t.MaxConcurrent = nullableInt(maxConcurrent)
	t.MinIntervalMs = nullableInt(minIntervalMs)
	t.Retries = nullableInt(retries)
	return t, nil
}

func nullableInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// Overrides converts a tenant's stored columns into a partial queue config.
func Overrides(t model.Tenant) queue.PartialConfig {
	var p queue.PartialConfig
	p.MaxConcurrent = t.MaxConcurrent
	p.Retries = t.Retries
	if t.MinIntervalMs != nil {
		d := time.Duration(*t.MinIntervalMs) * time.Millisecond
		p.MinInterval = &d
	}
	return p
}
