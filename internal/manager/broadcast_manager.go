// internal/manager/broadcast_manager.go
package manager

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"tenant-broadcast/internal/queue"
	"tenant-broadcast/internal/ratelimit"
)

var ErrEmptyTenant = errors.New("tenant key must not be empty")

// BroadcastManager owns exactly one queue per tenant key, created on first use.
type BroadcastManager struct {
	defaults queue.Config
	gate     *ratelimit.Gate
	log      zerolog.Logger

	mu     sync.RWMutex
	queues map[string]*queue.Queue

	// cfgMu serializes read-merge-write of tenant configs.
	cfgMu sync.Mutex
}

func NewBroadcastManager(defaults queue.Config, log zerolog.Logger) (*BroadcastManager, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &BroadcastManager{
		defaults: defaults,
		gate:     ratelimit.NewGate(),
		log:      log,
		queues:   make(map[string]*queue.Queue),
	}, nil
}

// queueFor returns the tenant's queue, creating it with a copy of the
// defaults when absent. Concurrent first calls observe the same queue.
func (m *BroadcastManager) queueFor(tenantID string) *queue.Queue {
	m.mu.RLock()
	q, ok := m.queues[tenantID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[tenantID]; ok {
		return q
	}
	q = queue.New(tenantID, m.defaults, m.gate, m.log)
	m.queues[tenantID] = q
	m.log.Debug().Str("tenant", tenantID).Msg("tenant queue created")
	return q
}

// Enqueue hands task to the tenant's queue.
func (m *BroadcastManager) Enqueue(ctx context.Context, tenantID string, task queue.Task) *queue.Future {
	if tenantID == "" {
		return queue.Rejected(ErrEmptyTenant)
	}
	return m.queueFor(tenantID).Add(ctx, task)
}

// UpdateTenantConfig merges partial into the tenant's current config. The
// merged result is validated before it is applied; on error nothing changes.
func (m *BroadcastManager) UpdateTenantConfig(tenantID string, partial queue.PartialConfig) (queue.Config, error) {
	return m.ApplyTenantConfig(tenantID, partial, nil)
}

// ApplyTenantConfig is UpdateTenantConfig with a commit step. commit receives
// the validated merged config before the queue does; if it fails the queue
// keeps its current config and the error is returned.
func (m *BroadcastManager) ApplyTenantConfig(tenantID string, partial queue.PartialConfig, commit func(queue.Config) error) (queue.Config, error) {
	if tenantID == "" {
		return queue.Config{}, ErrEmptyTenant
	}
	q := m.queueFor(tenantID)

	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()

	merged := q.Config().Merge(partial)
	if err := merged.Validate(); err != nil {
		return q.Config(), err
	}
	if commit != nil {
		if err := commit(merged); err != nil {
			return q.Config(), err
		}
	}
	q.SetConfig(merged)

	m.log.Info().
		Str("tenant", tenantID).
		Int("max_concurrent", merged.MaxConcurrent).
		Dur("min_interval", merged.MinInterval).
		Int("retries", merged.Retries).
		Msg("tenant config updated")
	return merged, nil
}

// TenantConfig returns the tenant's effective config, or the defaults for a
// tenant without a queue.
func (m *BroadcastManager) TenantConfig(tenantID string) queue.Config {
	m.mu.RLock()
	q, ok := m.queues[tenantID]
	m.mu.RUnlock()
	if !ok {
		return m.defaults
	}
	return q.Config()
}

// StopQueue rejects the tenant's undispatched tasks. Unknown tenants are a no-op.
func (m *BroadcastManager) StopQueue(tenantID string) int {
	m.mu.RLock()
	q, ok := m.queues[tenantID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.Stop()
}

// GetAllStats returns a point-in-time snapshot per tenant.
func (m *BroadcastManager) GetAllStats() map[string]queue.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]queue.Stats, len(m.queues))
	for id, q := range m.queues {
		stats[id] = q.Stats()
	}
	return stats
}

// ListTenantIDs returns all tenants that currently own a queue, sorted.
func (m *BroadcastManager) ListTenantIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveTenant closes the tenant's queue and forgets its rate state.
func (m *BroadcastManager) RemoveTenant(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	q, ok := m.queues[tenantID]
	delete(m.queues, tenantID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := q.Close(ctx)

	// Keep the rate state if a new queue took the key while closing.
	m.mu.Lock()
	if _, recreated := m.queues[tenantID]; !recreated && err == nil {
		m.gate.Forget(tenantID)
	}
	m.mu.Unlock()
	m.log.Info().Str("tenant", tenantID).Msg("tenant queue removed")
	return err
}

// ShutdownAll closes every queue, waiting for in-flight tasks until ctx ends.
func (m *BroadcastManager) ShutdownAll(ctx context.Context) error {
	m.mu.Lock()
	queues := m.queues
	m.queues = make(map[string]*queue.Queue)
	m.mu.Unlock()

	var errs []error
	for id, q := range queues {
		if err := q.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		m.log.Info().Str("tenant", id).Msg("stopped tenant queue")
	}
	return errors.Join(errs...)
}
