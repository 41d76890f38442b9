// internal/broadcast/service.go
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenant-broadcast/internal/manager"
	"tenant-broadcast/internal/metrics"
	"tenant-broadcast/internal/model"
	"tenant-broadcast/internal/progress"
	"tenant-broadcast/internal/queue"
	"tenant-broadcast/internal/sender"
	"tenant-broadcast/internal/storage"
)

var (
	ErrNoRecipients  = errors.New("broadcast has no recipients")
	ErrEmptyMessage  = errors.New("broadcast message is empty")
	ErrUnknownTenant = errors.New("unknown tenant")
	ErrDuplicateJob  = errors.New("broadcast job already exists")
)

// TenantStore resolves tenant credentials and persists config overrides.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (model.Tenant, error)
	SaveTenantConfig(ctx context.Context, id string, partial queue.PartialConfig) error
}

// Sender delivers one message through a tenant's messaging instance.
type Sender interface {
	SendText(ctx context.Context, instanceName, apiKey, recipient, body string) (model.SendResult, error)
}

// Publisher receives job completion events. It may be nil.
type Publisher interface {
	Publish(tenantID string, body []byte) error
}

type Deps struct {
	Manager   *manager.BroadcastManager
	Tracker   *progress.Tracker
	Tenants   TenantStore
	Sender    Sender
	Publisher Publisher
	Log       zerolog.Logger

	// InitialBackoff is the first retry delay of a failed send.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Service struct {
	mgr       *manager.BroadcastManager
	tracker   *progress.Tracker
	tenants   TenantStore
	sender    Sender
	publisher Publisher
	log       zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	wg sync.WaitGroup
}

func NewService(d Deps) *Service {
	if d.InitialBackoff <= 0 {
		d.InitialBackoff = 500 * time.Millisecond
	}
	if d.MaxBackoff <= 0 {
		d.MaxBackoff = 10 * time.Second
	}
	return &Service{
		mgr:            d.Manager,
		tracker:        d.Tracker,
		tenants:        d.Tenants,
		sender:         d.Sender,
		publisher:      d.Publisher,
		log:            d.Log,
		initialBackoff: d.InitialBackoff,
		maxBackoff:     d.MaxBackoff,
	}
}

type delivery struct {
	number string
	text   string
}

// Start validates req, registers a progress record and enqueues one send per
// recipient on the tenant's queue. It returns as soon as everything is queued.
func (s *Service) Start(ctx context.Context, tenantID string, req model.BroadcastRequest) (string, error) {
	deliveries, err := validate(req)
	if err != nil {
		return "", err
	}
	if tenantID == "" {
		return "", ErrUnknownTenant
	}

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if errors.Is(err, storage.ErrTenantNotFound) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	if err != nil {
		return "", fmt.Errorf("load tenant %s: %w", tenantID, err)
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if !s.tracker.StartIfAbsent(jobID, tenantID, len(deliveries)) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}
	metrics.BroadcastJobs.WithLabelValues(tenantID, "started").Inc()

	// Sends outlive the caller's request.
	taskCtx := context.WithoutCancel(ctx)
	futures := make([]*queue.Future, len(deliveries))
	for i, d := range deliveries {
		futures[i] = s.mgr.Enqueue(taskCtx, tenantID, s.sendTask(tenant, d))
	}

	s.log.Info().
		Str("tenant", tenantID).
		Str("job", jobID).
		Int("total", len(deliveries)).
		Msg("broadcast job enqueued")

	s.wg.Add(1)
	go s.collect(jobID, tenantID, deliveries, futures)
	return jobID, nil
}

func validate(req model.BroadcastRequest) ([]delivery, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	out := make([]delivery, 0, len(req.Recipients))
	for i, r := range req.Recipients {
		text := r.Text
		if strings.TrimSpace(text) == "" {
			text = req.Message
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: recipient %d", ErrEmptyMessage, i)
		}
		if strings.TrimSpace(r.Number) == "" {
			return nil, fmt.Errorf("%w: recipient %d", sender.ErrInvalidRecipient, i)
		}
		out = append(out, delivery{number: r.Number, text: text})
	}
	return out, nil
}

// sendTask retries the send itself; the queue only orders and throttles.
func (s *Service) sendTask(tenant model.Tenant, d delivery) queue.Task {
	return func(ctx context.Context) (any, error) {
		retries := s.mgr.TenantConfig(tenant.ID).Retries

		var result model.SendResult
		op := func() error {
			res, err := s.sender.SendText(ctx, tenant.InstanceName, tenant.APIKey, d.number, d.text)
			if err != nil {
				if !retryable(err) {
					return backoff.Permanent(err)
				}
				return err
			}
			result = res
			return nil
		}
		notify := func(err error, wait time.Duration) {
			s.log.Debug().
				Str("tenant", tenant.ID).
				Str("recipient", d.number).
				Dur("delay", wait).
				Err(err).
				Msg("broadcast send retry scheduled")
		}

		err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(retries)), ctx), notify)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.MaxInterval = s.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func retryable(err error) bool {
	if errors.Is(err, sender.ErrInvalidRecipient) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *sender.StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func (s *Service) collect(jobID, tenantID string, deliveries []delivery, futures []*queue.Future) {
	defer s.wg.Done()
	start := time.Now()

	for i, f := range futures {
		_, err := f.Wait(context.Background())
		switch {
		case err == nil:
			s.tracker.RecordSuccess(jobID)
		case errors.Is(err, queue.ErrQueueStopped), errors.Is(err, queue.ErrQueueClosed):
			s.tracker.RecordCancelled(jobID)
		default:
			s.tracker.RecordFailure(jobID, fmt.Sprintf("%s: %v", deliveries[i].number, err))
			s.log.Warn().
				Str("tenant", tenantID).
				Str("job", jobID).
				Str("recipient", deliveries[i].number).
				Err(err).
				Msg("broadcast send failed")
		}
	}

	rec, ok := s.tracker.Get(jobID)
	if !ok {
		s.log.Warn().Str("tenant", tenantID).Str("job", jobID).Msg("progress record expired before job finished")
		return
	}

	state := "completed"
	if rec.Cancelled > 0 {
		state = "cancelled"
	}
	metrics.BroadcastJobs.WithLabelValues(tenantID, state).Inc()

	level := zerolog.InfoLevel
	if rec.Failed > 0 {
		level = zerolog.WarnLevel
	}
	s.log.WithLevel(level).
		Str("tenant", tenantID).
		Str("job", jobID).
		Int("total", rec.Total).
		Int("success", rec.Success).
		Int("failed", rec.Failed).
		Int("cancelled", rec.Cancelled).
		Dur("dur", time.Since(start)).
		Msg("broadcast job finished")

	s.publish(rec)
}

func (s *Service) publish(rec progress.Record) {
	if s.publisher == nil {
		return
	}
	body, err := json.Marshal(model.BroadcastEvent{
		Type:      model.EventBroadcastCompleted,
		JobID:     rec.JobID,
		TenantID:  rec.TenantID,
		Total:     rec.Total,
		Success:   rec.Success,
		Failed:    rec.Failed,
		Cancelled: rec.Cancelled,
		Errors:    rec.Errors,
		At:        time.Now(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("job", rec.JobID).Msg("encode broadcast event")
		return
	}
	if err := s.publisher.Publish(rec.TenantID, body); err != nil {
		s.log.Error().Err(err).Str("tenant", rec.TenantID).Str("job", rec.JobID).Msg("publish broadcast event")
	}
}

// Progress returns the job's record when it belongs to tenantID.
func (s *Service) Progress(tenantID, jobID string) (progress.Record, bool) {
	rec, ok := s.tracker.Get(jobID)
	if !ok || rec.TenantID != tenantID {
		return progress.Record{}, false
	}
	return rec, true
}

// Stop rejects the tenant's queued sends; in-flight sends finish.
func (s *Service) Stop(tenantID string) int {
	n := s.mgr.StopQueue(tenantID)
	s.log.Info().Str("tenant", tenantID).Int("rejected", n).Msg("broadcast queue stop requested")
	return n
}

// UpdateConfig persists partial and then applies it to the live queue. A
// failed save leaves the live config untouched.
func (s *Service) UpdateConfig(ctx context.Context, tenantID string, partial queue.PartialConfig) (queue.Config, error) {
	return s.mgr.ApplyTenantConfig(tenantID, partial, func(queue.Config) error {
		if err := s.tenants.SaveTenantConfig(ctx, tenantID, partial); err != nil {
			return fmt.Errorf("persist config for %s: %w", tenantID, err)
		}
		return nil
	})
}

func (s *Service) Config(tenantID string) queue.Config {
	return s.mgr.TenantConfig(tenantID)
}

func (s *Service) Stats() map[string]queue.Stats {
	return s.mgr.GetAllStats()
}

// Wait blocks until every job collector has returned or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveTenant drops the tenant's live queue. Pending sends are rejected.
func (s *Service) RemoveTenant(ctx context.Context, tenantID string) error {
	return s.mgr.RemoveTenant(ctx, tenantID)
}
