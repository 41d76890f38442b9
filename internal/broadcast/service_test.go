package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-broadcast/internal/manager"
	"tenant-broadcast/internal/model"
	"tenant-broadcast/internal/progress"
	"tenant-broadcast/internal/queue"
	"tenant-broadcast/internal/sender"
	"tenant-broadcast/internal/storage"
)

type fakeTenants struct {
	mu      sync.Mutex
	tenants map[string]model.Tenant
	saved   map[string][]queue.PartialConfig
	saveErr error
}

func newFakeTenants(ids ...string) *fakeTenants {
	f := &fakeTenants{tenants: map[string]model.Tenant{}, saved: map[string][]queue.PartialConfig{}}
	for _, id := range ids {
		f.tenants[id] = model.Tenant{ID: id, InstanceName: "inst-" + id, APIKey: "key-" + id}
	}
	return f
}

func (f *fakeTenants) GetTenant(_ context.Context, id string) (model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return model.Tenant{}, fmt.Errorf("%w: %s", storage.ErrTenantNotFound, id)
	}
	return t, nil
}

func (f *fakeTenants) SaveTenantConfig(_ context.Context, id string, p queue.PartialConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved[id] = append(f.saved[id], p)
	return nil
}

type sendCall struct {
	instance, apiKey, recipient, body string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fn    func(recipient string, attempt int) error
	seen  map[string]int
}

func (f *fakeSender) SendText(_ context.Context, instance, apiKey, recipient, body string) (model.SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{instance, apiKey, recipient, body})
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	f.seen[recipient]++
	attempt := f.seen[recipient]
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		if err := fn(recipient, attempt); err != nil {
			return model.SendResult{}, err
		}
	}
	return model.SendResult{MessageID: "id-" + recipient, Recipient: recipient}, nil
}

func (f *fakeSender) attempts(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[recipient]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.BroadcastEvent
}

func (f *fakePublisher) Publish(tenantID string, body []byte) error {
	var ev model.BroadcastEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) all() []model.BroadcastEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.BroadcastEvent(nil), f.events...)
}

type fixture struct {
	svc       *Service
	mgr       *manager.BroadcastManager
	tracker   *progress.Tracker
	tenants   *fakeTenants
	sender    *fakeSender
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr, err := manager.NewBroadcastManager(queue.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	f := &fixture{
		mgr:       mgr,
		tracker:   progress.NewTracker(progress.Options{}),
		tenants:   newFakeTenants("t1", "t2"),
		sender:    &fakeSender{},
		publisher: &fakePublisher{},
	}
	f.svc = NewService(Deps{
		Manager:        mgr,
		Tracker:        f.tracker,
		Tenants:        f.tenants,
		Sender:         f.sender,
		Publisher:      f.publisher,
		Log:            zerolog.Nop(),
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.ShutdownAll(ctx)
		_ = f.svc.Wait(ctx)
	})
	return f
}

func (f *fixture) waitDone(t *testing.T, tenantID, jobID string) progress.Record {
	t.Helper()
	var rec progress.Record
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = f.svc.Progress(tenantID, jobID)
		return ok && rec.Done
	}, 5*time.Second, 2*time.Millisecond)
	return rec
}

func recipients(numbers ...string) []model.Recipient {
	out := make([]model.Recipient, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, model.Recipient{Number: n})
	}
	return out
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.sender.fn = func(recipient string, _ int) error {
		if recipient == "5511000000002" {
			return errors.New("boom")
		}
		return nil
	}

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message:    "promo",
		Recipients: recipients("5511000000001", "5511000000002", "5511000000003"),
	})
	require.NoError(t, err)

	rec := f.waitDone(t, "t1", jobID)
	assert.Equal(t, 3, rec.Total)
	assert.Equal(t, 2, rec.Success)
	assert.Equal(t, 1, rec.Failed)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0], "boom")

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.calls, 3)
	assert.Equal(t, sendCall{"inst-t1", "key-t1", "5511000000001", "promo"}, f.sender.calls[0])
	assert.Equal(t, "5511000000003", f.sender.calls[2].recipient)
}

func TestBroadcastPerRecipientText(t *testing.T) {
	f := newFixture(t)

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message: "default",
		Recipients: []model.Recipient{
			{Number: "5511000000001", Text: "hi Ana"},
			{Number: "5511000000002"},
		},
	})
	require.NoError(t, err)
	f.waitDone(t, "t1", jobID)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.Equal(t, "hi Ana", f.sender.calls[0].body)
	assert.Equal(t, "default", f.sender.calls[1].body)
}

func TestBroadcastRetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	retries := 2
	_, err := f.mgr.UpdateTenantConfig("t1", queue.PartialConfig{Retries: &retries})
	require.NoError(t, err)

	f.sender.fn = func(_ string, attempt int) error {
		if attempt < 3 {
			return &sender.StatusError{Code: http.StatusBadGateway, Body: "upstream"}
		}
		return nil
	}

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message:    "hello",
		Recipients: recipients("5511000000001"),
	})
	require.NoError(t, err)

	rec := f.waitDone(t, "t1", jobID)
	assert.Equal(t, 1, rec.Success)
	assert.Equal(t, 3, f.sender.attempts("5511000000001"))
}

func TestBroadcastGivesUpAfterRetries(t *testing.T) {
	f := newFixture(t)
	retries := 1
	_, err := f.mgr.UpdateTenantConfig("t1", queue.PartialConfig{Retries: &retries})
	require.NoError(t, err)

	f.sender.fn = func(string, int) error { return errors.New("connection reset") }

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message:    "hello",
		Recipients: recipients("5511000000001"),
	})
	require.NoError(t, err)

	rec := f.waitDone(t, "t1", jobID)
	assert.Equal(t, 1, rec.Failed)
	assert.Equal(t, 2, f.sender.attempts("5511000000001"))
}

func TestBroadcastDoesNotRetryPermanentErrors(t *testing.T) {
	f := newFixture(t)
	retries := 3
	_, err := f.mgr.UpdateTenantConfig("t1", queue.PartialConfig{Retries: &retries})
	require.NoError(t, err)

	f.sender.fn = func(string, int) error {
		return &sender.StatusError{Code: http.StatusUnauthorized, Body: "bad apikey"}
	}

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message:    "hello",
		Recipients: recipients("5511000000001"),
	})
	require.NoError(t, err)

	rec := f.waitDone(t, "t1", jobID)
	assert.Equal(t, 1, rec.Failed)
	assert.Equal(t, 1, f.sender.attempts("5511000000001"))
	assert.Contains(t, rec.Errors[0], "bad apikey")
}

func TestBroadcastStopCancelsQueuedSends(t *testing.T) {
	f := newFixture(t)
	two := 2
	_, err := f.mgr.UpdateTenantConfig("t1", queue.PartialConfig{MaxConcurrent: &two})
	require.NoError(t, err)

	release := make(chan struct{})
	var started atomic.Int64
	f.sender.fn = func(string, int) error {
		started.Add(1)
		<-release
		return nil
	}

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message: "hello",
		Recipients: recipients(
			"5511000000001", "5511000000002", "5511000000003", "5511000000004", "5511000000005",
		),
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, 3, f.svc.Stop("t1"))
	close(release)

	rec := f.waitDone(t, "t1", jobID)
	assert.Equal(t, 2, rec.Success)
	assert.Equal(t, 3, rec.Cancelled)
	assert.Zero(t, rec.Failed)
	assert.Equal(t, int64(2), started.Load())
}

func TestBroadcastPublishesCompletionEvent(t *testing.T) {
	f := newFixture(t)

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		JobID:      "job-42",
		Message:    "hello",
		Recipients: recipients("5511000000001", "5511000000002"),
	})
	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)

	require.Eventually(t, func() bool { return len(f.publisher.all()) == 1 }, 5*time.Second, 2*time.Millisecond)
	ev := f.publisher.all()[0]
	assert.Equal(t, model.EventBroadcastCompleted, ev.Type)
	assert.Equal(t, "job-42", ev.JobID)
	assert.Equal(t, "t1", ev.TenantID)
	assert.Equal(t, 2, ev.Success)
}

func TestBroadcastRejectsDuplicateJobID(t *testing.T) {
	f := newFixture(t)
	req := model.BroadcastRequest{JobID: "job-1", Message: "hi", Recipients: recipients("5511000000001")}

	_, err := f.svc.Start(context.Background(), "t1", req)
	require.NoError(t, err)
	_, err = f.svc.Start(context.Background(), "t1", req)
	require.ErrorIs(t, err, ErrDuplicateJob)
}

func TestBroadcastConcurrentDuplicateJobIDStartsOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := newFixture(t)
		req := model.BroadcastRequest{
			JobID:      fmt.Sprintf("dup-%d", i),
			Message:    "hi",
			Recipients: recipients("5511000000001"),
		}

		var accepted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := f.svc.Start(context.Background(), "t1", req); err == nil {
					accepted.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrDuplicateJob)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), accepted.Load(), "iteration %d", i)
		rec := f.waitDone(t, "t1", req.JobID)
		assert.Equal(t, 1, rec.Success)
		assert.Equal(t, 1, f.sender.attempts("5511000000001"))
	}
}

func TestBroadcastValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		tenant string
		req    model.BroadcastRequest
		want   error
	}{
		{"no recipients", "t1", model.BroadcastRequest{Message: "hi"}, ErrNoRecipients},
		{"empty message", "t1", model.BroadcastRequest{Recipients: recipients("5511000000001")}, ErrEmptyMessage},
		{"blank number", "t1", model.BroadcastRequest{Message: "hi", Recipients: recipients(" ")}, sender.ErrInvalidRecipient},
		{"unknown tenant", "ghost", model.BroadcastRequest{Message: "hi", Recipients: recipients("5511000000001")}, ErrUnknownTenant},
		{"missing tenant", "", model.BroadcastRequest{Message: "hi", Recipients: recipients("5511000000001")}, ErrUnknownTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Start(context.Background(), tt.tenant, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.mgr.ListTenantIDs())
}

func TestProgressIsScopedToTenant(t *testing.T) {
	f := newFixture(t)

	jobID, err := f.svc.Start(context.Background(), "t1", model.BroadcastRequest{
		Message:    "hi",
		Recipients: recipients("5511000000001"),
	})
	require.NoError(t, err)
	f.waitDone(t, "t1", jobID)

	_, ok := f.svc.Progress("t2", jobID)
	assert.False(t, ok)
	_, ok = f.svc.Progress("t1", "unknown")
	assert.False(t, ok)
}

func TestUpdateConfigPersistsOverrides(t *testing.T) {
	f := newFixture(t)
	five := 5

	cfg, err := f.svc.UpdateConfig(context.Background(), "t1", queue.PartialConfig{MaxConcurrent: &five})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, cfg, f.svc.Config("t1"))
	assert.Len(t, f.tenants.saved["t1"], 1)

	bad := -1
	_, err = f.svc.UpdateConfig(context.Background(), "t1", queue.PartialConfig{Retries: &bad})
	require.ErrorIs(t, err, queue.ErrInvalidConfig)
	assert.Len(t, f.tenants.saved["t1"], 1)
}

func TestUpdateConfigReportsStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.tenants.saveErr = errors.New("db down")
	two := 2

	_, err := f.svc.UpdateConfig(context.Background(), "t1", queue.PartialConfig{MaxConcurrent: &two})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, queue.DefaultConfig(), f.svc.Config("t1"))

	f.tenants.saveErr = nil
	cfg, err := f.svc.UpdateConfig(context.Background(), "t1", queue.PartialConfig{MaxConcurrent: &two})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, cfg, f.svc.Config("t1"))
}
