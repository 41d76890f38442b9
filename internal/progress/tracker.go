// internal/progress/tracker.go
package progress

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultTTL         = 24 * time.Hour
	defaultCapacity    = 10_000
	defaultMaxErrors   = 50
	defaultMaxErrorLen = 200
)

// Record is a snapshot of one broadcast job's counters.
type Record struct {
	JobID       string     `json:"job_id"`
	TenantID    string     `json:"tenant_id"`
	Total       int        `json:"total"`
	Success     int        `json:"success"`
	Failed      int        `json:"failed"`
	Cancelled   int        `json:"cancelled"`
	Errors      []string   `json:"errors"`
	Done        bool       `json:"done"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Options struct {
	// TTL is how long a record is kept after its last update.
	TTL         time.Duration
	Capacity    uint64
	MaxErrors   int
	MaxErrorLen int
}

type job struct {
	mu  sync.Mutex
	rec Record
}

// Tracker keeps progress records in memory with bounded retention.
type Tracker struct {
	opts  Options
	cache *ttlcache.Cache[string, *job]
	now   func() time.Time
}

func NewTracker(opts Options) *Tracker {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.Capacity == 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = defaultMaxErrors
	}
	if opts.MaxErrorLen <= 0 {
		opts.MaxErrorLen = defaultMaxErrorLen
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *job](opts.TTL),
		ttlcache.WithDisableTouchOnHit[string, *job](),
		ttlcache.WithCapacity[string, *job](opts.Capacity),
	)
	return &Tracker{opts: opts, cache: cache, now: time.Now}
}

// Run evicts expired records until Stop is called. It blocks.
func (t *Tracker) Run() {
	t.cache.Start()
}

func (t *Tracker) Stop() {
	t.cache.Stop()
}

// Start creates (or resets) the record for jobID with zero counters.
func (t *Tracker) Start(jobID, tenantID string, total int) {
	t.cache.Set(jobID, t.newJob(jobID, tenantID, total), ttlcache.DefaultTTL)
}

// StartIfAbsent creates the record for jobID unless one is already tracked.
// It reports whether the record was created.
func (t *Tracker) StartIfAbsent(jobID, tenantID string, total int) bool {
	_, found := t.cache.GetOrSet(jobID, t.newJob(jobID, tenantID, total))
	return !found
}

func (t *Tracker) newJob(jobID, tenantID string, total int) *job {
	j := &job{rec: Record{
		JobID:     jobID,
		TenantID:  tenantID,
		Total:     total,
		Errors:    []string{},
		StartedAt: t.now(),
	}}
	j.rec.Done = total == 0
	if j.rec.Done {
		now := j.rec.StartedAt
		j.rec.CompletedAt = &now
	}
	return j
}

func (t *Tracker) RecordSuccess(jobID string) bool {
	return t.update(jobID, func(r *Record) { r.Success++ })
}

func (t *Tracker) RecordFailure(jobID, errMsg string) bool {
	msg := truncate(errMsg, t.opts.MaxErrorLen)
	return t.update(jobID, func(r *Record) {
		r.Failed++
		r.Errors = append(r.Errors, msg)
		if over := len(r.Errors) - t.opts.MaxErrors; over > 0 {
			r.Errors = append(r.Errors[:0:0], r.Errors[over:]...)
		}
	})
}

// RecordCancelled counts a recipient whose send never dispatched.
func (t *Tracker) RecordCancelled(jobID string) bool {
	return t.update(jobID, func(r *Record) { r.Cancelled++ })
}

func (t *Tracker) update(jobID string, fn func(*Record)) bool {
	item := t.cache.Get(jobID)
	if item == nil {
		return false
	}
	j := item.Value()

	j.mu.Lock()
	if j.rec.Done {
		j.mu.Unlock()
		return false
	}
	fn(&j.rec)
	if j.rec.Success+j.rec.Failed+j.rec.Cancelled >= j.rec.Total {
		now := t.now()
		j.rec.Done = true
		j.rec.CompletedAt = &now
	}
	j.mu.Unlock()

	// Refresh retention from the latest update.
	t.cache.Set(jobID, j, ttlcache.DefaultTTL)
	return true
}

// Get returns a copy of the record, or false when unknown or expired.
func (t *Tracker) Get(jobID string) (Record, bool) {
	item := t.cache.Get(jobID)
	if item == nil {
		return Record{}, false
	}
	j := item.Value()

	j.mu.Lock()
	defer j.mu.Unlock()
	cp := j.rec
	cp.Errors = append([]string(nil), j.rec.Errors...)
	if cp.Errors == nil {
		cp.Errors = []string{}
	}
	if j.rec.CompletedAt != nil {
		at := *j.rec.CompletedAt
		cp.CompletedAt = &at
	}
	return cp, true
}

func (t *Tracker) Len() int {
	return t.cache.Len()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
