// Package registry tracks the status of research runs in memory. The
// registry is the only shared state between the detached pipeline task, the
// voice-platform status webhooks and the dashboard; it holds nothing across
// a process restart.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/salogamer2002/voicedesk/internal/models"
)

// RunStatus is the stored record for one run identifier.
type RunStatus struct {
	Query       string         `json:"query,omitempty"`
	Complete    bool           `json:"complete"`
	InProgress  bool           `json:"in_progress"`
	Announced   bool           `json:"announced"`
	Error       string         `json:"error,omitempty"`
	Results     *models.Result `json:"results,omitempty"`
	SourceCount int            `json:"source_count,omitempty"`
	Confidence  string         `json:"confidence,omitempty"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
	FailedAt    string         `json:"failed_at,omitempty"`
	UpdatedAt   string         `json:"updated_at"`
}

// Update is a partial RunStatus: nil fields are left untouched by Set.
type Update struct {
	Query       *string
	Complete    *bool
	InProgress  *bool
	Announced   *bool
	Error       *string
	Results     *models.Result
	SourceCount *int
	Confidence  *string
	StartedAt   *string
	CompletedAt *string
	FailedAt    *string
}

// Registry is the mutex-guarded run-status store. Construct one per process
// with New and inject it; none of its operations return errors — a missing
// id is a valid outcome, not a failure.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]RunStatus
	cancels  map[string]context.CancelFunc
	logger   *log.Logger
}

// New creates an empty registry.
func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags)
	}
	return &Registry{
		statuses: make(map[string]RunStatus),
		cancels:  make(map[string]context.CancelFunc),
		logger:   logger,
	}
}

// Set merges the given fields into the stored record for id, creating the
// record if needed, and stamps the update time. Later merges win per field.
func (r *Registry) Set(id string, upd Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.statuses[id]
	if upd.Query != nil {
		st.Query = *upd.Query
	}
	if upd.Complete != nil {
		st.Complete = *upd.Complete
	}
	if upd.InProgress != nil {
		st.InProgress = *upd.InProgress
	}
	if upd.Announced != nil {
		st.Announced = *upd.Announced
	}
	if upd.Error != nil {
		st.Error = *upd.Error
	}
	if upd.Results != nil {
		st.Results = upd.Results
	}
	if upd.SourceCount != nil {
		st.SourceCount = *upd.SourceCount
	}
	if upd.Confidence != nil {
		st.Confidence = *upd.Confidence
	}
	if upd.StartedAt != nil {
		st.StartedAt = *upd.StartedAt
	}
	if upd.CompletedAt != nil {
		st.CompletedAt = *upd.CompletedAt
	}
	if upd.FailedAt != nil {
		st.FailedAt = *upd.FailedAt
	}
	st.UpdatedAt = time.Now().Format(time.RFC3339)
	r.statuses[id] = st
}

// Get returns the stored record for id. The second return reports whether a
// record exists.
func (r *Registry) Get(id string) (RunStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[id]
	return st, ok
}

// MarkAnnounced flips the announced flag for id. Calling it on a missing id
// or an already-announced record is a no-op.
func (r *Registry) MarkAnnounced(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[id]
	if !ok {
		return
	}
	st.Announced = true
	st.UpdatedAt = time.Now().Format(time.RFC3339)
	r.statuses[id] = st
}

// Clear removes the record for id if present and cancels any tracked run.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[id]; ok {
		cancel()
		delete(r.cancels, id)
	}
	if _, ok := r.statuses[id]; ok {
		delete(r.statuses, id)
		r.logger.Printf("cleared status for %s", id)
	}
}

// Track stores the cancellation handle for a running pipeline task so a
// later run (or an explicit cancel) can abort it. A handle already tracked
// under the same id is cancelled first.
func (r *Registry) Track(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.cancels[id]; ok {
		prev()
	}
	r.cancels[id] = cancel
}

// Cancel aborts the tracked run for id, if any. It reports whether a handle
// was present.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[id]
	if ok {
		cancel()
		delete(r.cancels, id)
	}
	return ok
}

// Untrack drops the cancellation handle without invoking it. The pipeline
// calls this when a run reaches a terminal state on its own.
func (r *Registry) Untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}
