// Package eventstore provides the append-only run history: lifecycle events
// of build runs stored in SQLite and folded into run summaries.
package eventstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"
)

const (
	runStatusRunning = "running"
	runStatusSuccess = "success"
	runStatusFailed  = "failed"
)

// RunSummary is a read model summarizing a completed or in-progress run.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	Build        string        `json:"build"`
	Status       string        `json:"status"` // "running", "success", "failed"
	Strategy     string        `json:"strategy,omitempty"`
	Trigger      string        `json:"trigger,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	LayerCount   int           `json:"layer_count"`
	Dispatched   int           `json:"dispatched"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	FailedTask   string        `json:"failed_task,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// RunHistoryProjection maintains an in-memory view of run history,
// reconstructed from events stored in the event store.
type RunHistoryProjection struct {
	mu       sync.RWMutex
	store    Store
	runs     map[string]*RunSummary // runID -> summary
	history  []*RunSummary          // completed runs, newest first
	maxSize  int
	lastSync time.Time
}

// NewRunHistoryProjection creates a new projection backed by the given store.
func NewRunHistoryProjection(store Store, maxHistorySize int) *RunHistoryProjection {
	if maxHistorySize <= 0 {
		maxHistorySize = 100
	}
	return &RunHistoryProjection{
		store:   store,
		runs:    make(map[string]*RunSummary),
		history: make([]*RunSummary, 0, maxHistorySize),
		maxSize: maxHistorySize,
	}
}

// Rebuild reconstructs the projection from all events in the store.
// This is typically called at startup.
func (p *RunHistoryProjection) Rebuild(ctx context.Context) error {
	events, err := p.store.GetRange(ctx, time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs = make(map[string]*RunSummary)
	p.history = make([]*RunSummary, 0, p.maxSize)
	for _, event := range events {
		p.applyEventLocked(event)
	}
	p.lastSync = time.Now()
	return nil
}

// Apply processes a single event and updates the projection.
// This is used for real-time updates when events are emitted.
func (p *RunHistoryProjection) Apply(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applyEventLocked(event)
}

func (p *RunHistoryProjection) applyEventLocked(event Event) {
	runID := event.RunID()
	if runID == "" {
		return
	}

	summary, exists := p.runs[runID]
	if !exists {
		summary = &RunSummary{
			RunID:     runID,
			Build:     event.Build(),
			Status:    runStatusRunning,
			StartedAt: event.Timestamp(),
		}
		p.runs[runID] = summary
	}

	switch event.Type() {
	case TypeRunAccepted:
		summary.StartedAt = event.Timestamp()
		var payload struct {
			Strategy string     `json:"strategy"`
			Layers   [][]string `json:"layers"`
			Trigger  string     `json:"trigger"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.Strategy = payload.Strategy
			summary.LayerCount = len(payload.Layers)
			summary.Trigger = payload.Trigger
		}

	case TypeTaskDispatched:
		summary.Dispatched++

	case TypeTaskSucceeded:
		summary.Succeeded++

	case TypeTaskFailed:
		summary.Failed++

	case TypeRunSucceeded:
		p.completeLocked(summary, event.Timestamp(), runStatusSuccess)

	case TypeRunFailed:
		var payload struct {
			FailedTask string `json:"failed_task"`
			Message    string `json:"message"`
		}
		if err := json.Unmarshal(event.Payload(), &payload); err == nil {
			summary.FailedTask = payload.FailedTask
			summary.ErrorMessage = payload.Message
		}
		p.completeLocked(summary, event.Timestamp(), runStatusFailed)
	}
}

func (p *RunHistoryProjection) completeLocked(summary *RunSummary, at time.Time, status string) {
	summary.CompletedAt = &at
	summary.Duration = at.Sub(summary.StartedAt)
	summary.Status = status

	if slices.ContainsFunc(p.history, func(h *RunSummary) bool { return h.RunID == summary.RunID }) {
		return
	}
	p.history = append([]*RunSummary{summary}, p.history...)
	if len(p.history) > p.maxSize {
		p.history = p.history[:p.maxSize]
	}
	p.pruneRunsLocked()
}

// pruneRunsLocked removes completed runs not present in the bounded history.
// Caller must hold p.mu (write lock).
func (p *RunHistoryProjection) pruneRunsLocked() {
	keep := make(map[string]struct{}, len(p.history))
	for _, h := range p.history {
		keep[h.RunID] = struct{}{}
	}
	for id, summary := range p.runs {
		if summary.Status == runStatusRunning {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(p.runs, id)
		}
	}
}

// History returns completed runs newest first, optionally filtered by build.
func (p *RunHistoryProjection) History(build string) []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]RunSummary, 0, len(p.history))
	for _, h := range p.history {
		if build == "" || h.Build == build {
			result = append(result, *h)
		}
	}
	return result
}

// GetRun returns the summary for a specific run.
func (p *RunHistoryProjection) GetRun(runID string) (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	summary, exists := p.runs[runID]
	if !exists {
		return RunSummary{}, false
	}
	return *summary, true
}

// ActiveRuns returns runs that have no completion event yet.
func (p *RunHistoryProjection) ActiveRuns() []RunSummary {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []RunSummary
	for _, summary := range p.runs {
		if summary.Status == runStatusRunning {
			out = append(out, *summary)
		}
	}
	slices.SortFunc(out, func(a, b RunSummary) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// LastSyncTime returns when the projection was last synchronized.
func (p *RunHistoryProjection) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}
