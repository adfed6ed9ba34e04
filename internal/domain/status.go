package domain

import "time"

// Status is the lifecycle state of a task or build.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is success or failed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStatus converts a stored value; unknown input maps to pending.
func ParseStatus(raw string) Status {
	if s := Status(raw); s.Valid() {
		return s
	}
	return StatusPending
}

// TaskStatus is a consistent snapshot of one task's lifecycle state.
type TaskStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	// Build and RunID identify the run that last moved the task out of pending.
	Build      string    `json:"build,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Duration returns the run time of a finished task, or zero.
func (s TaskStatus) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// BuildStatus is a consistent snapshot of one build's lifecycle state.
type BuildStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	// FailedTask names the task whose failure failed the build, if any.
	FailedTask string    `json:"failed_task,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Duration returns the run time of a finished build, or zero.
func (s BuildStatus) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
