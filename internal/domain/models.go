package domain

import (
	"maps"
	"slices"
	"time"
)

// Task is a named unit of work with zero or more named dependencies.
type Task struct {
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Command      string            `json:"command,omitempty" yaml:"command,omitempty"`
	WorkingDir   string            `json:"working_dir,omitempty" yaml:"working_dir,omitempty"`
	Env          map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	// Timeout overrides the orchestrator default when > 0.
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"-"`
	CreatedAt time.Time     `json:"created_at" yaml:"-"`
	UpdatedAt time.Time     `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (t Task) Clone() Task {
	t.Dependencies = slices.Clone(t.Dependencies)
	t.Env = maps.Clone(t.Env)
	return t
}

// Build names a set of member tasks executed together in dependency order.
type Build struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Tasks       []string  `json:"tasks" yaml:"tasks"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// Clone returns a deep copy.
func (b Build) Clone() Build {
	b.Tasks = slices.Clone(b.Tasks)
	return b
}
