package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuild      = "build"
	KeyTask       = "task"
	KeyRunID      = "run_id"
	KeyLayer      = "layer"
	KeyStrategy   = "strategy"
	KeyStatus     = "status"
	KeyHandle     = "handle"
	KeyWorker     = "worker"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyScheduleID = "schedule_id"
	KeyPath       = "path"
	KeyError      = "error"
)

func Build(name string) slog.Attr    { return slog.String(KeyBuild, name) }
func Task(name string) slog.Attr     { return slog.String(KeyTask, name) }
func RunID(id string) slog.Attr      { return slog.String(KeyRunID, id) }
func Layer(i int) slog.Attr          { return slog.Int(KeyLayer, i) }
func Strategy(s string) slog.Attr    { return slog.String(KeyStrategy, s) }
func Status(s string) slog.Attr      { return slog.String(KeyStatus, s) }
func Handle(id string) slog.Attr     { return slog.String(KeyHandle, id) }
func Worker(id string) slog.Attr     { return slog.String(KeyWorker, id) }
func Attempt(n int) slog.Attr        { return slog.Int(KeyAttempt, n) }
func ScheduleID(id string) slog.Attr { return slog.String(KeyScheduleID, id) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }

// Duration reports d in fractional milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
