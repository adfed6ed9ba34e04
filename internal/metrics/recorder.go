package metrics

import "time"

// ResultLabel enumerates task and build result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultTimeout  ResultLabel = "timeout"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for build and task metrics. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for nil receivers
// when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome ResultLabel)
	ObserveTaskDuration(d time.Duration, result ResultLabel)
	ObserveSortDuration(strategy string, d time.Duration)
	IncOrderCache(hit bool)
	IncPersistenceRetry(entity string)
	IncPersistenceRetryExhausted(entity string)
	SetTasksInFlight(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(time.Duration)              {}
func (NoopRecorder) IncBuildOutcome(ResultLabel)                     {}
func (NoopRecorder) ObserveTaskDuration(time.Duration, ResultLabel)  {}
func (NoopRecorder) ObserveSortDuration(string, time.Duration)       {}
func (NoopRecorder) IncOrderCache(bool)                              {}
func (NoopRecorder) IncPersistenceRetry(string)                      {}
func (NoopRecorder) IncPersistenceRetryExhausted(string)             {}
func (NoopRecorder) SetTasksInFlight(int)                            {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
