// Package metrics provides an observability framework for buildgraph build and task metrics.
//
// # Design Philosophy
//
// This package implements the Null Object pattern to enable metrics collection
// without requiring explicit nil checks throughout the codebase. By default,
// all components use NoopRecorder which implements the Recorder interface with
// no-op methods that inline to nothing at compile time.
//
// # Architecture
//
// The metrics system has three components:
//
//  1. Recorder interface - Defines all metrics operations
//  2. NoopRecorder - Default implementation that does nothing (zero overhead)
//  3. Real implementations - Prometheus/OpenTelemetry adapters (activated when needed)
//
// # Usage Pattern
//
// Components receive a Recorder through dependency injection:
//
//	type Orchestrator struct {
//	    recorder metrics.Recorder
//	}
//
//	orch := orchestrator.New(reg, tracker, dispatcher, orchestrator.Options{
//	    Recorder: metrics.NoopRecorder{}, // Default: no metrics
//	})
//
// # Activation
//
// To enable metrics, swap NoopRecorder for a real implementation:
//
//	// When monitoring.metrics.enabled is set
//	recorder := metrics.NewPrometheusRecorder(registry)
//	http.Handle(cfg.Monitoring.Metrics.Path, metrics.HTTPHandler(registry))
//
// The daemon serves the registry over HTTP; one-shot CLI commands keep the
// NoopRecorder.
package metrics
