// Package errors provides the classified error primitives used across buildgraph.
//
// Key features:
//   - ErrorCategory: broad classification (config, validation, graph, execution, persistence, ...)
//   - ErrorSeverity and RetryStrategy hints
//   - ClassifiedError plus a fluent ErrorBuilder
//   - Categorized: interface for domain error structs (cycle reports, unknown tasks)
//     so that CategoryOf works across the whole chain
//   - CLIErrorAdapter mapping categories to process exit codes
//
// Example usage:
//
//	err := errors.PersistenceError("write task status").
//		WithContext("task", name).
//		Build()
package errors
