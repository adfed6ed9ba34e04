package eventstore

// Sentinel errors for event store operations. They share the persistence
// category so that CLI exit codes and retry hints stay consistent.

import (
	"git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

var (
	// ErrInitializeSchemaFailed indicates the database schema could not be initialized.
	ErrInitializeSchemaFailed = errors.PersistenceError("failed to initialize event store schema").Build()

	// ErrEventAppendFailed indicates appending an event failed.
	ErrEventAppendFailed = errors.PersistenceError("failed to append event to store").Build()

	// ErrEventQueryFailed indicates querying events failed.
	ErrEventQueryFailed = errors.PersistenceError("failed to query events from store").Build()

	// ErrMarshalPayloadFailed indicates JSON marshaling of event payload failed.
	ErrMarshalPayloadFailed = errors.InternalError("failed to marshal event payload").Build()
)
