package audit

import "context"

// Sink persists audit events durably. Interface owned by the domain per
// hexagonal architecture.
//
// Implementations must treat events as write-once: no update or delete
// operations exist. Errors are surfaced to the audit service, which logs
// and swallows them; a sink failure must never fail the operation being
// audited.
type Sink interface {
	// Write persists one event.
	Write(ctx context.Context, event Event) error
}

// QueryableSink is a sink that additionally supports filtered reads.
// The relational sink implements this; the WORM object sink does not.
type QueryableSink interface {
	Sink

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, filter Filter) (Page, error)
}
