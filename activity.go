package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignedIn            ActivityEventType = "session.signed_in"
	ActivityEventSignedOut           ActivityEventType = "session.signed_out"
	ActivityEventUnverifiedIdentity  ActivityEventType = "session.identity.unverified"
	ActivityEventDisplayNameResolved ActivityEventType = "session.display_name.resolved"
	ActivityEventLookupFailed        ActivityEventType = "session.lookup.failed"
	ActivityEventLookupDiscarded     ActivityEventType = "session.lookup.discarded"
)

// ActivityEvent captures audit-friendly information about a session change.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
