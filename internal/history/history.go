package history

import (
	"context"
	"time"

	"github.com/loykin/rendersup/internal/report"
)

// EventType defines the kind of history event.
type EventType string

const (
	// EventCrash carries a finished incident with its recovery outcome.
	EventCrash EventType = "crash"
)

// Event is a history entry exported to external systems.
type Event struct {
	Type       EventType          `json:"type"`
	OccurredAt time.Time          `json:"occurred_at"`
	Report     report.CrashReport `json:"report"`
}

// NewCrashEvent wraps a finished report; OccurredAt is the detection time.
func NewCrashEvent(r report.CrashReport) Event {
	return Event{Type: EventCrash, OccurredAt: r.Timestamp.UTC(), Report: r}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// NullString maps "" to SQL NULL.
func NullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
