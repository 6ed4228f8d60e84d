/*
Package audit records allocation and rule-engine decisions.

PURPOSE:
  An append-only trail of who did what to which entity. Every allocation,
  reversal, rule decision, and group lifecycle change lands here so a
  balance can always be explained after the fact.

DESIGN:
  The trail is written through a swappable Sink interface. The bundled
  MemorySink keeps the most recent 10,000 events (oldest evicted first);
  the sqlite store provides a persistent sink with the same retention.
  Events are immutable once appended.

SEE ALSO:
  - memory.go: bounded in-memory sink
  - export.go: CSV export with a fixed column set
*/
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/warp/tab-engine/billing"
)

// Retention is the capacity bound of the live trail. Exceeding it evicts
// the oldest events; it is not an error condition.
const Retention = 10000

// =============================================================================
// EVENT
// =============================================================================

// Event is one immutable audit trail entry.
type Event struct {
	ID         string
	Timestamp  time.Time
	EntityType string // "payment", "line_item", "billing_group", "rule"
	EntityID   string
	Action     string // "allocated", "reversed", "rule_auto_assign", ...
	UserID     string
	UserEmail  string
	IPAddress  string
	Changes    map[string]string
	Metadata   map[string]string
}

// =============================================================================
// SINK - swappable append-only storage
// =============================================================================

// Sink stores audit events. Append-only; Query never mutates.
type Sink interface {
	Append(ctx context.Context, event Event) error
	Query(ctx context.Context, q Query) (*Result, error)
}

// =============================================================================
// QUERY
// =============================================================================

// Query filters the audit trail. Zero-valued fields are wildcards.
type Query struct {
	EntityType string
	EntityID   string
	Action     string
	UserID     string
	From       *time.Time
	To         *time.Time

	// Search is a case-insensitive free-text match across EntityID,
	// UserEmail, and metadata values.
	Search string

	Limit  int
	Offset int
}

// Result is one page of the trail, newest first.
type Result struct {
	Events     []Event
	TotalCount int
	HasMore    bool
}

// Match reports whether an event satisfies the query filters (paging
// excluded). Shared by the memory sink and tests.
func (q Query) Match(e Event) bool {
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.EntityID != q.EntityID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.From != nil && e.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && e.Timestamp.After(*q.To) {
		return false
	}
	if q.Search != "" && !searchMatch(e, q.Search) {
		return false
	}
	return true
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder assigns identity and time to events before appending them.
type Recorder struct {
	sink  Sink
	clock billing.Clock
}

func NewRecorder(sink Sink, clock billing.Clock) *Recorder {
	if clock == nil {
		clock = billing.SystemClock{}
	}
	return &Recorder{sink: sink, clock: clock}
}

// Record appends the event with a generated ID and timestamp and returns
// the stored form.
func (r *Recorder) Record(ctx context.Context, event Event) (Event, error) {
	event.ID = uuid.NewString()
	event.Timestamp = r.clock.Now().UTC()
	if err := r.sink.Append(ctx, event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// QueryTrail runs a filtered, paginated query against the sink.
func (r *Recorder) QueryTrail(ctx context.Context, q Query) (*Result, error) {
	return r.sink.Query(ctx, q)
}
