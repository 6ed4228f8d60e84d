package audit

import (
	"context"
	"strings"
	"sync"
)

// =============================================================================
// MEMORY SINK - bounded in-memory trail (testing/dev and cache use)
// =============================================================================

// MemorySink keeps the most recent `cap` events in memory. When full,
// the oldest event is evicted on append.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event // oldest first
	cap    int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{cap: Retention}
}

// NewMemorySinkWithCap is for tests that exercise eviction without
// appending ten thousand events.
func NewMemorySinkWithCap(capacity int) *MemorySink {
	return &MemorySink{cap: capacity}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if len(s.events) > s.cap {
		// Drop oldest. Copy so the backing array does not pin evicted events.
		trimmed := make([]Event, s.cap)
		copy(trimmed, s.events[len(s.events)-s.cap:])
		s.events = trimmed
	}
	return nil
}

func (s *MemorySink) Query(_ context.Context, q Query) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Newest first.
	var matched []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		if q.Match(s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}

	total := len(matched)
	offset := q.Offset
	if offset > total {
		offset = total
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < total {
		end = offset + q.Limit
	}

	return &Result{
		Events:     matched[offset:end],
		TotalCount: total,
		HasMore:    end < total,
	}, nil
}

// Len reports the number of retained events.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func searchMatch(e Event, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(e.EntityID), term) {
		return true
	}
	if strings.Contains(strings.ToLower(e.UserEmail), term) {
		return true
	}
	for _, v := range e.Metadata {
		if strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}
