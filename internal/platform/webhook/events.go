// Package webhook simulates inbound hospital integrations: a hospital pushing
// a patient over an API call, and a hospital notifying us through a signed
// webhook that a patient changed. No listening port is opened; payloads are
// fabricated by Simulator and every processed notification is kept in an
// EventLog for display.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Domain structs
// ---------------------------------------------------------------------------

// Event types recorded in the log.
const (
	EventAPICall = "api_call"
	EventWebhook = "webhook"
)

// Event statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Event records a processed (simulated) inbound integration message.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	PatientID  string          `json:"patient_id"`
	Hospital   string          `json:"hospital"`
	Action     string          `json:"action,omitempty"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// ---------------------------------------------------------------------------
// EventLog
// ---------------------------------------------------------------------------

// EventLog persists processed integration events.
type EventLog interface {
	Record(ctx context.Context, e *Event) error
	List(ctx context.Context, limit, offset int) ([]*Event, int, error)
}

// DefaultLogCapacity bounds the in-memory log.
const DefaultLogCapacity = 500

// InMemoryEventLog is a thread-safe, bounded event log. When full, the oldest
// event is evicted. List returns newest first.
type InMemoryEventLog struct {
	mu       sync.RWMutex
	events   []*Event
	capacity int
}

// NewInMemoryEventLog creates an empty log. A non-positive capacity selects
// DefaultLogCapacity.
func NewInMemoryEventLog(capacity int) *InMemoryEventLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &InMemoryEventLog{capacity: capacity}
}

func (l *InMemoryEventLog) Record(_ context.Context, e *Event) error {
	if e == nil || e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) >= l.capacity {
		l.events = append(l.events[:0], l.events[1:]...)
	}
	l.events = append(l.events, e)
	return nil
}

func (l *InMemoryEventLog) List(_ context.Context, limit, offset int) ([]*Event, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := len(l.events)
	if offset >= total {
		return []*Event{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]*Event, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, l.events[total-1-i])
	}
	return out, total, nil
}
