package journal

import (
	"context"
	"sync"
	"time"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time      `json:"time"`
	Type        string         `json:"type"` // e.g. "signal", "trade", "run", "error"
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(ctx context.Context, event Event) error
	// GetEvents returns events of eventType in [start, end]. An empty
	// eventType matches every type.
	GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error)
}

// MemoryJournal keeps events in memory, in the order they were logged.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{events: make([]Event, 0, 64)}
}

func (m *MemoryJournal) LogEvent(ctx context.Context, event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	event.Time = event.Time.UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryJournal) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Events returns a copy of everything logged so far.
func (m *MemoryJournal) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Event(nil), m.events...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) LogEvent(context.Context, Event) error { return nil }

func (Discard) GetEvents(context.Context, string, time.Time, time.Time) ([]Event, error) {
	return nil, nil
}
