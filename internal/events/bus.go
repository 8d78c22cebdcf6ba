package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a recorded domain occurrence tied to a checkout session.
type Event struct {
	ID         uuid.UUID
	Topic      string
	SessionID  string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// Store persists emitted events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Notifier reacts to emitted events (sale log, metrics, etc.).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Bus records domain events and fans them out to downstream handlers.
type Bus struct {
	Store     Store
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit records the event and dispatches it to all configured notifiers.
// Notifier failures are joined and returned but do not prevent persistence.
func (b *Bus) Emit(ctx context.Context, topic string, sessionID string, payload any) (Event, error) {
	if b == nil || b.Store == nil {
		return Event{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return Event{}, errors.New("events: session id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}
	ev := Event{
		ID:         uuid.New(),
		Topic:      topic,
		SessionID:  sessionID,
		Payload:    encoded,
		OccurredAt: now,
	}
	if err := b.Store.Append(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("events: persist event: %w", err)
	}
	var joined error
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return encodePayload([]byte(v))
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		data := []byte(v)
		if !json.Valid(data) {
			return nil, errors.New("payload is not valid json")
		}
		return data, nil
	default:
		return json.Marshal(v)
	}
}

// MemoryStore keeps the most recent events in a bounded in-memory ring. The
// checkout core has no database of its own, so this doubles as the audit
// trail the host application can scrape.
type MemoryStore struct {
	Cap int

	mu     sync.Mutex
	events []Event
}

// Append records the event, evicting the oldest once the cap is reached.
func (m *MemoryStore) Append(_ context.Context, event Event) error {
	if m == nil {
		return errors.New("events: nil store")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	capacity := m.Cap
	if capacity <= 0 {
		capacity = 1024
	}
	m.events = append(m.events, event)
	if overflow := len(m.events) - capacity; overflow > 0 {
		m.events = append([]Event(nil), m.events[overflow:]...)
	}
	return nil
}

// Recent returns up to n most recent events, oldest first.
func (m *MemoryStore) Recent(n int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, n)
	copy(out, m.events[len(m.events)-n:])
	return out
}
