package pushservice

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Event is a decrypted notification mapped to a stable shape.
type Event struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Icon       string `json:"icon"`
	CreatedAt  string `json:"createdAt,omitempty"`
	OnClickURL string `json:"onClickUrl,omitempty"`
}

// ReceivedEvent is an Event with the time it arrived.
type ReceivedEvent struct {
	Event      Event     `json:"event"`
	ChannelID  string    `json:"channelId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type eventPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon"`
	Data  map[string]any `json:"data"`
}

// decodeEvent parses a decrypted notification. The click URL is read from
// data.on_click, falling back to data.onClick.
func decodeEvent(plaintext string) (Event, error) {
	var p eventPayload
	if err := json.Unmarshal([]byte(plaintext), &p); err != nil {
		return Event{}, fmt.Errorf("pushservice: decode event: %w", err)
	}
	ev := Event{Title: p.Title, Body: p.Body, Icon: p.Icon}
	ev.CreatedAt = stringField(p.Data, "created_at")
	ev.OnClickURL = stringField(p.Data, "on_click")
	if ev.OnClickURL == "" {
		ev.OnClickURL = stringField(p.Data, "onClick")
	}
	return ev, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// EventBus fans decoded events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	logger *log.Logger

	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *log.Logger) *EventBus {
	return &EventBus{logger: logger, subs: make(map[int]chan Event)}
}

// Subscribe returns a channel receiving every event published from now on
// and a function that unsubscribes and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber and returns how many received it.
func (b *EventBus) Publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, ch := range b.subs {
		select {
		case ch <- ev:
			n++
		default:
			logf(b.logger, "event subscriber %d is full, dropping %q", id, ev.Title)
		}
	}
	return n
}
