package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic partitions the event stream. Ordering is guaranteed per topic only.
type Topic string

const (
	TopicServer Topic = "server-event"
	TopicApp    Topic = "app-event"
)

// Kind is the event type discriminator carried on the wire
type Kind string

// Server event kinds
const (
	KindStarted       Kind = "started"
	KindStopped       Kind = "stopped"
	KindCrashed       Kind = "crashed"
	KindUpdated       Kind = "updated"
	KindConfigChanged Kind = "config-changed"
)

// App event kinds
const (
	KindWorkspaceCreated Kind = "workspace-created"
	KindWorkspaceUpdated Kind = "workspace-updated"
	KindWorkspaceDeleted Kind = "workspace-deleted"
	KindProfileUpdated   Kind = "profile-updated"
	KindServerAdded      Kind = "server-added"
	KindServerDeleted    Kind = "server-deleted"
	KindSecretsChanged   Kind = "secrets-changed"
)

// KindBackpressureDrop is synthesized for a subscriber whose mailbox
// overflowed. The subscriber lost at least one event on that topic and
// should resync from the journal.
const KindBackpressureDrop Kind = "backpressure-drop"

// Event is a single bus message
type Event struct {
	ID          string         `json:"id"`
	Topic       Topic          `json:"topic"`
	Type        Kind           `json:"type"`
	ServerID    string         `json:"serverId,omitempty"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// mailboxSize bounds the per-subscriber queue. Overflow drops the oldest
// queued event for that subscriber, never the newest.
const mailboxSize = 256

// Subscription is one subscriber's view of the bus. Events arrive on C in
// emission order per topic until Close is called.
type Subscription struct {
	bus    *Bus
	topics map[Topic]bool

	mu          sync.Mutex
	queue       []*Event
	dropPending map[Topic]bool
	closed      bool

	notify chan struct{}
	out    chan *Event

	// C receives the subscriber's events
	C <-chan *Event
}

// Bus is the in-process pub/sub broker for server and app events
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus creates an event bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscriber for the given topics (all topics when
// none are named). The returned subscription must be closed when done.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	if len(topics) == 0 {
		topics = []Topic{TopicServer, TopicApp}
	}

	sub := &Subscription{
		bus:         b,
		topics:      make(map[Topic]bool, len(topics)),
		dropPending: make(map[Topic]bool),
		notify:      make(chan struct{}, 1),
		out:         make(chan *Event),
	}
	sub.C = sub.out
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish delivers an event to every subscriber of its topic. Never blocks:
// a full mailbox sheds its oldest event and flags the loss with a single
// backpressure-drop event. The bus lock is held across the fan-out so all
// subscribers observe the same emission order.
func (b *Bus) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if sub.topics[event.Topic] {
			sub.enqueue(event)
		}
	}
}

// Close shuts down the bus and all remaining subscriptions
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// enqueue appends an event to the subscriber mailbox, shedding the oldest
// entry on overflow
func (s *Subscription) enqueue(event *Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if len(s.queue) >= mailboxSize {
		// Drop the oldest event and note the loss once per topic until the
		// subscriber has seen the marker.
		dropped := s.queue[0]
		s.queue = s.queue[1:]
		if !s.dropPending[dropped.Topic] {
			s.dropPending[dropped.Topic] = true
			s.queue = append(s.queue, &Event{
				ID:        uuid.New().String(),
				Topic:     dropped.Topic,
				Type:      KindBackpressureDrop,
				Timestamp: time.Now(),
			})
		}
	}
	s.queue = append(s.queue, event)

	// Signal under the lock so Close cannot close notify between the closed
	// check above and this send.
	select {
	case s.notify <- struct{}{}:
	default:
	}
	s.mu.Unlock()
}

// pump moves events from the mailbox to the receive channel
func (s *Subscription) pump() {
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			event := s.queue[0]
			s.queue = s.queue[1:]
			if event.Type == KindBackpressureDrop {
				delete(s.dropPending, event.Topic)
			}
			s.mu.Unlock()

			s.out <- event
		}
	}
	close(s.out)
}

// Close cancels the subscription. The mailbox is drained and released; C is
// closed once the pump exits.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	close(s.notify)
	s.mu.Unlock()

	// Drain any in-flight delivery so the pump can exit
	go func() {
		for range s.out {
		}
	}()
}
