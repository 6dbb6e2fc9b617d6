/*
Package events provides the in-process pub/sub bus for mcpden state changes.

The bus carries two topics, server-event and app-event, feeding WebSocket
subscribers, the event journal and the metrics counters. Publishing is
non-blocking for producers: every subscriber owns a bounded mailbox, and a
subscriber that falls behind sheds its oldest queued event rather than
stalling the supervisor or the API.

# Architecture

	┌────────────────────── EVENT BUS ───────────────────────┐
	│                                                         │
	│  Publisher ──> fan-out under bus lock                   │
	│                   │                                     │
	│                   ▼ per subscriber                      │
	│          mailbox (256, drop-oldest)                     │
	│                   │                                     │
	│                   ▼ pump goroutine                      │
	│          Subscription.C (unbuffered)                    │
	│                                                         │
	│  overflow: oldest event shed, one backpressure-drop     │
	│  marker enqueued per topic until the subscriber has     │
	│  seen it                                                │
	└─────────────────────────────────────────────────────────┘

# Ordering

Events on one topic reach every subscriber in emission order; the fan-out
happens under the bus lock so all subscribers observe the same order. No
ordering is guaranteed across topics.

# Backpressure

A subscriber whose mailbox overflows loses its oldest events and receives a
single synthesized backpressure-drop event for the affected topic. The
expected reaction is a resync from the event journal (GET /api/events/recent),
after which normal consumption resumes.

# Usage

	bus := events.NewBus()
	sub := bus.Subscribe(events.TopicServer)
	defer sub.Close()

	go func() {
		for e := range sub.C {
			handle(e)
		}
	}()

	bus.Publish(&events.Event{
		Topic:    events.TopicServer,
		Type:     events.KindStarted,
		ServerID: "srv-1",
	})
*/
package events
