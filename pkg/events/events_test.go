package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(sub *Subscription, n int, timeout time.Duration) []*Event {
	var got []*Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-deadline:
			return got
		}
	}
	return got
}

func TestPublish_DeliversInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicServer)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.Publish(&Event{
			Topic:    TopicServer,
			Type:     KindStarted,
			ServerID: fmt.Sprintf("srv-%d", i),
		})
	}

	got := collect(sub, 10, 2*time.Second)
	require.Len(t, got, 10)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("srv-%d", i), e.ServerID)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestSubscribe_TopicFiltering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicApp)
	defer sub.Close()

	bus.Publish(&Event{Topic: TopicServer, Type: KindStarted})
	bus.Publish(&Event{Topic: TopicApp, Type: KindWorkspaceCreated})

	got := collect(sub, 1, 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, KindWorkspaceCreated, got[0].Type)

	// Nothing else shows up
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected event: %v", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_OverflowDropsOldestAndFlags(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicServer)
	defer sub.Close()

	// The pump takes one event off the mailbox immediately, so overfill by
	// enough that drops are guaranteed regardless of scheduling.
	total := mailboxSize * 2
	for i := 0; i < total; i++ {
		bus.Publish(&Event{
			Topic:    TopicServer,
			Type:     KindStarted,
			ServerID: fmt.Sprintf("srv-%d", i),
		})
	}

	got := collect(sub, total, time.Second)
	assert.Less(t, len(got), total, "some events must have been shed")

	var drops int
	lastIndex := -1
	for _, e := range got {
		if e.Type == KindBackpressureDrop {
			drops++
			continue
		}
		var idx int
		fmt.Sscanf(e.ServerID, "srv-%d", &idx)
		assert.Greater(t, idx, lastIndex, "surviving events stay in emission order")
		lastIndex = idx
	}
	assert.GreaterOrEqual(t, drops, 1)

	// The newest event is never the one shed
	last := got[len(got)-1]
	if last.Type != KindBackpressureDrop {
		assert.Equal(t, fmt.Sprintf("srv-%d", total-1), last.ServerID)
	}
}

func TestPublish_NeverBlocksWithoutReader(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(TopicServer)
	defer sub.Close()
	_ = sub // nobody reads

	done := make(chan struct{})
	go func() {
		for i := 0; i < mailboxSize*4; i++ {
			bus.Publish(&Event{Topic: TopicServer, Type: KindStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestClose_ReleasesSubscription(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	sub.Close() // idempotent
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after close must not panic or deliver
	bus.Publish(&Event{Topic: TopicServer, Type: KindStopped})
}

func TestTwoSubscribers_IndependentMailboxes(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe(TopicServer)
	defer a.Close()
	b := bus.Subscribe(TopicServer)
	defer b.Close()

	// A full mailbox of events fits without shedding even if neither
	// subscriber reads until publishing is done.
	for i := 0; i < mailboxSize; i++ {
		bus.Publish(&Event{Topic: TopicServer, Type: KindStarted, ServerID: fmt.Sprintf("srv-%d", i)})
	}

	gotA := collect(a, mailboxSize, 2*time.Second)
	gotB := collect(b, mailboxSize, 2*time.Second)
	require.Len(t, gotA, mailboxSize)
	require.Len(t, gotB, mailboxSize)
	for i := range gotA {
		assert.Equal(t, gotA[i].ServerID, gotB[i].ServerID, "both subscribers see the same order")
	}
}
