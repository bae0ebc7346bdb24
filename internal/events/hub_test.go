package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matchguard/internal/events"
)

func TestHubDeliversToMatchSubscriber(t *testing.T) {
	hub := events.NewHub()
	_, ch, unsubscribe := hub.Subscribe("match-1")
	defer unsubscribe()

	hub.Publish(events.Event{Type: events.TypeMatchStarted, MatchID: "match-1", Timestamp: time.Now()})

	select {
	case ev := <-ch:
		require.Equal(t, events.TypeMatchStarted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubDoesNotCrossDeliverBetweenMatches(t *testing.T) {
	hub := events.NewHub()
	_, chA, unsubA := hub.Subscribe("match-a")
	defer unsubA()
	_, chB, unsubB := hub.Subscribe("match-b")
	defer unsubB()

	hub.Publish(events.Event{Type: events.TypeMatchCompleted, MatchID: "match-a"})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("match-a subscriber should have received the event")
	}
	select {
	case <-chB:
		t.Fatal("match-b subscriber should not receive match-a's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubSubscribeAllReceivesEveryEvent(t *testing.T) {
	hub := events.NewHub()
	_, all, unsubAll := hub.SubscribeAll()
	defer unsubAll()

	hub.Publish(events.Event{Type: events.TypeCaseOpened, MatchID: ""})
	hub.Publish(events.Event{Type: events.TypeProposalCreated, MatchID: "match-x"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-all:
			seen[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for global events")
		}
	}
	require.True(t, seen[events.TypeCaseOpened])
	require.True(t, seen[events.TypeProposalCreated])
}

func TestHubPublishNeverBlocksOnFullSubscriberChannel(t *testing.T) {
	hub := events.NewHub()
	_, _, unsubscribe := hub.Subscribe("match-full")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(events.Event{Type: events.TypeMatchStateChanged, MatchID: "match-full"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := events.NewHub()
	_, ch, unsubscribe := hub.Subscribe("match-z")
	unsubscribe()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
}
