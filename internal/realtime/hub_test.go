package realtime

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(channelID snowflake.ID, payload Payload) Envelope {
	return Envelope{
		ID:         "evt",
		Kind:       payload.Kind(),
		ChannelID:  channelID,
		OccurredAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:    payload,
	}
}

func TestHubDeliversOnlyToChannelSubscribers(t *testing.T) {
	hub := NewHub(4, nil)

	a, err := hub.Subscribe(1, 100)
	require.NoError(t, err)
	b, err := hub.Subscribe(1, 200)
	require.NoError(t, err)
	other, err := hub.Subscribe(2, 100)
	require.NoError(t, err)

	delivered, dropped := hub.Deliver(testEnvelope(1, TypingStopped{UserID: 100}))
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 0, dropped)

	for _, sub := range []*Subscription{a, b} {
		select {
		case env := <-sub.Events():
			assert.Equal(t, KindTypingStop, env.Kind)
		default:
			t.Fatal("expected event")
		}
	}
	select {
	case <-other.Events():
		t.Fatal("event leaked to another channel")
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(1, nil)
	sub, err := hub.Subscribe(1, 100)
	require.NoError(t, err)

	delivered, dropped := hub.Deliver(testEnvelope(1, TypingStopped{UserID: 1}))
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, dropped)

	delivered, dropped = hub.Deliver(testEnvelope(1, TypingStopped{UserID: 2}))
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, dropped)

	env := <-sub.Events()
	assert.Equal(t, TypingStopped{UserID: 1}, env.Payload)
}

func TestHubRemovesEmptyStreams(t *testing.T) {
	hub := NewHub(1, nil)
	a, _ := hub.Subscribe(1, 100)
	b, _ := hub.Subscribe(1, 200)
	assert.Equal(t, 2, hub.Subscribers(1))

	a.Close()
	a.Close()
	assert.Equal(t, 1, hub.Subscribers(1))

	b.Close()
	assert.Equal(t, 0, hub.Subscribers(1))
	hub.mu.RLock()
	_, ok := hub.streams[1]
	hub.mu.RUnlock()
	assert.False(t, ok)
}

func TestHubMembershipRevokedClosesUserSubscriptions(t *testing.T) {
	hub := NewHub(1, nil)
	revoked, _ := hub.Subscribe(1, 100)
	kept, _ := hub.Subscribe(1, 200)
	elsewhere, _ := hub.Subscribe(2, 100)

	hub.MembershipRevoked(1, 100)

	select {
	case <-revoked.Done():
	default:
		t.Fatal("subscription should be closed")
	}
	select {
	case <-kept.Done():
		t.Fatal("other member must stay subscribed")
	case <-elsewhere.Done():
		t.Fatal("other channel must stay subscribed")
	default:
	}
	assert.Equal(t, 1, hub.Subscribers(1))
}

func TestNilHub(t *testing.T) {
	var hub *Hub
	_, err := hub.Subscribe(1, 1)
	assert.ErrorIs(t, err, ErrHubUnavailable)
	delivered, dropped := hub.Deliver(testEnvelope(1, TypingStopped{}))
	assert.Zero(t, delivered)
	assert.Zero(t, dropped)
}
