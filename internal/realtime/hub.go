package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/observability/metrics"
)

const DefaultSubscriberBuffer = 64

var ErrHubUnavailable = errors.New("hub_unavailable")

// Hub keeps the subscribers of this node grouped by channel. Delivery never
// blocks: a subscriber whose buffer is full misses the event and is expected
// to reconcile by refetching.
type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	subscriberBuffer int
	metrics          *metrics.Realtime
}

type stream struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

type Subscription struct {
	hub       *Hub
	channelID snowflake.ID
	userID    snowflake.ID
	id        uint64
	ch        chan Envelope
	done      chan struct{}
	once      sync.Once
}

func NewHub(subscriberBuffer int, m *metrics.Realtime) *Hub {
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		subscriberBuffer: subscriberBuffer,
		metrics:          m,
	}
}

// Broadcast delivers env to local subscribers. It makes the Hub a Broker for
// single-node deployments.
func (h *Hub) Broadcast(_ context.Context, env Envelope) error {
	h.Deliver(env)
	return nil
}

// Deliver hands env to every subscriber of its channel and reports how many
// received it and how many were skipped because their buffer was full.
func (h *Hub) Deliver(env Envelope) (delivered int, dropped int) {
	if h == nil {
		return 0, 0
	}
	if revoked, ok := env.Payload.(MembershipRevoked); ok {
		h.MembershipRevoked(env.ChannelID, revoked.UserID)
		return 0, 0
	}
	h.mu.RLock()
	stream := h.streams[env.ChannelID]
	h.mu.RUnlock()
	if stream == nil {
		return 0, 0
	}

	stream.mu.Lock()
	subs := make([]*Subscription, 0, len(stream.subs))
	for _, sub := range stream.subs {
		subs = append(subs, sub)
	}
	stream.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- env:
			delivered++
		default:
			dropped++
		}
	}
	h.metrics.Delivered(string(env.Kind), delivered)
	h.metrics.Dropped(string(env.Kind), dropped)
	return delivered, dropped
}

func (h *Hub) Subscribe(channelID, userID snowflake.ID) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}

	sub := &Subscription{
		hub:       h,
		channelID: channelID,
		userID:    userID,
		ch:        make(chan Envelope, h.subscriberBuffer),
		done:      make(chan struct{}),
	}

	// Registration happens under the hub lock so unsubscribe cannot remove
	// the stream between lookup and insert.
	h.mu.Lock()
	current := h.streams[channelID]
	if current == nil {
		current = &stream{subs: make(map[uint64]*Subscription)}
		h.streams[channelID] = current
	}
	current.mu.Lock()
	sub.id = current.nextID
	current.nextID++
	current.subs[sub.id] = sub
	current.mu.Unlock()
	h.mu.Unlock()

	h.metrics.SubscriptionAdded()
	return sub, nil
}

// Subscribers reports the local subscriber count for channelID.
func (h *Hub) Subscribers(channelID snowflake.ID) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	stream := h.streams[channelID]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

// MembershipRevoked closes every local subscription userID holds on channelID.
func (h *Hub) MembershipRevoked(channelID, userID snowflake.ID) {
	if h == nil {
		return
	}
	h.mu.RLock()
	stream := h.streams[channelID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	revoked := make([]*Subscription, 0, 1)
	for _, sub := range stream.subs {
		if sub.userID == userID {
			revoked = append(revoked, sub)
		}
	}
	stream.mu.Unlock()

	for _, sub := range revoked {
		sub.Close()
	}
}

func (h *Hub) unsubscribe(channelID snowflake.ID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stream := h.streams[channelID]
	if stream == nil {
		return
	}

	stream.mu.Lock()
	_, existed := stream.subs[id]
	delete(stream.subs, id)
	empty := len(stream.subs) == 0
	stream.mu.Unlock()

	if empty {
		delete(h.streams, channelID)
	}
	if existed {
		h.metrics.SubscriptionRemoved()
	}
}

func (s *Subscription) Events() <-chan Envelope {
	if s == nil {
		return nil
	}
	return s.ch
}

// Done is closed once the subscription has been closed, locally or by revocation.
func (s *Subscription) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.done
}

func (s *Subscription) ChannelID() snowflake.ID { return s.channelID }

func (s *Subscription) UserID() snowflake.ID { return s.userID }

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.channelID, s.id)
		close(s.done)
	})
}
