package realtime

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/config"
)

type typingKey struct {
	channelID snowflake.ID
	userID    snowflake.ID
}

type typingEntry struct {
	timer clock.Timer
	gen   uint64
}

// TypingTracker turns typing.start frames into start/stop events. A user stays
// typing until they send typing.stop, disconnect, or stay silent past the TTL.
type TypingTracker struct {
	mu        sync.Mutex
	clock     clock.Clock
	policy    *config.PolicyHolder
	publisher Publisher
	active    map[typingKey]*typingEntry
	nextGen   uint64
}

func NewTypingTracker(c clock.Clock, policy *config.PolicyHolder, publisher Publisher) *TypingTracker {
	return &TypingTracker{
		clock:     c,
		policy:    policy,
		publisher: publisher,
		active:    make(map[typingKey]*typingEntry),
	}
}

// Start marks userID as typing in channelID. Repeated starts extend the TTL
// and only the first one is published.
func (t *TypingTracker) Start(ctx context.Context, channelID, userID snowflake.ID) {
	ttl := t.policy.Get().TypingTTL
	key := typingKey{channelID: channelID, userID: userID}

	t.mu.Lock()
	entry, already := t.active[key]
	if already {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{}
		t.active[key] = entry
	}
	t.nextGen++
	gen := t.nextGen
	entry.gen = gen
	entry.timer = t.clock.AfterFunc(ttl, func() { t.expire(key, gen) })
	expiresAt := t.clock.Now().Add(ttl)
	t.mu.Unlock()

	if !already {
		t.publisher.Publish(ctx, channelID, TypingStarted{UserID: userID, ExpiresAt: expiresAt})
	}
}

func (t *TypingTracker) Stop(ctx context.Context, channelID, userID snowflake.ID) {
	key := typingKey{channelID: channelID, userID: userID}

	t.mu.Lock()
	entry, ok := t.active[key]
	if ok {
		entry.timer.Stop()
		delete(t.active, key)
	}
	t.mu.Unlock()

	if ok {
		t.publisher.Publish(ctx, channelID, TypingStopped{UserID: userID})
	}
}

// IsTyping reports whether userID currently counts as typing in channelID.
func (t *TypingTracker) IsTyping(channelID, userID snowflake.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{channelID: channelID, userID: userID}]
	return ok
}

func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.active[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	t.publisher.Publish(context.Background(), key.channelID, TypingStopped{UserID: key.userID})
}
