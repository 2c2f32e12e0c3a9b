// Package accessmemo memoizes channel access checks for the lifetime of one
// request. A memo is attached to the request context by the HTTP layer and
// discarded with it; nothing is cached across requests.
package accessmemo

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

type memoKey struct{}

type entryKey struct {
	channelID snowflake.ID
	userID    snowflake.ID
}

// Memo stores arbitrary access results keyed by channel and user.
type Memo struct {
	mu      sync.Mutex
	entries map[entryKey]any
}

func New() *Memo {
	return &Memo{entries: make(map[entryKey]any)}
}

// WithMemo stores a fresh memo in the context.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, New())
}

// FromContext returns the memo in ctx, if set.
func FromContext(ctx context.Context) (*Memo, bool) {
	if ctx == nil {
		return nil, false
	}
	memo, ok := ctx.Value(memoKey{}).(*Memo)
	return memo, ok && memo != nil
}

func (m *Memo) Get(channelID, userID snowflake.ID) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[entryKey{channelID: channelID, userID: userID}]
	return v, ok
}

func (m *Memo) Put(channelID, userID snowflake.ID, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entryKey{channelID: channelID, userID: userID}] = v
}

// InvalidateChannel drops every entry for channelID.
func (m *Memo) InvalidateChannel(channelID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.channelID == channelID {
			delete(m.entries, k)
		}
	}
}

// Invalidate drops the memo entries for channelID in ctx, if any memo is attached.
func Invalidate(ctx context.Context, channelID snowflake.ID) {
	if memo, ok := FromContext(ctx); ok {
		memo.InvalidateChannel(channelID)
	}
}
