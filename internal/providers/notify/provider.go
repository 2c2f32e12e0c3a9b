// Package notify forwards out-of-channel alerts to the notification
// pipeline. Delivery to devices happens downstream.
package notify

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindCallStarted Kind = "call.started"
	KindMention     Kind = "message.mention"
)

// Notification is the record published for the downstream dispatcher.
type Notification struct {
	Kind       Kind           `json:"kind"`
	ChannelID  snowflake.ID   `json:"channel_id"`
	ActorID    snowflake.ID   `json:"actor_id"`
	Recipients []snowflake.ID `json:"recipients"`
	MessageID  *snowflake.ID  `json:"message_id,omitempty"`
	CallID     *snowflake.ID  `json:"call_id,omitempty"`
	CallType   string         `json:"call_type,omitempty"`
	Preview    string         `json:"preview,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

type NoOpDispatcher struct{}

func (NoOpDispatcher) Dispatch(context.Context, Notification) error { return nil }
