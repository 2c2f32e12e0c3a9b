package realtime

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/goccy/go-json"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
)

type Kind string

const (
	KindMessageCreated        Kind = "message.created"
	KindMessageEdited         Kind = "message.edited"
	KindMessageDeleted        Kind = "message.deleted"
	KindMessagePinned         Kind = "message.pinned"
	KindMessageUnpinned       Kind = "message.unpinned"
	KindReactionChanged       Kind = "reaction.changed"
	KindTypingStart           Kind = "typing.start"
	KindTypingStop            Kind = "typing.stop"
	KindCallStarted           Kind = "call.started"
	KindCallParticipantJoined Kind = "call.participant_joined"
	KindCallParticipantLeft   Kind = "call.participant_left"
	KindCallEnded             Kind = "call.ended"
	// KindCallState is sent once to each new subscriber.
	KindCallState Kind = "call.state"
	// KindMembershipRevoked is node-to-node control traffic. Hubs act on it
	// and never forward it to subscribers.
	KindMembershipRevoked Kind = "membership.revoked"
)

// Payload is the closed set of event bodies. Each kind has exactly one payload type.
type Payload interface {
	Kind() Kind
}

type MessageCreated struct {
	Message messagedomain.MessageView `json:"message"`
	// ParentReplyCount is the parent's reply count after this reply, when the message is a reply.
	ParentReplyCount *int `json:"parent_reply_count,omitempty"`
}

type MessageEdited struct {
	MessageID snowflake.ID `json:"message_id"`
	Content   string       `json:"content"`
	EditedAt  time.Time    `json:"edited_at"`
}

type MessageDeleted struct {
	MessageID snowflake.ID `json:"message_id"`
	DeletedBy snowflake.ID `json:"deleted_by"`
	DeletedAt time.Time    `json:"deleted_at"`
}

type MessagePinned struct {
	MessageID snowflake.ID `json:"message_id"`
	PinnedBy  snowflake.ID `json:"pinned_by"`
	PinnedAt  time.Time    `json:"pinned_at"`
}

type MessageUnpinned struct {
	MessageID  snowflake.ID `json:"message_id"`
	UnpinnedBy snowflake.ID `json:"unpinned_by"`
	UnpinnedAt time.Time    `json:"unpinned_at"`
}

type ReactionChanged struct {
	MessageID snowflake.ID                  `json:"message_id"`
	UserID    snowflake.ID                  `json:"user_id"`
	Emoji     string                        `json:"emoji"`
	Outcome   messagedomain.ReactionOutcome `json:"outcome"`
	Count     int                           `json:"count"`
}

type TypingStarted struct {
	UserID    snowflake.ID `json:"user_id"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type TypingStopped struct {
	UserID snowflake.ID `json:"user_id"`
}

type CallStarted struct {
	Call calldomain.CallView `json:"call"`
}

type CallParticipantJoined struct {
	CallID       snowflake.ID                 `json:"call_id"`
	UserID       snowflake.ID                 `json:"user_id"`
	Participants []calldomain.ParticipantView `json:"participants"`
}

type CallParticipantLeft struct {
	CallID       snowflake.ID                 `json:"call_id"`
	UserID       snowflake.ID                 `json:"user_id"`
	Participants []calldomain.ParticipantView `json:"participants"`
}

type CallEnded struct {
	CallID  snowflake.ID `json:"call_id"`
	EndedBy snowflake.ID `json:"ended_by"`
	EndedAt time.Time    `json:"ended_at"`
}

// CallState carries the channel's active call, or null when none is running.
type CallState struct {
	Call *calldomain.CallView `json:"call"`
}

// MembershipRevoked tells every node to close UserID's subscriptions on the
// envelope's channel.
type MembershipRevoked struct {
	UserID snowflake.ID `json:"user_id"`
}

func (MessageCreated) Kind() Kind        { return KindMessageCreated }
func (MessageEdited) Kind() Kind         { return KindMessageEdited }
func (MessageDeleted) Kind() Kind        { return KindMessageDeleted }
func (MessagePinned) Kind() Kind         { return KindMessagePinned }
func (MessageUnpinned) Kind() Kind       { return KindMessageUnpinned }
func (ReactionChanged) Kind() Kind       { return KindReactionChanged }
func (TypingStarted) Kind() Kind         { return KindTypingStart }
func (TypingStopped) Kind() Kind         { return KindTypingStop }
func (CallStarted) Kind() Kind           { return KindCallStarted }
func (CallParticipantJoined) Kind() Kind { return KindCallParticipantJoined }
func (CallParticipantLeft) Kind() Kind   { return KindCallParticipantLeft }
func (CallEnded) Kind() Kind             { return KindCallEnded }
func (CallState) Kind() Kind             { return KindCallState }
func (MembershipRevoked) Kind() Kind     { return KindMembershipRevoked }

// Envelope is the unit of fan-out. Every event is scoped to one channel.
type Envelope struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	ChannelID  snowflake.ID `json:"channel_id"`
	OccurredAt time.Time    `json:"occurred_at"`
	Payload    Payload      `json:"payload"`

	TraceID string `json:"trace_id,omitempty"`
	SpanID  string `json:"span_id,omitempty"`
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode restores an envelope with its concrete payload type.
func Decode(data []byte) (Envelope, error) {
	var raw struct {
		ID         string          `json:"id"`
		Kind       Kind            `json:"kind"`
		ChannelID  snowflake.ID    `json:"channel_id"`
		OccurredAt time.Time       `json:"occurred_at"`
		Payload    json.RawMessage `json:"payload"`
		TraceID    string          `json:"trace_id"`
		SpanID     string          `json:"span_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, err
	}

	payload, err := decodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         raw.ID,
		Kind:       raw.Kind,
		ChannelID:  raw.ChannelID,
		OccurredAt: raw.OccurredAt,
		Payload:    payload,
		TraceID:    raw.TraceID,
		SpanID:     raw.SpanID,
	}, nil
}

func decodePayload(kind Kind, data json.RawMessage) (Payload, error) {
	switch kind {
	case KindMessageCreated:
		return decodeAs[MessageCreated](data)
	case KindMessageEdited:
		return decodeAs[MessageEdited](data)
	case KindMessageDeleted:
		return decodeAs[MessageDeleted](data)
	case KindMessagePinned:
		return decodeAs[MessagePinned](data)
	case KindMessageUnpinned:
		return decodeAs[MessageUnpinned](data)
	case KindReactionChanged:
		return decodeAs[ReactionChanged](data)
	case KindTypingStart:
		return decodeAs[TypingStarted](data)
	case KindTypingStop:
		return decodeAs[TypingStopped](data)
	case KindCallStarted:
		return decodeAs[CallStarted](data)
	case KindCallParticipantJoined:
		return decodeAs[CallParticipantJoined](data)
	case KindCallParticipantLeft:
		return decodeAs[CallParticipantLeft](data)
	case KindCallEnded:
		return decodeAs[CallEnded](data)
	case KindCallState:
		return decodeAs[CallState](data)
	case KindMembershipRevoked:
		return decodeAs[MembershipRevoked](data)
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func decodeAs[T Payload](data json.RawMessage) (Payload, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
