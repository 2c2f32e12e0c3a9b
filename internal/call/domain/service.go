package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/apperr"
	"github.com/smallbiznis/comms/internal/identity"
)

type ParticipantView struct {
	UserID   snowflake.ID `json:"user_id"`
	JoinedAt time.Time    `json:"joined_at"`
}

// CallView is the call state shared by the active-call query and the
// snapshot pushed to new subscribers.
type CallView struct {
	ID           snowflake.ID      `json:"id"`
	ChannelID    snowflake.ID      `json:"channel_id"`
	CallType     CallType          `json:"call_type"`
	Status       CallStatus        `json:"status"`
	StartedBy    snowflake.ID      `json:"started_by"`
	StartedAt    time.Time         `json:"started_at"`
	EndedBy      *snowflake.ID     `json:"ended_by,omitempty"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Participants []ParticipantView `json:"participants"`
}

type Service interface {
	StartCall(ctx context.Context, actor identity.Actor, channelID snowflake.ID, callType CallType) (*CallView, error)
	JoinCall(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*CallView, error)
	LeaveCall(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*CallView, error)
	EndCall(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*CallView, error)
	// GetActiveCall returns nil without error when the channel has no active call.
	GetActiveCall(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*CallView, error)
	// ActiveCallState is the access-free read behind GetActiveCall; nil when the channel is idle.
	ActiveCallState(ctx context.Context, channelID snowflake.ID) (*CallView, error)
	// MarkParticipantGone closes a participant whose media connection dropped.
	MarkParticipantGone(ctx context.Context, callID, userID snowflake.ID) error
}

var (
	ErrCallNotFound        = apperr.New(apperr.CodeNotFound, "call_not_found")
	ErrParticipantNotFound = apperr.New(apperr.CodeNotFound, "participant_not_found")
	ErrCallAlreadyActive   = apperr.New(apperr.CodeCallAlreadyActive, "call_already_active")
	ErrCallEnded           = apperr.New(apperr.CodeCallEnded, "call_ended")
	ErrChannelArchived     = apperr.New(apperr.CodeForbidden, "channel_archived")
	ErrNotCallOwner        = apperr.New(apperr.CodeForbidden, "not_call_owner")
	ErrInvalidCallType     = apperr.New(apperr.CodeInvalidArgument, "invalid_call_type")
)
