package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/apperr"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/pkg/db/pagination"
)

type CreateMessageRequest struct {
	ChannelID       snowflake.ID
	Content         string
	Attachments     []string
	ParentMessageID *snowflake.ID
}

type ListMessagesRequest struct {
	ChannelID      snowflake.ID
	PageToken      string
	PageSize       int
	IncludeReplies bool
}

type ListThreadRequest struct {
	ParentMessageID snowflake.ID
	PageToken       string
	PageSize        int
}

type Attachment struct {
	Ref string `json:"ref"`
	URL string `json:"url,omitempty"`
}

type ReactionSummary struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Mine  bool   `json:"mine"`
}

// MessageView is a message as rendered to clients. Deleted messages are
// tombstoned: content and attachments are withheld.
type MessageView struct {
	ID              snowflake.ID      `json:"id"`
	ChannelID       snowflake.ID      `json:"channel_id"`
	UserID          snowflake.ID      `json:"user_id"`
	Content         string            `json:"content"`
	Attachments     []Attachment      `json:"attachments"`
	ParentMessageID *snowflake.ID     `json:"parent_message_id,omitempty"`
	ReplyCount      int               `json:"reply_count"`
	IsEdited        bool              `json:"is_edited"`
	IsDeleted       bool              `json:"is_deleted"`
	IsPinned        bool              `json:"is_pinned"`
	PinnedAt        *time.Time        `json:"pinned_at,omitempty"`
	Reactions       []ReactionSummary `json:"reactions"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type ListMessagesResponse struct {
	pagination.PageInfo
	Messages []MessageView `json:"messages"`
}

type ReactionOutcome string

const (
	ReactionAdded   ReactionOutcome = "added"
	ReactionRemoved ReactionOutcome = "removed"
)

type ToggleReactionResult struct {
	MessageID snowflake.ID    `json:"message_id"`
	Emoji     string          `json:"emoji"`
	Outcome   ReactionOutcome `json:"outcome"`
	Count     int             `json:"count"`
}

type Service interface {
	CreateMessage(ctx context.Context, actor identity.Actor, req CreateMessageRequest) (*MessageView, error)
	GetMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*MessageView, error)
	EditMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID, content string) (*MessageView, error)
	DeleteMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) error
	PinMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*MessageView, error)
	UnpinMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*MessageView, error)
	ToggleReaction(ctx context.Context, actor identity.Actor, messageID snowflake.ID, emoji string) (*ToggleReactionResult, error)
	ListMessages(ctx context.Context, actor identity.Actor, req ListMessagesRequest) (ListMessagesResponse, error)
	ListThread(ctx context.Context, actor identity.Actor, req ListThreadRequest) (ListMessagesResponse, error)
	// ListPinned returns the banner: the longest-pinned message first, then
	// the rest newest pin first.
	ListPinned(ctx context.Context, actor identity.Actor, channelID snowflake.ID) ([]MessageView, error)
}

// PostLimiter throttles message creation per user.
type PostLimiter interface {
	AllowPost(ctx context.Context, userID snowflake.ID) (bool, error)
}

var (
	ErrMessageNotFound   = apperr.New(apperr.CodeNotFound, "message_not_found")
	ErrMessageDeleted    = apperr.New(apperr.CodeNotFound, "message_deleted")
	ErrNotAuthor         = apperr.New(apperr.CodeForbidden, "not_message_author")
	ErrGuestsCannotPost  = apperr.New(apperr.CodeForbidden, "guests_cannot_post")
	ErrChannelArchived   = apperr.New(apperr.CodeForbidden, "channel_archived")
	ErrEditWindowExpired = apperr.New(apperr.CodeEditWindowExpired, "edit_window_expired")
	ErrInvalidParent     = apperr.New(apperr.CodeInvalidParent, "invalid_parent")
	ErrEmptyMessage      = apperr.New(apperr.CodeInvalidArgument, "empty_message")
	ErrInvalidContent    = apperr.New(apperr.CodeInvalidArgument, "invalid_content")
	ErrMessageTooLong    = apperr.New(apperr.CodeInvalidArgument, "message_too_long")
	ErrTooManyFiles      = apperr.New(apperr.CodeInvalidArgument, "too_many_attachments")
	ErrInvalidEmoji      = apperr.New(apperr.CodeInvalidArgument, "invalid_emoji")
	ErrReactionConflict  = apperr.New(apperr.CodeConflict, "reaction_conflict")
	ErrRateLimited       = apperr.New(apperr.CodeRateLimited, "rate_limited")
)
