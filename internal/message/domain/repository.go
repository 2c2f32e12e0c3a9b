package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	ChannelID snowflake.ID
	// ParentMessageID selects a thread; nil selects top-level messages unless
	// IncludeReplies is set.
	ParentMessageID *snowflake.ID
	IncludeReplies  bool
	BeforeID        *snowflake.ID
	Limit           int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, message *Message) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Message, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Message, error)
	ListPinned(ctx context.Context, db *gorm.DB, channelID snowflake.ID) ([]*Message, error)

	IncrementReplyCount(ctx context.Context, db *gorm.DB, parentID, channelID snowflake.ID) (int, bool, error)
	UpdateContent(ctx context.Context, db *gorm.DB, id, authorID snowflake.ID, content string, editableSince, at time.Time) (int64, error)
	SoftDelete(ctx context.Context, db *gorm.DB, id, deletedBy snowflake.ID, at time.Time) (int64, error)
	SetPinned(ctx context.Context, db *gorm.DB, id snowflake.ID, pinned bool, by snowflake.ID, at time.Time) (int64, error)

	DeleteReaction(ctx context.Context, db *gorm.DB, reaction Reaction) (int64, error)
	InsertReaction(ctx context.Context, db *gorm.DB, reaction Reaction) (int64, error)
	CountEmoji(ctx context.Context, db *gorm.DB, messageID snowflake.ID, emoji string) (int, error)
	ReactionCounts(ctx context.Context, db *gorm.DB, messageIDs []snowflake.ID, viewerID snowflake.ID) ([]ReactionCount, error)
}
