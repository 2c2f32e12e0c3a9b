package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Message struct {
	ID              snowflake.ID                `gorm:"primaryKey" json:"id"`
	ChannelID       snowflake.ID                `gorm:"not null;index:ix_messages_channel_parent,priority:1" json:"channel_id"`
	UserID          snowflake.ID                `gorm:"not null;index" json:"user_id"`
	Content         string                      `gorm:"type:text;not null" json:"content"`
	Attachments     datatypes.JSONSlice[string] `json:"attachments"`
	ParentMessageID *snowflake.ID               `gorm:"index:ix_messages_channel_parent,priority:2" json:"parent_message_id,omitempty"`
	ReplyCount      int                         `gorm:"not null;default:0" json:"reply_count"`
	IsEdited        bool                        `gorm:"not null;default:false" json:"is_edited"`
	IsDeleted       bool                        `gorm:"not null;default:false" json:"is_deleted"`
	IsPinned        bool                        `gorm:"not null;default:false" json:"is_pinned"`
	PinnedAt        *time.Time                  `json:"pinned_at,omitempty"`
	PinnedBy        *snowflake.ID               `json:"pinned_by,omitempty"`
	DeletedBy       *snowflake.ID               `json:"deleted_by,omitempty"`
	CreatedAt       time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

type Reaction struct {
	MessageID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"message_id"`
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Emoji     string       `gorm:"primaryKey;type:varchar(64)" json:"emoji"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Reaction) TableName() string { return "message_reactions" }

// ReactionCount is one emoji tally for a message.
type ReactionCount struct {
	MessageID snowflake.ID `gorm:"column:message_id"`
	Emoji     string       `gorm:"column:emoji"`
	Count     int          `gorm:"column:count"`
	Mine      int          `gorm:"column:mine"`
}
