package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusActive CallStatus = "active"
	CallStatusEnded  CallStatus = "ended"
)

type CallSession struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	ChannelID snowflake.ID `gorm:"not null;index" json:"channel_id"`
	// ActiveChannelID equals ChannelID while the call is active and is null
	// once it ends; its unique index allows one active call per channel.
	ActiveChannelID *snowflake.ID `gorm:"uniqueIndex:ux_call_sessions_active_channel" json:"-"`
	CallType        CallType      `gorm:"type:varchar(16);not null" json:"call_type"`
	Status          CallStatus    `gorm:"type:varchar(16);not null" json:"status"`
	StartedBy       snowflake.ID  `gorm:"not null" json:"started_by"`
	StartedAt       time.Time     `gorm:"not null" json:"started_at"`
	EndedBy         *snowflake.ID `json:"ended_by,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
}

func (CallSession) TableName() string { return "call_sessions" }

type Participant struct {
	CallID   snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"call_id"`
	UserID   snowflake.ID `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	JoinedAt time.Time    `gorm:"not null" json:"joined_at"`
	LeftAt   *time.Time   `gorm:"index" json:"left_at,omitempty"`
}

func (Participant) TableName() string { return "call_participants" }
