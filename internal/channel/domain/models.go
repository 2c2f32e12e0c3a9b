package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type ChannelType string

const (
	ChannelTypeDM         ChannelType = "dm"
	ChannelTypeGroup      ChannelType = "group"
	ChannelTypeDealRoom   ChannelType = "deal_room"
	ChannelTypeSubChannel ChannelType = "sub_channel"
)

func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypeDM, ChannelTypeGroup, ChannelTypeDealRoom, ChannelTypeSubChannel:
		return true
	default:
		return false
	}
}

type ChannelStatus string

const (
	ChannelStatusActive   ChannelStatus = "active"
	ChannelStatusArchived ChannelStatus = "archived"
)

type Role string

const (
	RoleGuest  Role = "guest"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleGuest:  1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above other in guest < member < admin < owner.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other] && roleRank[r] > 0
}

type Channel struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID           *snowflake.ID `gorm:"index" json:"org_id,omitempty"`
	Type            ChannelType   `gorm:"type:varchar(32);not null" json:"type"`
	Name            string        `gorm:"type:text;not null" json:"name"`
	Description     string        `gorm:"type:text;not null;default:''" json:"description"`
	ParentChannelID *snowflake.ID `gorm:"index" json:"parent_channel_id,omitempty"`
	Status          ChannelStatus `gorm:"type:varchar(32);not null" json:"status"`
	// DMKey pairs the two participants of a dm in id order; null for other types.
	DMKey      *string      `gorm:"type:varchar(64);uniqueIndex:ux_channels_dm_key" json:"-"`
	CreatedBy  snowflake.ID `gorm:"not null" json:"created_by"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
	ArchivedAt *time.Time   `json:"archived_at,omitempty"`
}

func (Channel) TableName() string { return "channels" }

func (c *Channel) Active() bool {
	return c.Status == ChannelStatusActive
}

type Membership struct {
	ChannelID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"channel_id"`
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	Role      Role         `gorm:"type:varchar(16);not null" json:"role"`
	IsDefault bool         `gorm:"not null;default:false" json:"is_default"`
	JoinedAt  time.Time    `gorm:"not null" json:"joined_at"`
}

func (Membership) TableName() string { return "channel_memberships" }
