package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ChannelWithRole struct {
	Channel
	Role Role `gorm:"column:member_role"`
}

type ListChannelFilter struct {
	OrgID           *snowflake.ID
	Type            ChannelType
	ParentChannelID *snowflake.ID
	IncludeArchived bool
}

type Repository interface {
	InsertChannel(ctx context.Context, db *gorm.DB, channel *Channel) error
	FindChannel(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Channel, error)
	ArchiveChannel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	TouchChannel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	ListChannelsForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListChannelFilter) ([]*ChannelWithRole, error)

	InsertMembership(ctx context.Context, db *gorm.DB, membership *Membership) error
	FindMembership(ctx context.Context, db *gorm.DB, channelID, userID snowflake.ID) (*Membership, error)
	ListMemberships(ctx context.Context, db *gorm.DB, channelID snowflake.ID) ([]*Membership, error)
	CountOwners(ctx context.Context, db *gorm.DB, channelID snowflake.ID) (int64, error)
	DeleteMembership(ctx context.Context, db *gorm.DB, channelID, userID snowflake.ID) (int64, error)
	UpdateMembershipRole(ctx context.Context, db *gorm.DB, channelID, userID snowflake.ID, role Role) (int64, error)
}
