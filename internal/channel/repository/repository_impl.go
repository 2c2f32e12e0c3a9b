package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/channel/domain"
	"gorm.io/gorm"
)

const channelColumns = `c.id, c.org_id, c.type, c.name, c.description, c.parent_channel_id, c.status,
	c.dm_key, c.created_by, c.created_at, c.updated_at, c.archived_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertChannel(ctx context.Context, db *gorm.DB, channel *domain.Channel) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO channels (id, org_id, type, name, description, parent_channel_id, status, dm_key, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		channel.ID,
		channel.OrgID,
		channel.Type,
		channel.Name,
		channel.Description,
		channel.ParentChannelID,
		channel.Status,
		channel.DMKey,
		channel.CreatedBy,
		channel.CreatedAt,
		channel.UpdatedAt,
	).Error
}

func (r *repo) FindChannel(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Channel, error) {
	var channel domain.Channel
	err := db.WithContext(ctx).Raw(
		`SELECT `+channelColumns+` FROM channels c WHERE c.id = ?`,
		id,
	).Scan(&channel).Error
	if err != nil {
		return nil, err
	}
	if channel.ID == 0 {
		return nil, nil
	}
	return &channel, nil
}

func (r *repo) ArchiveChannel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE channels SET status = ?, archived_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.ChannelStatusArchived,
		at,
		at,
		id,
		domain.ChannelStatusActive,
	)
	return res.RowsAffected, res.Error
}

// TouchChannel takes the channel row lock for the rest of the transaction.
func (r *repo) TouchChannel(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE channels SET updated_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) ListChannelsForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListChannelFilter) ([]*domain.ChannelWithRole, error) {
	var rows []*domain.ChannelWithRole
	stmt := db.WithContext(ctx).
		Table("channels c").
		Select(channelColumns+", m.role AS member_role").
		Joins("JOIN channel_memberships m ON m.channel_id = c.id").
		Where("m.user_id = ?", userID)
	if filter.OrgID != nil {
		stmt = stmt.Where("c.org_id = ?", *filter.OrgID)
	}
	if filter.Type != "" {
		stmt = stmt.Where("c.type = ?", filter.Type)
	}
	if filter.ParentChannelID != nil {
		stmt = stmt.Where("c.parent_channel_id = ?", *filter.ParentChannelID)
	}
	if !filter.IncludeArchived {
		stmt = stmt.Where("c.status = ?", domain.ChannelStatusActive)
	}
	err := stmt.
		Order("c.created_at desc, c.id desc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertMembership(ctx context.Context, db *gorm.DB, membership *domain.Membership) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO channel_memberships (channel_id, user_id, role, is_default, joined_at)
		 VALUES (?, ?, ?, ?, ?)`,
		membership.ChannelID,
		membership.UserID,
		membership.Role,
		membership.IsDefault,
		membership.JoinedAt,
	).Error
}

func (r *repo) FindMembership(ctx context.Context, db *gorm.DB, channelID, userID snowflake.ID) (*domain.Membership, error) {
	var membership domain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT channel_id, user_id, role, is_default, joined_at
		 FROM channel_memberships WHERE channel_id = ? AND user_id = ?`,
		channelID,
		userID,
	).Scan(&membership).Error
	if err != nil {
		return nil, err
	}
	if membership.UserID == 0 {
		return nil, nil
	}
	return &membership, nil
}

func (r *repo) ListMemberships(ctx context.Context, db *gorm.DB, channelID snowflake.ID) ([]*domain.Membership, error) {
	var memberships []*domain.Membership
	err := db.WithContext(ctx).Raw(
		`SELECT channel_id, user_id, role, is_default, joined_at
		 FROM channel_memberships WHERE channel_id = ?
		 ORDER BY joined_at ASC, user_id ASC`,
		channelID,
	).Scan(&memberships).Error
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

func (r *repo) CountOwners(ctx context.Context, db *gorm.DB, channelID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM channel_memberships WHERE channel_id = ? AND role = ?`,
		channelID,
		domain.RoleOwner,
	).Scan(&count).Error
	return count, err
}

func (r *repo) DeleteMembership(ctx context.Context, db *gorm.DB, channelID, userID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM channel_memberships WHERE channel_id = ? AND user_id = ?`,
		channelID,
		userID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdateMembershipRole(ctx context.Context, db *gorm.DB, channelID, userID snowflake.ID, role domain.Role) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE channel_memberships SET role = ? WHERE channel_id = ? AND user_id = ?`,
		role,
		channelID,
		userID,
	)
	return res.RowsAffected, res.Error
}
