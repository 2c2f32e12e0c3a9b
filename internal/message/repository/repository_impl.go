package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/message/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const messageColumns = `id, channel_id, user_id, content, attachments, parent_message_id, reply_count,
	is_edited, is_deleted, is_pinned, pinned_at, pinned_by, deleted_by, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, message *domain.Message) error {
	return db.WithContext(ctx).Create(message).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Message, error) {
	var message domain.Message
	err := db.WithContext(ctx).Raw(
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`,
		id,
	).Scan(&message).Error
	if err != nil {
		return nil, err
	}
	if message.ID == 0 {
		return nil, nil
	}
	return &message, nil
}

// List returns up to filter.Limit rows newest first. Snowflake ids are
// time-ordered, so the id is the sort key and the cursor.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Message, error) {
	var messages []*domain.Message
	stmt := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("channel_id = ?", filter.ChannelID)
	switch {
	case filter.ParentMessageID != nil:
		stmt = stmt.Where("parent_message_id = ?", *filter.ParentMessageID)
	case !filter.IncludeReplies:
		stmt = stmt.Where("parent_message_id IS NULL")
	}
	if filter.BeforeID != nil {
		stmt = stmt.Where("id < ?", *filter.BeforeID)
	}
	err := stmt.
		Order("id desc").
		Limit(filter.Limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *repo) ListPinned(ctx context.Context, db *gorm.DB, channelID snowflake.ID) ([]*domain.Message, error) {
	var messages []*domain.Message
	err := db.WithContext(ctx).Raw(
		`SELECT `+messageColumns+` FROM messages
		 WHERE channel_id = ? AND is_pinned = ? AND is_deleted = ?
		 ORDER BY pinned_at ASC, id ASC`,
		channelID,
		true,
		false,
	).Scan(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// IncrementReplyCount bumps the parent's counter when the parent lives in
// channelID and returns the stored value. The read runs after the update in
// the same transaction, so it sees this increment and every committed one.
func (r *repo) IncrementReplyCount(ctx context.Context, db *gorm.DB, parentID, channelID snowflake.ID) (int, bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE messages SET reply_count = reply_count + 1 WHERE id = ? AND channel_id = ?`,
		parentID,
		channelID,
	)
	if res.Error != nil || res.RowsAffected == 0 {
		return 0, false, res.Error
	}
	var count int
	err := db.WithContext(ctx).Raw(
		`SELECT reply_count FROM messages WHERE id = ?`,
		parentID,
	).Scan(&count).Error
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

// UpdateContent rewrites a live message owned by authorID that was created
// at or after editableSince.
func (r *repo) UpdateContent(ctx context.Context, db *gorm.DB, id, authorID snowflake.ID, content string, editableSince, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE messages SET content = ?, is_edited = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND is_deleted = ? AND created_at >= ?`,
		content,
		true,
		at,
		id,
		authorID,
		false,
		editableSince,
	)
	return res.RowsAffected, res.Error
}

// SoftDelete keeps the row and its content for audit; a deleted message also leaves the pin banner.
func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id, deletedBy snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE messages SET is_deleted = ?, deleted_by = ?, is_pinned = ?, pinned_at = NULL, pinned_by = NULL, updated_at = ?
		 WHERE id = ? AND is_deleted = ?`,
		true,
		deletedBy,
		false,
		at,
		id,
		false,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) SetPinned(ctx context.Context, db *gorm.DB, id snowflake.ID, pinned bool, by snowflake.ID, at time.Time) (int64, error) {
	if pinned {
		res := db.WithContext(ctx).Exec(
			`UPDATE messages SET is_pinned = ?, pinned_at = ?, pinned_by = ?, updated_at = ?
			 WHERE id = ? AND is_pinned = ? AND is_deleted = ?`,
			true,
			at,
			by,
			at,
			id,
			false,
			false,
		)
		return res.RowsAffected, res.Error
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE messages SET is_pinned = ?, pinned_at = NULL, pinned_by = NULL, updated_at = ?
		 WHERE id = ? AND is_pinned = ?`,
		false,
		at,
		id,
		true,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteReaction(ctx context.Context, db *gorm.DB, reaction domain.Reaction) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ?`,
		reaction.MessageID,
		reaction.UserID,
		reaction.Emoji,
	)
	return res.RowsAffected, res.Error
}

// InsertReaction returns 0 rows when the same reaction already exists.
func (r *repo) InsertReaction(ctx context.Context, db *gorm.DB, reaction domain.Reaction) (int64, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&reaction)
	return res.RowsAffected, res.Error
}

func (r *repo) CountEmoji(ctx context.Context, db *gorm.DB, messageID snowflake.ID, emoji string) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM message_reactions WHERE message_id = ? AND emoji = ?`,
		messageID,
		emoji,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) ReactionCounts(ctx context.Context, db *gorm.DB, messageIDs []snowflake.ID, viewerID snowflake.ID) ([]domain.ReactionCount, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var counts []domain.ReactionCount
	err := db.WithContext(ctx).Raw(
		`SELECT message_id, emoji, COUNT(1) AS count,
		        SUM(CASE WHEN user_id = ? THEN 1 ELSE 0 END) AS mine
		 FROM message_reactions
		 WHERE message_id IN ?
		 GROUP BY message_id, emoji
		 ORDER BY message_id, MIN(created_at), emoji`,
		viewerID,
		messageIDs,
	).Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
