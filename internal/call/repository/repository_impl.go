package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/call/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sessionColumns = `id, channel_id, active_channel_id, call_type, status, started_by, started_at, ended_by, ended_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *domain.CallSession) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) FindSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CallSession, error) {
	var session domain.CallSession
	err := db.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM call_sessions WHERE id = ?`,
		id,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) FindActiveByChannel(ctx context.Context, db *gorm.DB, channelID snowflake.ID) (*domain.CallSession, error) {
	var session domain.CallSession
	err := db.WithContext(ctx).Raw(
		`SELECT `+sessionColumns+` FROM call_sessions WHERE active_channel_id = ?`,
		channelID,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

// EndSession releases the channel's active slot together with the status change.
func (r *repo) EndSession(ctx context.Context, db *gorm.DB, id, endedBy snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE call_sessions SET status = ?, active_channel_id = NULL, ended_by = ?, ended_at = ?
		 WHERE id = ? AND status = ?`,
		domain.CallStatusEnded,
		endedBy,
		at,
		id,
		domain.CallStatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) FindParticipant(ctx context.Context, db *gorm.DB, callID, userID snowflake.ID) (*domain.Participant, error) {
	var participant domain.Participant
	err := db.WithContext(ctx).Raw(
		`SELECT call_id, user_id, joined_at, left_at FROM call_participants WHERE call_id = ? AND user_id = ?`,
		callID,
		userID,
	).Scan(&participant).Error
	if err != nil {
		return nil, err
	}
	if participant.CallID == 0 {
		return nil, nil
	}
	return &participant, nil
}

func (r *repo) UpsertParticipant(ctx context.Context, db *gorm.DB, participant domain.Participant) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "call_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"joined_at": participant.JoinedAt,
				"left_at":   nil,
			}),
		}).
		Create(&participant).Error
}

func (r *repo) LeaveParticipant(ctx context.Context, db *gorm.DB, callID, userID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE call_participants SET left_at = ? WHERE call_id = ? AND user_id = ? AND left_at IS NULL`,
		at,
		callID,
		userID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) CloseParticipants(ctx context.Context, db *gorm.DB, callID snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE call_participants SET left_at = ? WHERE call_id = ? AND left_at IS NULL`,
		at,
		callID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListActiveParticipants(ctx context.Context, db *gorm.DB, callID snowflake.ID) ([]*domain.Participant, error) {
	var participants []*domain.Participant
	err := db.WithContext(ctx).Raw(
		`SELECT call_id, user_id, joined_at, left_at FROM call_participants
		 WHERE call_id = ? AND left_at IS NULL
		 ORDER BY joined_at ASC, user_id ASC`,
		callID,
	).Scan(&participants).Error
	if err != nil {
		return nil, err
	}
	return participants, nil
}
