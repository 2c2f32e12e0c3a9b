package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertSession(ctx context.Context, db *gorm.DB, session *CallSession) error
	FindSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CallSession, error)
	FindActiveByChannel(ctx context.Context, db *gorm.DB, channelID snowflake.ID) (*CallSession, error)
	// EndSession only transitions an active session; 0 rows means it had already ended.
	EndSession(ctx context.Context, db *gorm.DB, id, endedBy snowflake.ID, at time.Time) (int64, error)

	FindParticipant(ctx context.Context, db *gorm.DB, callID, userID snowflake.ID) (*Participant, error)
	// UpsertParticipant inserts the row or reopens it after a leave.
	UpsertParticipant(ctx context.Context, db *gorm.DB, participant Participant) error
	LeaveParticipant(ctx context.Context, db *gorm.DB, callID, userID snowflake.ID, at time.Time) (int64, error)
	CloseParticipants(ctx context.Context, db *gorm.DB, callID snowflake.ID, at time.Time) (int64, error)
	ListActiveParticipants(ctx context.Context, db *gorm.DB, callID snowflake.ID) ([]*Participant, error)
}
