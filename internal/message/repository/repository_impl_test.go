package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/message/domain"
	"github.com/smallbiznis/comms/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateContentHonoursEditableSince(t *testing.T) {
	db := testutil.OpenDB(t)
	r := Provide()
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	author := snowflake.ID(11)

	require.NoError(t, r.Insert(ctx, db, &domain.Message{
		ID:        1,
		ChannelID: 5,
		UserID:    author,
		Content:   "draft",
		CreatedAt: created,
		UpdatedAt: created,
	}))

	affected, err := r.UpdateContent(ctx, db, 1, author, "late", created.Add(time.Second), created.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, affected)

	affected, err = r.UpdateContent(ctx, db, 1, 99, "hijack", created, created.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, affected)

	affected, err = r.UpdateContent(ctx, db, 1, author, "final", created, created.Add(15*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	got, err := r.FindByID(ctx, db, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "final", got.Content)
	assert.True(t, got.IsEdited)
}

func TestIncrementReplyCountReturnsStoredValue(t *testing.T) {
	db := testutil.OpenDB(t)
	r := Provide()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, r.Insert(ctx, db, &domain.Message{
		ID:         1,
		ChannelID:  5,
		UserID:     11,
		Content:    "kickoff",
		ReplyCount: 4,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))

	count, ok, err := r.IncrementReplyCount(ctx, db, 1, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, count)

	_, ok, err = r.IncrementReplyCount(ctx, db, 1, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.IncrementReplyCount(ctx, db, 404, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}
