package realtime

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	parent := snowflake.ID(40)
	replies := 3
	call := calldomain.CallView{
		ID:        5,
		ChannelID: 1,
		CallType:  calldomain.CallTypeVideo,
		Status:    calldomain.CallStatusActive,
		StartedBy: 10,
		StartedAt: at,
		Participants: []calldomain.ParticipantView{
			{UserID: 10, JoinedAt: at},
		},
	}

	payloads := []Payload{
		MessageCreated{
			Message: messagedomain.MessageView{
				ID:              41,
				ChannelID:       1,
				UserID:          10,
				Content:         "hello",
				Attachments:     []messagedomain.Attachment{{Ref: "a/b.png", URL: "https://files/a/b.png"}},
				ParentMessageID: &parent,
				Reactions:       []messagedomain.ReactionSummary{},
				CreatedAt:       at,
				UpdatedAt:       at,
			},
			ParentReplyCount: &replies,
		},
		MessageEdited{MessageID: 41, Content: "edited", EditedAt: at},
		MessageDeleted{MessageID: 41, DeletedBy: 10, DeletedAt: at},
		MessagePinned{MessageID: 41, PinnedBy: 10, PinnedAt: at},
		MessageUnpinned{MessageID: 41, UnpinnedBy: 10, UnpinnedAt: at},
		ReactionChanged{MessageID: 41, UserID: 11, Emoji: "👍", Outcome: messagedomain.ReactionAdded, Count: 1},
		TypingStarted{UserID: 10, ExpiresAt: at},
		TypingStopped{UserID: 10},
		CallStarted{Call: call},
		CallParticipantJoined{CallID: 5, UserID: 11, Participants: call.Participants},
		CallParticipantLeft{CallID: 5, UserID: 11, Participants: call.Participants},
		CallEnded{CallID: 5, EndedBy: 10, EndedAt: at},
		CallState{Call: &call},
		CallState{},
	}

	for _, payload := range payloads {
		t.Run(string(payload.Kind()), func(t *testing.T) {
			env := testEnvelope(1, payload)
			env.TraceID = "0af7651916cd43dd8448eb211c80319c"

			data, err := Encode(env)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, env, decoded)
		})
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte(`{"id":"x","kind":"presence.update","channel_id":"1","payload":{}}`))
	assert.Error(t, err)
}

func TestEncodeUsesStringIDs(t *testing.T) {
	data, err := Encode(testEnvelope(1234567890123, TypingStopped{UserID: 9}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel_id":"1234567890123"`)
	assert.Contains(t, string(data), `"kind":"typing.stop"`)
}
