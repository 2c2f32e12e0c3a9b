package realtime

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// Revoker closes a removed member's subscriptions on every node. The local
// hub is closed synchronously; other nodes learn about it through the broker.
type Revoker struct {
	hub    *Hub
	broker Broker
	clock  clock.Clock
	log    *zap.Logger
}

func NewRevoker(hub *Hub, broker Broker, c clock.Clock, log *zap.Logger) *Revoker {
	return &Revoker{hub: hub, broker: broker, clock: c, log: log.Named("realtime.revoker")}
}

func (r *Revoker) MembershipRevoked(channelID, userID snowflake.ID) {
	r.hub.MembershipRevoked(channelID, userID)
	if r.broker == nil || r.broker == Broker(r.hub) {
		return
	}

	env := Envelope{
		ID:         correlation.NewID(),
		Kind:       KindMembershipRevoked,
		ChannelID:  channelID,
		OccurredAt: r.clock.Now(),
		Payload:    MembershipRevoked{UserID: userID},
	}
	if err := r.broker.Broadcast(context.Background(), env); err != nil {
		r.log.Warn("revocation broadcast failed",
			zap.String("channel_id", channelID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
	}
}
