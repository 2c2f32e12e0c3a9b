package realtime

import (
	"context"

	"github.com/bwmarrin/snowflake"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// AccessChecker is the slice of the channel directory the gateway consults.
type AccessChecker interface {
	CheckAccess(ctx context.Context, channelID, userID snowflake.ID) (channeldomain.Access, error)
}

// CallStateReader returns the active call of a channel, nil when idle.
type CallStateReader interface {
	ActiveCallState(ctx context.Context, channelID snowflake.ID) (*calldomain.CallView, error)
}

// Gateway is the entry point transports use to join broadcast groups and to
// relay typing signals.
type Gateway struct {
	log    *zap.Logger
	clock  clock.Clock
	hub    *Hub
	access AccessChecker
	calls  CallStateReader
	typing *TypingTracker
}

func NewGateway(log *zap.Logger, c clock.Clock, hub *Hub, access AccessChecker, calls CallStateReader, typing *TypingTracker) *Gateway {
	return &Gateway{
		log:    log.Named("realtime.gateway"),
		clock:  c,
		hub:    hub,
		access: access,
		calls:  calls,
		typing: typing,
	}
}

// Subscribe registers actor on channelID after an access check. The returned
// snapshot is the call.state event the transport must write before any
// event from the subscription.
func (g *Gateway) Subscribe(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*Subscription, Envelope, error) {
	if _, err := g.access.CheckAccess(ctx, channelID, actor.UserID); err != nil {
		return nil, Envelope{}, err
	}

	// Subscribe before reading the call so a start racing this read is
	// still delivered on the subscription.
	sub, err := g.hub.Subscribe(channelID, actor.UserID)
	if err != nil {
		return nil, Envelope{}, err
	}

	call, err := g.calls.ActiveCallState(ctx, channelID)
	if err != nil {
		sub.Close()
		return nil, Envelope{}, err
	}

	snapshot := Envelope{
		ID:         correlation.NewID(),
		Kind:       KindCallState,
		ChannelID:  channelID,
		OccurredAt: g.clock.Now(),
		Payload:    CallState{Call: call},
	}
	g.log.Debug("subscribed",
		zap.String("channel_id", channelID.String()),
		zap.String("user_id", actor.ID()),
	)
	return sub, snapshot, nil
}

func (g *Gateway) StartTyping(ctx context.Context, actor identity.Actor, channelID snowflake.ID) error {
	access, err := g.access.CheckAccess(ctx, channelID, actor.UserID)
	if err != nil {
		return err
	}
	if !access.Channel.Active() {
		return channeldomain.ErrChannelArchived
	}
	g.typing.Start(ctx, channelID, actor.UserID)
	return nil
}

// StopTyping needs no access check; it only clears an indicator the user set.
func (g *Gateway) StopTyping(ctx context.Context, actor identity.Actor, channelID snowflake.ID) {
	g.typing.Stop(ctx, channelID, actor.UserID)
}
