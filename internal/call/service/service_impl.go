package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/authorization"
	"github.com/smallbiznis/comms/internal/call/domain"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/internal/observability/metrics"
	"github.com/smallbiznis/comms/internal/providers/notify"
	"github.com/smallbiznis/comms/internal/realtime"
	"github.com/smallbiznis/comms/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const notifyTimeout = 5 * time.Second

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Channels  channeldomain.Service
	Authz     authorization.Service
	Publisher realtime.Publisher
	Notifier  notify.Dispatcher
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	channels  channeldomain.Service
	authz     authorization.Service
	publisher realtime.Publisher
	notifier  notify.Dispatcher
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("call.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		channels:  p.Channels,
		authz:     p.Authz,
		publisher: p.Publisher,
		notifier:  p.Notifier,
		metrics:   p.Metrics,
	}
}

// StartCall opens the channel's single active session. The unique index on
// active_channel_id decides races between concurrent starts.
func (s *Service) StartCall(ctx context.Context, actor identity.Actor, channelID snowflake.ID, callType domain.CallType) (*domain.CallView, error) {
	if !callType.Valid() {
		return nil, domain.ErrInvalidCallType
	}
	access, err := s.channels.CheckAccess(ctx, channelID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !access.Channel.Active() {
		return nil, domain.ErrChannelArchived
	}
	if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectCall, authorization.ActionCallStart); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	active := channelID
	session := domain.CallSession{
		ID:              s.genID.Generate(),
		ChannelID:       channelID,
		ActiveChannelID: &active,
		CallType:        callType,
		Status:          domain.CallStatusActive,
		StartedBy:       actor.UserID,
		StartedAt:       now,
	}
	starter := domain.Participant{CallID: session.ID, UserID: actor.UserID, JoinedAt: now}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertSession(ctx, tx, &session); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrCallAlreadyActive
			}
			return err
		}
		return s.repo.UpsertParticipant(ctx, tx, starter)
	})
	if err != nil {
		return nil, err
	}

	view := buildView(&session, []*domain.Participant{&starter})
	s.metrics.RecordCallStarted(ctx, string(callType))
	s.publisher.Publish(ctx, channelID, realtime.CallStarted{Call: view})
	s.notifyCallStarted(ctx, &session)

	s.log.Info("call started",
		zap.String("call_id", session.ID.String()),
		zap.String("channel_id", channelID.String()),
		zap.String("call_type", string(callType)),
	)
	return &view, nil
}

// JoinCall adds the caller to an active call. Joining while already in the
// call returns the current state without a new event.
func (s *Service) JoinCall(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*domain.CallView, error) {
	session, err := s.findSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	access, err := s.channels.CheckAccess(ctx, session.ChannelID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectCall, authorization.ActionCallJoin); err != nil {
		return nil, err
	}
	if session.Status != domain.CallStatusActive {
		return nil, domain.ErrCallEnded
	}

	existing, err := s.repo.FindParticipant(ctx, s.db, callID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.LeftAt == nil {
		return s.view(ctx, session)
	}

	now := s.clock.Now()
	if err := s.repo.UpsertParticipant(ctx, s.db, domain.Participant{CallID: callID, UserID: actor.UserID, JoinedAt: now}); err != nil {
		return nil, err
	}

	// An end that committed between the status check and the upsert has
	// already closed the roster; close this row too.
	current, err := s.findSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.CallStatusActive {
		if current.EndedAt != nil {
			now = *current.EndedAt
		}
		if _, err := s.repo.LeaveParticipant(ctx, s.db, callID, actor.UserID, now); err != nil {
			return nil, err
		}
		return nil, domain.ErrCallEnded
	}

	view, err := s.view(ctx, current)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, session.ChannelID, realtime.CallParticipantJoined{
		CallID:       callID,
		UserID:       actor.UserID,
		Participants: view.Participants,
	})
	return view, nil
}

// LeaveCall never ends the session, even when the roster becomes empty.
func (s *Service) LeaveCall(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*domain.CallView, error) {
	session, err := s.findSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.CallStatusActive {
		return nil, domain.ErrCallEnded
	}
	affected, err := s.repo.LeaveParticipant(ctx, s.db, callID, actor.UserID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrParticipantNotFound
	}
	return s.announceLeave(ctx, session, actor.UserID)
}

// MarkParticipantGone applies a liveness signal from the media transport.
// Repeated or late signals are accepted as no-ops.
func (s *Service) MarkParticipantGone(ctx context.Context, callID, userID snowflake.ID) error {
	session, err := s.findSession(ctx, callID)
	if err != nil {
		return err
	}
	if session.Status != domain.CallStatusActive {
		return nil
	}
	affected, err := s.repo.LeaveParticipant(ctx, s.db, callID, userID, s.clock.Now())
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}
	s.log.Info("participant marked gone",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()),
	)
	_, err = s.announceLeave(ctx, session, userID)
	return err
}

func (s *Service) announceLeave(ctx context.Context, session *domain.CallSession, userID snowflake.ID) (*domain.CallView, error) {
	view, err := s.view(ctx, session)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, session.ChannelID, realtime.CallParticipantLeft{
		CallID:       session.ID,
		UserID:       userID,
		Participants: view.Participants,
	})
	return view, nil
}

// EndCall is allowed to the starter and to channel admins or owners.
func (s *Service) EndCall(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*domain.CallView, error) {
	session, err := s.findSession(ctx, callID)
	if err != nil {
		return nil, err
	}
	if session.StartedBy != actor.UserID {
		access, err := s.channels.CheckAccess(ctx, session.ChannelID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectCall, authorization.ActionCallEndAny); err != nil {
			return nil, domain.ErrNotCallOwner
		}
	}
	if session.Status != domain.CallStatusActive {
		return nil, domain.ErrCallEnded
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		affected, err := s.repo.EndSession(ctx, tx, callID, actor.UserID, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			return domain.ErrCallEnded
		}
		_, err = s.repo.CloseParticipants(ctx, tx, callID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	endedBy := actor.UserID
	session.Status = domain.CallStatusEnded
	session.ActiveChannelID = nil
	session.EndedBy = &endedBy
	session.EndedAt = &now

	view := buildView(session, nil)
	s.publisher.Publish(ctx, session.ChannelID, realtime.CallEnded{CallID: callID, EndedBy: endedBy, EndedAt: now})
	s.log.Info("call ended",
		zap.String("call_id", callID.String()),
		zap.String("channel_id", session.ChannelID.String()),
		zap.Duration("duration", now.Sub(session.StartedAt)),
	)
	return &view, nil
}

func (s *Service) GetActiveCall(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*domain.CallView, error) {
	if _, err := s.channels.CheckAccess(ctx, channelID, actor.UserID); err != nil {
		return nil, err
	}
	return s.ActiveCallState(ctx, channelID)
}

// ActiveCallState is shared by GetActiveCall and the subscribe snapshot so
// both paths render the same view.
func (s *Service) ActiveCallState(ctx context.Context, channelID snowflake.ID) (*domain.CallView, error) {
	session, err := s.repo.FindActiveByChannel(ctx, s.db, channelID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	return s.view(ctx, session)
}

func (s *Service) findSession(ctx context.Context, callID snowflake.ID) (*domain.CallSession, error) {
	session, err := s.repo.FindSession(ctx, s.db, callID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrCallNotFound
	}
	return session, nil
}

func (s *Service) view(ctx context.Context, session *domain.CallSession) (*domain.CallView, error) {
	participants, err := s.repo.ListActiveParticipants(ctx, s.db, session.ID)
	if err != nil {
		return nil, err
	}
	view := buildView(session, participants)
	return &view, nil
}

func buildView(session *domain.CallSession, participants []*domain.Participant) domain.CallView {
	view := domain.CallView{
		ID:           session.ID,
		ChannelID:    session.ChannelID,
		CallType:     session.CallType,
		Status:       session.Status,
		StartedBy:    session.StartedBy,
		StartedAt:    session.StartedAt,
		EndedBy:      session.EndedBy,
		EndedAt:      session.EndedAt,
		Participants: make([]domain.ParticipantView, 0, len(participants)),
	}
	for _, p := range participants {
		if p == nil || p.LeftAt != nil {
			continue
		}
		view.Participants = append(view.Participants, domain.ParticipantView{UserID: p.UserID, JoinedAt: p.JoinedAt})
	}
	return view
}

func (s *Service) notifyCallStarted(ctx context.Context, session *domain.CallSession) {
	members, err := s.channels.MemberIDs(ctx, session.ChannelID)
	if err != nil {
		s.log.Warn("call audience lookup failed", zap.String("call_id", session.ID.String()), zap.Error(err))
		return
	}
	recipients := make([]snowflake.ID, 0, len(members))
	for _, id := range members {
		if id != session.StartedBy {
			recipients = append(recipients, id)
		}
	}

	callID := session.ID
	n := notify.Notification{
		Kind:       notify.KindCallStarted,
		ChannelID:  session.ChannelID,
		ActorID:    session.StartedBy,
		Recipients: recipients,
		CallID:     &callID,
		CallType:   string(session.CallType),
		OccurredAt: session.StartedAt,
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Dispatch(nctx, n); err != nil {
			s.log.Warn("call notification failed", zap.String("call_id", callID.String()), zap.Error(err))
		}
	}()
}

func subjectOf(actor identity.Actor, role channeldomain.Role) authorization.Subject {
	return authorization.Subject{ChannelRole: string(role), PlatformRole: actor.PlatformRole}
}
