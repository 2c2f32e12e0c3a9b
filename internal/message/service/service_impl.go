package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/authorization"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/config"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/internal/message/domain"
	"github.com/smallbiznis/comms/internal/observability/metrics"
	"github.com/smallbiznis/comms/internal/providers/notify"
	"github.com/smallbiznis/comms/internal/providers/storage"
	"github.com/smallbiznis/comms/internal/realtime"
	"github.com/smallbiznis/comms/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxEmojiBytes   = 64
	previewLength   = 140
	notifyTimeout   = 5 * time.Second
	rateLimitTarget = "message.create"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Policy    *config.PolicyHolder
	Repo      domain.Repository
	Channels  channeldomain.Service
	Authz     authorization.Service
	Publisher realtime.Publisher
	Storage   storage.Resolver
	Notifier  notify.Dispatcher
	Limiter   domain.PostLimiter `optional:"true"`
	Metrics   *metrics.Metrics   `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	policy    *config.PolicyHolder
	repo      domain.Repository
	channels  channeldomain.Service
	authz     authorization.Service
	publisher realtime.Publisher
	storage   storage.Resolver
	notifier  notify.Dispatcher
	limiter   domain.PostLimiter
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("message.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		policy:    p.Policy,
		repo:      p.Repo,
		channels:  p.Channels,
		authz:     p.Authz,
		publisher: p.Publisher,
		storage:   p.Storage,
		notifier:  p.Notifier,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
	}
}

func (s *Service) CreateMessage(ctx context.Context, actor identity.Actor, req domain.CreateMessageRequest) (*domain.MessageView, error) {
	policy := s.policy.Get()
	attachments, err := normalizeAttachments(req.Attachments, policy.MaxAttachments)
	if err != nil {
		return nil, err
	}
	if err := validateContent(req.Content, policy.MaxMessageLength, len(attachments) > 0); err != nil {
		return nil, err
	}

	access, err := s.channels.CheckAccess(ctx, req.ChannelID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !access.Channel.Active() {
		return nil, domain.ErrChannelArchived
	}
	if access.Role == channeldomain.RoleGuest && !policy.GuestsCanPost {
		return nil, domain.ErrGuestsCannotPost
	}
	if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectMessage, authorization.ActionMessagePost); err != nil {
		return nil, err
	}
	if err := s.allowPost(ctx, actor); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	message := domain.Message{
		ID:              s.genID.Generate(),
		ChannelID:       req.ChannelID,
		UserID:          actor.UserID,
		Content:         req.Content,
		Attachments:     attachments,
		ParentMessageID: req.ParentMessageID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var parentReplies *int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.ParentMessageID != nil {
			count, err := s.attachReply(ctx, tx, *req.ParentMessageID, req.ChannelID)
			if err != nil {
				return err
			}
			parentReplies = &count
		}
		return s.repo.Insert(ctx, tx, &message)
	})
	if err != nil {
		return nil, err
	}

	view := s.toView(ctx, &message, nil)
	s.metrics.RecordMessageCreated(ctx, string(access.Channel.Type), message.ParentMessageID != nil)
	s.publisher.Publish(ctx, message.ChannelID, realtime.MessageCreated{Message: view, ParentReplyCount: parentReplies})
	s.notifyMentions(ctx, &message, extractMentions(message.Content))

	s.log.Debug("message created",
		zap.String("message_id", message.ID.String()),
		zap.String("channel_id", message.ChannelID.String()),
	)
	return &view, nil
}

// attachReply bumps the parent's reply count and returns the new value. Only
// live top-level messages of the same channel accept replies.
func (s *Service) attachReply(ctx context.Context, tx *gorm.DB, parentID, channelID snowflake.ID) (int, error) {
	parent, err := s.repo.FindByID(ctx, tx, parentID)
	if err != nil {
		return 0, err
	}
	if parent == nil || parent.ChannelID != channelID || parent.IsDeleted || parent.ParentMessageID != nil {
		return 0, domain.ErrInvalidParent
	}
	count, ok, err := s.repo.IncrementReplyCount(ctx, tx, parentID, channelID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.ErrInvalidParent
	}
	return count, nil
}

func (s *Service) GetMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*domain.MessageView, error) {
	message, _, err := s.loadWithAccess(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	views, err := s.toViews(ctx, actor, []*domain.Message{message})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) EditMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID, content string) (*domain.MessageView, error) {
	policy := s.policy.Get()
	if err := validateContent(content, policy.MaxMessageLength, false); err != nil {
		return nil, err
	}

	message, access, err := s.loadWithAccess(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}
	if message.UserID != actor.UserID {
		return nil, domain.ErrNotAuthor
	}
	now := s.clock.Now()
	if now.Sub(message.CreatedAt) > policy.EditWindow {
		return nil, domain.ErrEditWindowExpired
	}
	if !access.Channel.Active() {
		return nil, domain.ErrChannelArchived
	}

	affected, err := s.repo.UpdateContent(ctx, s.db, messageID, actor.UserID, content, now.Add(-policy.EditWindow), now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.editRejection(ctx, messageID)
	}

	previous := message.Content
	message.Content = content
	message.IsEdited = true
	message.UpdatedAt = now

	views, err := s.toViews(ctx, actor, []*domain.Message{message})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, message.ChannelID, realtime.MessageEdited{MessageID: message.ID, Content: content, EditedAt: now})
	s.notifyMentions(ctx, message, newMentions(previous, content))
	return &views[0], nil
}

// editRejection explains an edit the write refused after the checks passed:
// the message was deleted meanwhile, or the window closed.
func (s *Service) editRejection(ctx context.Context, messageID snowflake.ID) error {
	current, err := s.repo.FindByID(ctx, s.db, messageID)
	if err != nil {
		return err
	}
	if current == nil || current.IsDeleted {
		return domain.ErrMessageDeleted
	}
	return domain.ErrEditWindowExpired
}

// DeleteMessage is idempotent: deleting a tombstone succeeds without a new event.
func (s *Service) DeleteMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) error {
	message, access, err := s.loadWithAccess(ctx, actor, messageID)
	if err != nil {
		return err
	}
	if message.IsDeleted {
		return nil
	}
	if message.UserID != actor.UserID {
		if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectMessage, authorization.ActionMessageModerate); err != nil {
			return err
		}
	}

	now := s.clock.Now()
	affected, err := s.repo.SoftDelete(ctx, s.db, messageID, actor.UserID, now)
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}

	s.publisher.Publish(ctx, message.ChannelID, realtime.MessageDeleted{MessageID: message.ID, DeletedBy: actor.UserID, DeletedAt: now})
	s.log.Info("message deleted",
		zap.String("message_id", message.ID.String()),
		zap.String("channel_id", message.ChannelID.String()),
		zap.Bool("moderated", message.UserID != actor.UserID),
	)
	return nil
}

func (s *Service) PinMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*domain.MessageView, error) {
	return s.setPinned(ctx, actor, messageID, true)
}

func (s *Service) UnpinMessage(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*domain.MessageView, error) {
	return s.setPinned(ctx, actor, messageID, false)
}

func (s *Service) setPinned(ctx context.Context, actor identity.Actor, messageID snowflake.ID, pinned bool) (*domain.MessageView, error) {
	message, err := s.find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	channel, role, err := s.pinAccess(ctx, actor, message.ChannelID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}
	if err := s.authz.Authorize(subjectOf(actor, role), authorization.ObjectMessage, authorization.ActionMessagePin); err != nil {
		return nil, err
	}
	if !channel.Active() {
		return nil, domain.ErrChannelArchived
	}

	now := s.clock.Now()
	affected, err := s.repo.SetPinned(ctx, s.db, messageID, pinned, actor.UserID, now)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		message.IsPinned = pinned
		message.UpdatedAt = now
		if pinned {
			message.PinnedAt = &now
			message.PinnedBy = &actor.UserID
			s.publisher.Publish(ctx, message.ChannelID, realtime.MessagePinned{MessageID: message.ID, PinnedBy: actor.UserID, PinnedAt: now})
		} else {
			message.PinnedAt = nil
			message.PinnedBy = nil
			s.publisher.Publish(ctx, message.ChannelID, realtime.MessageUnpinned{MessageID: message.ID, UnpinnedBy: actor.UserID, UnpinnedAt: now})
		}
	}

	views, err := s.toViews(ctx, actor, []*domain.Message{message})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// pinAccess lets platform moderators pin in channels they are not members of.
func (s *Service) pinAccess(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*channeldomain.Channel, channeldomain.Role, error) {
	access, err := s.channels.CheckAccess(ctx, channelID, actor.UserID)
	if err == nil {
		return access.Channel, access.Role, nil
	}
	if !actor.IsModerator() || !errors.Is(err, channeldomain.ErrNotMember) {
		return nil, "", err
	}
	channel, err := s.channels.FindChannel(ctx, channelID)
	if err != nil {
		return nil, "", err
	}
	return channel, "", nil
}

// ToggleReaction deletes the reaction if present, otherwise inserts it. The
// primary key arbitrates concurrent toggles: an insert that finds the row
// already present reports a conflict instead of a second add.
func (s *Service) ToggleReaction(ctx context.Context, actor identity.Actor, messageID snowflake.ID, emoji string) (*domain.ToggleReactionResult, error) {
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return nil, err
	}

	message, access, err := s.loadWithAccess(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}
	if !access.Channel.Active() {
		return nil, domain.ErrChannelArchived
	}
	if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectMessage, authorization.ActionMessageReact); err != nil {
		return nil, err
	}

	reaction := domain.Reaction{MessageID: messageID, UserID: actor.UserID, Emoji: emoji, CreatedAt: s.clock.Now()}
	outcome := domain.ReactionRemoved
	removed, err := s.repo.DeleteReaction(ctx, s.db, reaction)
	if err != nil {
		return nil, err
	}
	if removed == 0 {
		inserted, err := s.repo.InsertReaction(ctx, s.db, reaction)
		if err != nil {
			return nil, err
		}
		if inserted == 0 {
			return nil, domain.ErrReactionConflict
		}
		outcome = domain.ReactionAdded
	}

	count, err := s.repo.CountEmoji(ctx, s.db, messageID, emoji)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReactionToggled(ctx, string(outcome))
	s.publisher.Publish(ctx, message.ChannelID, realtime.ReactionChanged{
		MessageID: messageID,
		UserID:    actor.UserID,
		Emoji:     emoji,
		Outcome:   outcome,
		Count:     count,
	})
	return &domain.ToggleReactionResult{MessageID: messageID, Emoji: emoji, Outcome: outcome, Count: count}, nil
}

func (s *Service) ListMessages(ctx context.Context, actor identity.Actor, req domain.ListMessagesRequest) (domain.ListMessagesResponse, error) {
	if _, err := s.channels.CheckAccess(ctx, req.ChannelID, actor.UserID); err != nil {
		return domain.ListMessagesResponse{}, err
	}
	return s.page(ctx, actor, domain.ListFilter{
		ChannelID:      req.ChannelID,
		IncludeReplies: req.IncludeReplies,
	}, req.PageToken, req.PageSize, false)
}

// ListThread pages backwards from the newest reply; each page reads oldest first.
func (s *Service) ListThread(ctx context.Context, actor identity.Actor, req domain.ListThreadRequest) (domain.ListMessagesResponse, error) {
	parent, _, err := s.loadWithAccess(ctx, actor, req.ParentMessageID)
	if err != nil {
		return domain.ListMessagesResponse{}, err
	}
	return s.page(ctx, actor, domain.ListFilter{
		ChannelID:       parent.ChannelID,
		ParentMessageID: &parent.ID,
	}, req.PageToken, req.PageSize, true)
}

func (s *Service) page(ctx context.Context, actor identity.Actor, filter domain.ListFilter, token string, size int, chronological bool) (domain.ListMessagesResponse, error) {
	policy := s.policy.Get()
	limit := pagination.ClampPageSize(size, policy.DefaultPageSize, policy.MaxPageSize)
	if token != "" {
		before, err := pagination.DecodeIDCursor(token)
		if err != nil {
			return domain.ListMessagesResponse{}, err
		}
		cursorID := snowflake.ID(before)
		filter.BeforeID = &cursorID
	}
	filter.Limit = limit + 1

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListMessagesResponse{}, err
	}
	rows, info, err := pagination.Trim(rows, limit, func(m *domain.Message) string {
		return m.ID.String()
	})
	if err != nil {
		return domain.ListMessagesResponse{}, err
	}

	views, err := s.toViews(ctx, actor, rows)
	if err != nil {
		return domain.ListMessagesResponse{}, err
	}
	if chronological {
		for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
			views[i], views[j] = views[j], views[i]
		}
	}
	return domain.ListMessagesResponse{PageInfo: info, Messages: views}, nil
}

// ListPinned orders the banner with the longest-standing pin first as the
// primary entry, followed by the remaining pins newest first.
func (s *Service) ListPinned(ctx context.Context, actor identity.Actor, channelID snowflake.ID) ([]domain.MessageView, error) {
	if _, err := s.channels.CheckAccess(ctx, channelID, actor.UserID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListPinned(ctx, s.db, channelID)
	if err != nil {
		return nil, err
	}
	if len(rows) > 1 {
		rest := rows[1:]
		sort.SliceStable(rest, func(i, j int) bool {
			return pinnedAt(rest[i]).After(pinnedAt(rest[j]))
		})
	}
	return s.toViews(ctx, actor, rows)
}

func pinnedAt(m *domain.Message) time.Time {
	if m.PinnedAt == nil {
		return time.Time{}
	}
	return *m.PinnedAt
}

func (s *Service) find(ctx context.Context, messageID snowflake.ID) (*domain.Message, error) {
	message, err := s.repo.FindByID(ctx, s.db, messageID)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, domain.ErrMessageNotFound
	}
	return message, nil
}

func (s *Service) loadWithAccess(ctx context.Context, actor identity.Actor, messageID snowflake.ID) (*domain.Message, channeldomain.Access, error) {
	message, err := s.find(ctx, messageID)
	if err != nil {
		return nil, channeldomain.Access{}, err
	}
	access, err := s.channels.CheckAccess(ctx, message.ChannelID, actor.UserID)
	if err != nil {
		return nil, channeldomain.Access{}, err
	}
	return message, access, nil
}

// allowPost fails open: a limiter outage must not stop conversations.
func (s *Service) allowPost(ctx context.Context, actor identity.Actor) error {
	if s.limiter == nil {
		return nil
	}
	allowed, err := s.limiter.AllowPost(ctx, actor.UserID)
	if err != nil {
		s.log.Warn("post rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !allowed {
		s.metrics.RecordRateLimitDenied(ctx, rateLimitTarget, "user_rate")
		return domain.ErrRateLimited
	}
	s.metrics.RecordRateLimitAllowed(ctx, rateLimitTarget)
	return nil
}

func (s *Service) toViews(ctx context.Context, actor identity.Actor, messages []*domain.Message) ([]domain.MessageView, error) {
	ids := make([]snowflake.ID, 0, len(messages))
	for _, m := range messages {
		if !m.IsDeleted {
			ids = append(ids, m.ID)
		}
	}
	counts, err := s.repo.ReactionCounts(ctx, s.db, ids, actor.UserID)
	if err != nil {
		return nil, err
	}
	byMessage := make(map[snowflake.ID][]domain.ReactionSummary, len(ids))
	for _, c := range counts {
		byMessage[c.MessageID] = append(byMessage[c.MessageID], domain.ReactionSummary{
			Emoji: c.Emoji,
			Count: c.Count,
			Mine:  c.Mine > 0,
		})
	}

	views := make([]domain.MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, s.toView(ctx, m, byMessage[m.ID]))
	}
	return views, nil
}

// toView renders a message; tombstones keep their flags but lose their body.
func (s *Service) toView(ctx context.Context, m *domain.Message, reactions []domain.ReactionSummary) domain.MessageView {
	view := domain.MessageView{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		UserID:          m.UserID,
		ParentMessageID: m.ParentMessageID,
		ReplyCount:      m.ReplyCount,
		IsEdited:        m.IsEdited,
		IsDeleted:       m.IsDeleted,
		IsPinned:        m.IsPinned,
		PinnedAt:        m.PinnedAt,
		Attachments:     []domain.Attachment{},
		Reactions:       []domain.ReactionSummary{},
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.IsDeleted {
		return view
	}
	view.Content = m.Content
	if reactions != nil {
		view.Reactions = reactions
	}
	for _, ref := range m.Attachments {
		attachment := domain.Attachment{Ref: ref}
		resolved, err := s.storage.ResolveURL(ctx, ref)
		if err != nil {
			s.log.Warn("attachment url unresolved", zap.String("ref", ref), zap.Error(err))
		} else {
			attachment.URL = resolved
		}
		view.Attachments = append(view.Attachments, attachment)
	}
	return view
}

// notifyMentions hands mentioned channel members, minus the author, to the
// notification dispatcher without holding up the request.
func (s *Service) notifyMentions(ctx context.Context, m *domain.Message, mentioned []snowflake.ID) {
	if len(mentioned) == 0 {
		return
	}
	members, err := s.channels.MemberIDs(ctx, m.ChannelID)
	if err != nil {
		s.log.Warn("mention audience lookup failed", zap.String("message_id", m.ID.String()), zap.Error(err))
		return
	}
	inChannel := make(map[snowflake.ID]struct{}, len(members))
	for _, id := range members {
		inChannel[id] = struct{}{}
	}
	recipients := make([]snowflake.ID, 0, len(mentioned))
	for _, id := range mentioned {
		if id == m.UserID {
			continue
		}
		if _, ok := inChannel[id]; ok {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}

	messageID := m.ID
	n := notify.Notification{
		Kind:       notify.KindMention,
		ChannelID:  m.ChannelID,
		ActorID:    m.UserID,
		Recipients: recipients,
		MessageID:  &messageID,
		Preview:    preview(m.Content, previewLength),
		OccurredAt: s.clock.Now(),
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Dispatch(nctx, n); err != nil {
			s.log.Warn("mention notification failed", zap.String("message_id", messageID.String()), zap.Error(err))
		}
	}()
}

func validateContent(content string, maxLength int, allowBlank bool) error {
	if !allowBlank && strings.TrimSpace(content) == "" {
		return domain.ErrEmptyMessage
	}
	if !utf8.ValidString(content) {
		return domain.ErrInvalidContent
	}
	if maxLength > 0 && utf8.RuneCountInString(content) > maxLength {
		return domain.ErrMessageTooLong
	}
	return nil
}

func normalizeAttachments(refs []string, max int) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	if max > 0 && len(out) > max {
		return nil, domain.ErrTooManyFiles
	}
	return out, nil
}

func normalizeEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiBytes || !utf8.ValidString(emoji) {
		return "", domain.ErrInvalidEmoji
	}
	for _, r := range emoji {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", domain.ErrInvalidEmoji
		}
	}
	return emoji, nil
}

func subjectOf(actor identity.Actor, role channeldomain.Role) authorization.Subject {
	return authorization.Subject{ChannelRole: string(role), PlatformRole: actor.PlatformRole}
}
