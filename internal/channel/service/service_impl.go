package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/accessmemo"
	"github.com/smallbiznis/comms/internal/authorization"
	"github.com/smallbiznis/comms/internal/channel/domain"
	"github.com/smallbiznis/comms/internal/clock"
	"github.com/smallbiznis/comms/internal/identity"
	orgdomain "github.com/smallbiznis/comms/internal/organization/domain"
	"github.com/smallbiznis/comms/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Orgs     orgdomain.Directory
	Authz    authorization.Service
	Observer domain.MembershipObserver `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	orgs     orgdomain.Directory
	authz    authorization.Service
	observer domain.MembershipObserver
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("channel.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		orgs:     p.Orgs,
		authz:    p.Authz,
		observer: p.Observer,
	}
}

func (s *Service) CreateChannel(ctx context.Context, actor identity.Actor, req domain.CreateChannelRequest) (*domain.ChannelView, error) {
	if !actor.Valid() {
		return nil, domain.ErrInvalidUser
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidType
	}
	if req.Type == domain.ChannelTypeDM {
		return s.createDM(ctx, actor, req)
	}

	if req.OrgID == nil || *req.OrgID == 0 {
		return nil, domain.ErrOrgRequired
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	if req.Type != domain.ChannelTypeSubChannel && req.ParentChannelID != nil {
		return nil, domain.ErrUnexpectedParent
	}

	orgID := *req.OrgID
	if err := s.ensureOrgMember(ctx, orgID, actor.UserID); err != nil {
		return nil, err
	}

	if req.Type == domain.ChannelTypeSubChannel {
		if req.ParentChannelID == nil || *req.ParentChannelID == 0 {
			return nil, domain.ErrParentRequired
		}
		parent, err := s.repo.FindChannel(ctx, s.db, *req.ParentChannelID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.Type != domain.ChannelTypeDealRoom || !parent.Active() ||
			parent.OrgID == nil || *parent.OrgID != orgID {
			return nil, domain.ErrParentRequired
		}
		if _, err := s.CheckAccess(ctx, parent.ID, actor.UserID); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	channel := domain.Channel{
		ID:              s.genID.Generate(),
		OrgID:           &orgID,
		Type:            req.Type,
		Name:            name,
		Description:     strings.TrimSpace(req.Description),
		ParentChannelID: req.ParentChannelID,
		Status:          domain.ChannelStatusActive,
		CreatedBy:       actor.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	owner := domain.Membership{
		ChannelID: channel.ID,
		UserID:    actor.UserID,
		Role:      domain.RoleOwner,
		JoinedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertChannel(ctx, tx, &channel); err != nil {
			return err
		}
		return s.repo.InsertMembership(ctx, tx, &owner)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("channel created",
		zap.String("channel_id", channel.ID.String()),
		zap.String("type", string(channel.Type)),
		zap.String("org_id", orgID.String()),
	)
	return &domain.ChannelView{Channel: channel, Role: domain.RoleOwner}, nil
}

func (s *Service) createDM(ctx context.Context, actor identity.Actor, req domain.CreateChannelRequest) (*domain.ChannelView, error) {
	if req.OrgID != nil {
		return nil, domain.ErrDMHasOrg
	}
	if req.ParentChannelID != nil {
		return nil, domain.ErrUnexpectedParent
	}
	if req.Counterpart == 0 || req.Counterpart == actor.UserID {
		return nil, domain.ErrInvalidUser
	}

	now := s.clock.Now()
	key := domain.DMKey(actor.UserID, req.Counterpart)
	channel := domain.Channel{
		ID:        s.genID.Generate(),
		Type:      domain.ChannelTypeDM,
		Name:      strings.TrimSpace(req.Name),
		Status:    domain.ChannelStatusActive,
		DMKey:     &key,
		CreatedBy: actor.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertChannel(ctx, tx, &channel); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDMExists
			}
			return err
		}
		for _, userID := range []snowflake.ID{actor.UserID, req.Counterpart} {
			if err := s.repo.InsertMembership(ctx, tx, &domain.Membership{
				ChannelID: channel.ID,
				UserID:    userID,
				Role:      domain.RoleMember,
				JoinedAt:  now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("dm created", zap.String("channel_id", channel.ID.String()))
	return &domain.ChannelView{Channel: channel, Role: domain.RoleMember}, nil
}

func (s *Service) GetChannel(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*domain.ChannelView, error) {
	access, err := s.CheckAccess(ctx, channelID, actor.UserID)
	if err != nil {
		return nil, err
	}
	return &domain.ChannelView{Channel: *access.Channel, Role: access.Role}, nil
}

func (s *Service) ListChannelsForUser(ctx context.Context, actor identity.Actor, req domain.ListChannelsRequest) ([]domain.ChannelView, error) {
	if !actor.Valid() {
		return nil, domain.ErrInvalidUser
	}
	if req.Type != "" && !req.Type.Valid() {
		return nil, domain.ErrInvalidType
	}

	rows, err := s.repo.ListChannelsForUser(ctx, s.db, actor.UserID, domain.ListChannelFilter{
		OrgID:           req.OrgID,
		Type:            req.Type,
		ParentChannelID: req.ParentChannelID,
		IncludeArchived: req.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}

	views := make([]domain.ChannelView, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		views = append(views, domain.ChannelView{Channel: row.Channel, Role: row.Role})
	}
	return views, nil
}

func (s *Service) ArchiveChannel(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*domain.ChannelView, error) {
	access, err := s.CheckAccess(ctx, channelID, actor.UserID)
	if err != nil {
		return nil, err
	}
	// Either participant may archive a dm; other channels need archive rights.
	if access.Channel.Type != domain.ChannelTypeDM {
		if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectChannel, authorization.ActionChannelArchive); err != nil {
			return nil, err
		}
	}

	channel := *access.Channel
	if channel.Active() {
		now := s.clock.Now()
		if _, err := s.repo.ArchiveChannel(ctx, s.db, channelID, now); err != nil {
			return nil, err
		}
		channel.Status = domain.ChannelStatusArchived
		channel.ArchivedAt = &now
		channel.UpdatedAt = now
		accessmemo.Invalidate(ctx, channelID)
		s.log.Info("channel archived", zap.String("channel_id", channelID.String()))
	}
	return &domain.ChannelView{Channel: channel, Role: access.Role}, nil
}

func (s *Service) AddMember(ctx context.Context, actor identity.Actor, req domain.AddMemberRequest) (*domain.Membership, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	role := req.Role
	if req.IsGuest {
		role = domain.RoleGuest
	}
	if role == "" {
		role = domain.RoleMember
	}
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	access, err := s.manageAccess(ctx, actor, req.ChannelID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCanGrant(actor, access.Role, role); err != nil {
		return nil, err
	}

	channel := access.Channel
	if role != domain.RoleGuest && channel.OrgID != nil {
		if err := s.ensureOrgMember(ctx, *channel.OrgID, req.UserID); err != nil {
			return nil, err
		}
	}

	membership := domain.Membership{
		ChannelID: channel.ID,
		UserID:    req.UserID,
		Role:      role,
		IsDefault: req.IsDefault,
		JoinedAt:  s.clock.Now(),
	}
	if err := s.repo.InsertMembership(ctx, s.db, &membership); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrMemberExists
		}
		return nil, err
	}
	accessmemo.Invalidate(ctx, channel.ID)

	s.log.Info("member added",
		zap.String("channel_id", channel.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("role", string(role)),
	)
	return &membership, nil
}

func (s *Service) RemoveMember(ctx context.Context, actor identity.Actor, channelID, userID snowflake.ID) error {
	self := actor.UserID == userID

	var access domain.Access
	var err error
	if self {
		access, err = s.CheckAccess(ctx, channelID, actor.UserID)
	} else {
		access, err = s.manageAccess(ctx, actor, channelID)
	}
	if err != nil {
		return err
	}
	if access.Channel.Type == domain.ChannelTypeDM {
		return domain.ErrDMMembershipFixed
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.TouchChannel(ctx, tx, channelID, s.clock.Now()); err != nil {
			return err
		}
		target, err := s.repo.FindMembership(ctx, tx, channelID, userID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrMemberNotFound
		}
		if !self && target.Role == domain.RoleOwner && access.Role != domain.RoleOwner {
			return domain.ErrRoleTooHigh
		}
		if target.Role == domain.RoleOwner {
			owners, err := s.repo.CountOwners(ctx, tx, channelID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		_, err = s.repo.DeleteMembership(ctx, tx, channelID, userID)
		return err
	})
	if err != nil {
		return err
	}

	accessmemo.Invalidate(ctx, channelID)
	if s.observer != nil {
		s.observer.MembershipRevoked(channelID, userID)
	}
	s.log.Info("member removed",
		zap.String("channel_id", channelID.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}

func (s *Service) UpdateRole(ctx context.Context, actor identity.Actor, channelID, userID snowflake.ID, role domain.Role) (*domain.Membership, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	access, err := s.manageAccess(ctx, actor, channelID)
	if err != nil {
		return nil, err
	}
	if access.Channel.Type == domain.ChannelTypeDM {
		return nil, domain.ErrDMMembershipFixed
	}
	if err := s.ensureCanGrant(actor, access.Role, role); err != nil {
		return nil, err
	}

	var updated *domain.Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.TouchChannel(ctx, tx, channelID, s.clock.Now()); err != nil {
			return err
		}
		target, err := s.repo.FindMembership(ctx, tx, channelID, userID)
		if err != nil {
			return err
		}
		if target == nil {
			return domain.ErrMemberNotFound
		}
		if target.Role == domain.RoleOwner && access.Role != domain.RoleOwner {
			return domain.ErrRoleTooHigh
		}
		if target.Role == domain.RoleOwner && role != domain.RoleOwner {
			owners, err := s.repo.CountOwners(ctx, tx, channelID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return domain.ErrLastOwner
			}
		}
		if _, err := s.repo.UpdateMembershipRole(ctx, tx, channelID, userID, role); err != nil {
			return err
		}
		target.Role = role
		updated = target
		return nil
	})
	if err != nil {
		return nil, err
	}

	accessmemo.Invalidate(ctx, channelID)
	s.log.Info("member role updated",
		zap.String("channel_id", channelID.String()),
		zap.String("user_id", userID.String()),
		zap.String("role", string(role)),
	)
	return updated, nil
}

func (s *Service) ListMembers(ctx context.Context, actor identity.Actor, channelID snowflake.ID) ([]domain.Membership, error) {
	if _, err := s.CheckAccess(ctx, channelID, actor.UserID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListMemberships(ctx, s.db, channelID)
	if err != nil {
		return nil, err
	}
	members := make([]domain.Membership, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		members = append(members, *row)
	}
	return members, nil
}

func (s *Service) CheckAccess(ctx context.Context, channelID, userID snowflake.ID) (domain.Access, error) {
	memo, hasMemo := accessmemo.FromContext(ctx)
	if hasMemo {
		if cached, ok := memo.Get(channelID, userID); ok {
			if access, ok := cached.(domain.Access); ok {
				return access, nil
			}
		}
	}

	channel, err := s.repo.FindChannel(ctx, s.db, channelID)
	if err != nil {
		return domain.Access{}, err
	}
	if channel == nil {
		return domain.Access{}, domain.ErrChannelNotFound
	}
	if userID == 0 {
		return domain.Access{}, domain.ErrNotMember
	}
	membership, err := s.repo.FindMembership(ctx, s.db, channelID, userID)
	if err != nil {
		return domain.Access{}, err
	}
	if membership == nil {
		return domain.Access{}, domain.ErrNotMember
	}

	access := domain.Access{Channel: channel, Role: membership.Role}
	if hasMemo {
		memo.Put(channelID, userID, access)
	}
	return access, nil
}

func (s *Service) FindChannel(ctx context.Context, channelID snowflake.ID) (*domain.Channel, error) {
	channel, err := s.repo.FindChannel(ctx, s.db, channelID)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		return nil, domain.ErrChannelNotFound
	}
	return channel, nil
}

func (s *Service) MemberIDs(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error) {
	rows, err := s.repo.ListMemberships(ctx, s.db, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		ids = append(ids, row.UserID)
	}
	return ids, nil
}

// manageAccess resolves the caller's access and requires membership management rights
// on an active channel.
func (s *Service) manageAccess(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (domain.Access, error) {
	access, err := s.CheckAccess(ctx, channelID, actor.UserID)
	if err != nil {
		return domain.Access{}, err
	}
	if access.Channel.Type == domain.ChannelTypeDM {
		return domain.Access{}, domain.ErrDMMembershipFixed
	}
	if !access.Channel.Active() {
		return domain.Access{}, domain.ErrChannelArchived
	}
	if err := s.authz.Authorize(subjectOf(actor, access.Role), authorization.ObjectMember, authorization.ActionMemberManage); err != nil {
		return domain.Access{}, err
	}
	return access, nil
}

func (s *Service) ensureCanGrant(actor identity.Actor, callerRole, role domain.Role) error {
	if !callerRole.AtLeast(role) {
		return domain.ErrRoleTooHigh
	}
	if role == domain.RoleOwner {
		if err := s.authz.Authorize(subjectOf(actor, callerRole), authorization.ObjectMember, authorization.ActionMemberGrantOwner); err != nil {
			return domain.ErrRoleTooHigh
		}
	}
	return nil
}

func (s *Service) ensureOrgMember(ctx context.Context, orgID, userID snowflake.ID) error {
	exists, err := s.orgs.OrganizationExists(ctx, orgID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrgNotFound
	}
	member, err := s.orgs.IsMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !member {
		return domain.ErrNotOrgMember
	}
	return nil
}

func subjectOf(actor identity.Actor, role domain.Role) authorization.Subject {
	return authorization.Subject{ChannelRole: string(role), PlatformRole: actor.PlatformRole}
}
