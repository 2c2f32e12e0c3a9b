package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/comms/internal/apperr"
	"github.com/smallbiznis/comms/internal/identity"
)

type CreateChannelRequest struct {
	Type            ChannelType
	OrgID           *snowflake.ID
	Name            string
	Description     string
	ParentChannelID *snowflake.ID
	// Counterpart is the other participant of a dm.
	Counterpart snowflake.ID
}

type AddMemberRequest struct {
	ChannelID snowflake.ID
	UserID    snowflake.ID
	Role      Role
	IsGuest   bool
	IsDefault bool
}

type ListChannelsRequest struct {
	OrgID           *snowflake.ID
	Type            ChannelType
	ParentChannelID *snowflake.ID
	IncludeArchived bool
}

// ChannelView is a channel as seen by one caller.
type ChannelView struct {
	Channel
	Role Role `json:"role"`
}

// Access is the outcome of a successful access check.
type Access struct {
	Channel *Channel
	Role    Role
}

type Service interface {
	CreateChannel(ctx context.Context, actor identity.Actor, req CreateChannelRequest) (*ChannelView, error)
	GetChannel(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*ChannelView, error)
	ListChannelsForUser(ctx context.Context, actor identity.Actor, req ListChannelsRequest) ([]ChannelView, error)
	ArchiveChannel(ctx context.Context, actor identity.Actor, channelID snowflake.ID) (*ChannelView, error)

	AddMember(ctx context.Context, actor identity.Actor, req AddMemberRequest) (*Membership, error)
	RemoveMember(ctx context.Context, actor identity.Actor, channelID, userID snowflake.ID) error
	UpdateRole(ctx context.Context, actor identity.Actor, channelID, userID snowflake.ID, role Role) (*Membership, error)
	ListMembers(ctx context.Context, actor identity.Actor, channelID snowflake.ID) ([]Membership, error)

	// CheckAccess returns the caller's role in the channel, or ErrNotMember.
	// It is the single access authority every other component consults.
	CheckAccess(ctx context.Context, channelID, userID snowflake.ID) (Access, error)
	// FindChannel loads a channel without any access check.
	FindChannel(ctx context.Context, channelID snowflake.ID) (*Channel, error)
	// MemberIDs lists the current member ids of a channel.
	MemberIDs(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error)
}

// DMKey is the order-independent identity of a dm between a and b.
func DMKey(a, b snowflake.ID) string {
	if a > b {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

var (
	ErrChannelNotFound   = apperr.New(apperr.CodeNotFound, "channel_not_found")
	ErrMemberNotFound    = apperr.New(apperr.CodeNotFound, "member_not_found")
	ErrNotMember         = apperr.New(apperr.CodeForbidden, "not_a_member")
	ErrForbidden         = apperr.New(apperr.CodeForbidden, "forbidden")
	ErrNotOrgMember      = apperr.New(apperr.CodeForbidden, "not_an_org_member")
	ErrRoleTooHigh       = apperr.New(apperr.CodeForbidden, "role_exceeds_caller")
	ErrChannelArchived   = apperr.New(apperr.CodeForbidden, "channel_archived")
	ErrInvalidType       = apperr.New(apperr.CodeInvalidType, "invalid_channel_type")
	ErrOrgRequired       = apperr.New(apperr.CodeInvalidType, "org_required")
	ErrDMHasOrg          = apperr.New(apperr.CodeInvalidType, "dm_cannot_have_org")
	ErrParentRequired    = apperr.New(apperr.CodeInvalidType, "sub_channel_requires_deal_room")
	ErrUnexpectedParent  = apperr.New(apperr.CodeInvalidType, "parent_only_for_sub_channel")
	ErrDMMembershipFixed = apperr.New(apperr.CodeInvalidType, "dm_membership_fixed")
	ErrOrgNotFound       = apperr.New(apperr.CodeNotFound, "organization_not_found")
	ErrInvalidName       = apperr.New(apperr.CodeInvalidArgument, "invalid_name")
	ErrInvalidRole       = apperr.New(apperr.CodeInvalidArgument, "invalid_role")
	ErrInvalidUser       = apperr.New(apperr.CodeInvalidArgument, "invalid_user")
	ErrMemberExists      = apperr.New(apperr.CodeConflict, "member_exists")
	ErrDMExists          = apperr.New(apperr.CodeConflict, "dm_exists")
	ErrLastOwner         = apperr.New(apperr.CodeLastOwner, "last_owner")
)

// MembershipObserver is told when a user loses access to a channel so live
// subscriptions can be torn down.
type MembershipObserver interface {
	MembershipRevoked(channelID, userID snowflake.ID)
}
