package authorization

import (
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/smallbiznis/comms/internal/apperr"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

var (
	ErrForbidden     = apperr.New(apperr.CodeForbidden, "forbidden")
	ErrInvalidObject = apperr.New(apperr.CodeInvalidArgument, "invalid_object")
	ErrInvalidAction = apperr.New(apperr.CodeInvalidArgument, "invalid_action")
)

const (
	ObjectChannel = "channel"
	ObjectMember  = "member"
	ObjectMessage = "message"
	ObjectCall    = "call"
)

const (
	ActionChannelArchive = "channel.archive"

	ActionMemberManage     = "member.manage"
	ActionMemberGrantOwner = "member.grant_owner"

	ActionMessagePost     = "message.post"
	ActionMessageReact    = "message.react"
	ActionMessagePin      = "message.pin"
	ActionMessageModerate = "message.moderate"

	ActionCallStart  = "call.start"
	ActionCallJoin   = "call.join"
	ActionCallEndAny = "call.end_any"
)

const platformModeratorSubject = "role:platform_moderator"

// Subject is the caller as the policy sees it: the channel role (possibly
// empty when the caller is not a member) and the platform role from the token.
type Subject struct {
	ChannelRole  string
	PlatformRole string
}

type Service interface {
	Authorize(subject Subject, object string, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(subject Subject, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	for _, sub := range subjectsFor(subject) {
		allowed, err := s.enforcer.Enforce(sub, object, action)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.log.Debug("authorization denied",
		zap.String("channel_role", subject.ChannelRole),
		zap.String("platform_role", subject.PlatformRole),
		zap.String("object", object),
		zap.String("action", action),
	)
	return ErrForbidden
}

func subjectsFor(subject Subject) []string {
	subjects := make([]string, 0, 2)
	if role := strings.ToLower(strings.TrimSpace(subject.ChannelRole)); role != "" {
		subjects = append(subjects, "role:"+role)
	}
	if strings.EqualFold(strings.TrimSpace(subject.PlatformRole), "moderator") {
		subjects = append(subjects, platformModeratorSubject)
	}
	return subjects
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Guest permissions
		{"role:guest", ObjectMessage, ActionMessagePost},
		{"role:guest", ObjectMessage, ActionMessageReact},
		{"role:guest", ObjectCall, ActionCallJoin},

		// Member permissions
		{"role:member", ObjectCall, ActionCallStart},

		// Admin permissions
		{"role:admin", ObjectMember, ActionMemberManage},
		{"role:admin", ObjectMessage, ActionMessagePin},
		{"role:admin", ObjectMessage, ActionMessageModerate},
		{"role:admin", ObjectCall, ActionCallEndAny},

		// Owner permissions
		{"role:owner", ObjectChannel, ActionChannelArchive},
		{"role:owner", ObjectMember, ActionMemberGrantOwner},

		// Platform override
		{platformModeratorSubject, ObjectMessage, ActionMessagePin},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}

	// Each role inherits everything granted to the role below it.
	hierarchy := [][]string{
		{"role:owner", "role:admin"},
		{"role:admin", "role:member"},
		{"role:member", "role:guest"},
	}
	for _, link := range hierarchy {
		if _, err := enforcer.AddGroupingPolicy(link[0], link[1]); err != nil {
			return err
		}
	}
	return nil
}
