package authorization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeRoleHierarchy(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		role    string
		object  string
		action  string
		allowed bool
	}{
		{"guest", ObjectMessage, ActionMessagePost, true},
		{"guest", ObjectCall, ActionCallJoin, true},
		{"guest", ObjectCall, ActionCallStart, false},
		{"member", ObjectCall, ActionCallStart, true},
		{"member", ObjectMessage, ActionMessagePin, false},
		{"admin", ObjectMessage, ActionMessagePin, true},
		{"admin", ObjectMessage, ActionMessagePost, true},
		{"admin", ObjectChannel, ActionChannelArchive, false},
		{"owner", ObjectChannel, ActionChannelArchive, true},
		{"owner", ObjectMember, ActionMemberManage, true},
		{"", ObjectMessage, ActionMessagePost, false},
	}

	for _, tc := range cases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			err := svc.Authorize(Subject{ChannelRole: tc.role}, tc.object, tc.action)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorizePlatformModeratorCanPinWithoutMembership(t *testing.T) {
	svc := newTestService(t)

	assert.NoError(t, svc.Authorize(Subject{PlatformRole: "moderator"}, ObjectMessage, ActionMessagePin))
	assert.ErrorIs(t, svc.Authorize(Subject{PlatformRole: "moderator"}, ObjectMessage, ActionMessageModerate), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	assert.ErrorIs(t, svc.Authorize(Subject{ChannelRole: "owner"}, "", ActionChannelArchive), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(Subject{ChannelRole: "owner"}, ObjectChannel, " "), ErrInvalidAction)
}
