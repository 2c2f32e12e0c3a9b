package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverRoundTrip(t *testing.T) {
	r := NewResolverWithSecret("test-secret")

	token, err := r.Issue(Actor{UserID: 42, OrgID: 7, PlatformRole: PlatformRoleModerator}, time.Hour)
	require.NoError(t, err)

	actor, err := r.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, Actor{UserID: 42, OrgID: 7, PlatformRole: PlatformRoleModerator}, actor)
	assert.True(t, actor.IsModerator())
	assert.Equal(t, "42", actor.ID())
}

func TestResolverRejectsExpiredAndForeignTokens(t *testing.T) {
	r := NewResolverWithSecret("test-secret")
	token, err := r.Issue(Actor{UserID: 42}, time.Minute)
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = r.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewResolverWithSecret("other-secret")
	foreign, err := other.Issue(Actor{UserID: 42}, time.Hour)
	require.NoError(t, err)
	_, err = NewResolverWithSecret("test-secret").Resolve(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = r.Resolve("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}
