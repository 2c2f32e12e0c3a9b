// Package identity carries the authenticated caller through every operation.
// Services receive an Actor argument explicitly and never consult ambient state.
package identity

import (
	"strconv"

	"github.com/bwmarrin/snowflake"
)

const PlatformRoleModerator = "moderator"

type Actor struct {
	UserID       snowflake.ID
	OrgID        snowflake.ID
	PlatformRole string
}

func (a Actor) Valid() bool {
	return a.UserID != 0
}

// IsModerator reports whether the actor holds the platform override role.
func (a Actor) IsModerator() bool {
	return a.PlatformRole == PlatformRoleModerator
}

func (a Actor) ID() string {
	return strconv.FormatInt(int64(a.UserID), 10)
}
