package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Directory answers tenant questions for the channel directory.
type Directory interface {
	OrganizationExists(ctx context.Context, orgID snowflake.ID) (bool, error)
	IsMember(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (bool, error)
}
