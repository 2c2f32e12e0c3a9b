// Package testutil opens throwaway sqlite databases with the engine schema.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/comms/internal/migration"
	orgdomain "github.com/smallbiznis/comms/internal/organization/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns a private in-memory database. A single connection keeps
// every statement on the same memory database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

// SeedOrg creates an organization and enrolls userIDs as its members.
func SeedOrg(t testing.TB, db *gorm.DB, orgID snowflake.ID, userIDs ...snowflake.ID) {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "org-" + orgID.String(), CreatedAt: now}).Error)
	for i, userID := range userIDs {
		require.NoError(t, db.Create(&orgdomain.OrganizationMember{
			ID:        orgID*1000 + snowflake.ID(i+1),
			OrgID:     orgID,
			UserID:    userID,
			Role:      "MEMBER",
			CreatedAt: now,
		}).Error)
	}
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}
