package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
	orgdomain "github.com/smallbiznis/comms/internal/organization/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists every table the engine persists, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&channeldomain.Channel{},
		&channeldomain.Membership{},
		&messagedomain.Message{},
		&messagedomain.Reaction{},
		&calldomain.CallSession{},
		&calldomain.Participant{},
	}
}

// AutoMigrate builds the schema from the gorm models. It backs the sqlite
// and mysql dialects, which the SQL migrations do not target.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
