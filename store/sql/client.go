package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	entmigrations "github.com/goliatone/go-entitlements/migrations"
)

// ClientConfig mirrors the persistence client configuration.
type ClientConfig interface {
	GetDebug() bool
	GetDriver() string
	GetServer() string
	GetPingTimeout() time.Duration
	GetOtelIdentifier() string
}

// MigrationDialect maps a database/sql driver name to a migration dialect.
func MigrationDialect(driver string) (string, error) {
	dialect, err := entmigrations.NormalizeDialect(driver)
	if err != nil {
		return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	return dialect, nil
}

func driverName(dialect string) string {
	if dialect == entmigrations.DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

func bunDialect(dialect string) schema.Dialect {
	if dialect == entmigrations.DialectPostgres {
		return pgdialect.New()
	}
	return sqlitedialect.New()
}

// OpenClient opens the database named by cfg and wraps it in a persistence
// client using the matching bun dialect.
func OpenClient(cfg ClientConfig) (*persistence.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sqlstore: client config is required")
	}
	dialect, err := MigrationDialect(cfg.GetDriver())
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driverName(dialect), cfg.GetServer())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}
	if dialect == entmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, bunDialect(dialect))
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return client, nil
}

// MigrateClient registers the bundled migrations for the client's dialect and
// applies them.
func MigrateClient(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	dialect, err := MigrationDialect(driver)
	if err != nil {
		return err
	}
	_, err = entmigrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, entmigrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	return client.Migrate(ctx)
}
