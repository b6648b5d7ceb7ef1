// Package sessionstore implements the Session Store (spec.md §4.2): CRUD
// over sessions, plans, orchestrator state, chat history, and worker
// outputs (progress events are written and read by pkg/progress), plus the
// read-path snapshot assembly and the listing/retention
// operations supplemented from the teacher's SessionService.
//
// It talks to PostgreSQL directly through jackc/pgx/v5's database/sql
// driver and golang-migrate's embedded-migration runner, the same
// connection machinery the teacher's pkg/database.NewClient uses
// underneath its ent.Client — here used without ent, since ent's query
// builders are generated code this exercise cannot hand-author (see
// DESIGN.md).
package sessionstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/triadwork/triad/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Postgres is the Session Store implementation. All other pkg/sessionstore
// files define methods on this type.
type Postgres struct {
	db *sql.DB
}

// DB exposes the underlying connection for packages that share it (the
// envelope log and progress emitter are both backed by the same database).
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Open connects to PostgreSQL, applies pending migrations, and returns a
// ready Postgres store.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Postgres, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{db: db}, nil
}

// NewFromDB wraps an already-open, already-migrated *sql.DB (used by tests
// that manage the connection lifecycle themselves, e.g. testcontainers).
func NewFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func runMigrations(db *sql.DB, databaseName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found — binary may be built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Do not call m.Close(): that closes the shared *sql.DB via the
	// postgres driver, which we still need after migrating.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("close migration source: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// nowUTC is a tiny indirection so tests can't accidentally depend on wall
// clock skew between the app and the database; production code always
// calls this rather than time.Now() directly.
func nowUTC() time.Time {
	return time.Now().UTC()
}
