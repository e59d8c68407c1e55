package sqlite

import (
	"context"
	"database/sql"
	"log"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
	"github.com/pkg/errors"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/store"
)

// ============================================================================
// SQLITE SUPPORT (Default - Embedded)
// ============================================================================
// SQLite is the DEFAULT database for local single-user deployments.
//
// Episode embeddings are stored as JSON-encoded float arrays; similarity
// search runs against the in-process ANN index, not the database, so SQLite
// carries the full feature set here.
//
// For multi-instance deployments with in-database vector search, use
// PostgreSQL with pgvector.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("sqlite", profile.DSN)
	if err != nil {
		log.Printf("Failed to open database: %s", err)
		return nil, errors.Wrapf(err, "failed to open database: %s", profile.DSN)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent episode recording.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;"); err != nil {
		return nil, errors.Wrap(err, "failed to configure database")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'episode')").Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check if database is initialized")
	}
	return exists, nil
}
