package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/store"
	"github.com/hrygo/recall/store/db/postgres"
	"github.com/hrygo/recall/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// This project supports only SQLite and PostgreSQL databases.
//
// SQLite: Default for local single-user use. Embeddings stored as JSON text.
// PostgreSQL: For shared deployments. Embeddings stored in pgvector columns.
//
// Similarity search is served by the in-process ANN index in both cases, so
// both drivers carry the full feature set.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.New("unknown db driver: only 'sqlite' and 'postgres' are supported")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
