package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Migration System Overview:
//
// Schema setup is intentionally simple: a fresh database gets LATEST.sql for
// its driver, an initialized database is left alone. Incremental migrations
// live under store/migration/{driver}/ as NN__description.sql files and are
// applied in lexicographic order after LATEST.sql exists.
//
// Migration Files:
// - Location: store/migration/{driver}/NN__description.sql
// - LATEST.sql: Full schema for new installations

//go:embed migration
var migrationFS embed.FS

const (
	// MigrateFileNameSplit is the split character between the patch number and
	// the description in a migration file name, e.g. "01__add_index.sql".
	MigrateFileNameSplit = "__"
	// LatestSchemaFileName is the full-schema file applied to fresh databases.
	LatestSchemaFileName = "LATEST.sql"
)

// Migrate brings the database schema up to date.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check database initialization")
	}

	if !initialized {
		if err := s.applyLatestSchema(ctx); err != nil {
			return errors.Wrap(err, "failed to apply latest schema")
		}
		slog.Info("database initialized", "driver", s.profile.Driver)
		return nil
	}

	if err := s.applyIncrementalMigrations(ctx); err != nil {
		return errors.Wrap(err, "failed to apply incremental migrations")
	}
	return nil
}

func (s *Store) applyLatestSchema(ctx context.Context) error {
	path := fmt.Sprintf("migration/%s/%s", s.profile.Driver, LatestSchemaFileName)
	buf, err := migrationFS.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema file %q", path)
	}

	if _, err := s.driver.GetDB().ExecContext(ctx, string(buf)); err != nil {
		return errors.Wrapf(err, "failed to execute latest schema")
	}
	return nil
}

func (s *Store) applyIncrementalMigrations(ctx context.Context) error {
	dir := fmt.Sprintf("migration/%s", s.profile.Driver)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read migration dir %q", dir)
	}

	names := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == LatestSchemaFileName || !strings.Contains(name, MigrateFileNameSplit) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		buf, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration file %q", name)
		}
		// Migrations are idempotent (CREATE ... IF NOT EXISTS style); failures
		// from re-application are logged and skipped.
		if _, err := s.driver.GetDB().ExecContext(ctx, string(buf)); err != nil {
			slog.Warn("migration skipped", "file", name, "error", err)
		}
	}
	return nil
}
