// Package migrations embeds the postgres schema and applies it in file name order.
package migrations

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/logger"
	"github.com/flexprice/plancore/internal/postgres"
)

//go:embed postgres/*.sql
var files embed.FS

// Pending lists migration names not yet recorded in schema_migrations
func Pending(ctx context.Context, db *postgres.DB) ([]string, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to create schema_migrations").Mark(ierr.ErrDatabase)
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT name FROM schema_migrations`); err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to read schema_migrations").Mark(ierr.ErrDatabase)
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}

	names, err := fs.Glob(files, "postgres/*.up.sql")
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrInternal)
	}
	sort.Strings(names)

	var pending []string
	for _, name := range names {
		if !done[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Source returns the SQL of a migration
func Source(name string) (string, error) {
	b, err := files.ReadFile(name)
	if err != nil {
		return "", ierr.WithError(err).Mark(ierr.ErrNotFound)
	}
	return strings.TrimSpace(string(b)), nil
}

// Apply runs every pending migration, each in its own transaction
func Apply(ctx context.Context, db *postgres.DB, log *logger.Logger) error {
	pending, err := Pending(ctx, db)
	if err != nil {
		return err
	}

	for _, name := range pending {
		sql, err := Source(name)
		if err != nil {
			return err
		}
		err = db.WithTx(ctx, func(ctx context.Context) error {
			q := db.GetQuerier(ctx)
			if _, err := q.ExecContext(ctx, sql); err != nil {
				return ierr.WithError(err).WithHintf("Migration %s failed", name).Mark(ierr.ErrDatabase)
			}
			if _, err := q.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
				return ierr.WithError(err).Mark(ierr.ErrDatabase)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Infow("applied migration", "name", name)
	}
	return nil
}
