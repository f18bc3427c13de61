// Package migrate applies the embedded SQL files to the operator database
// in lexical order, once each.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/example/tatkal-scheduler/internal/db"
	"github.com/example/tatkal-scheduler/internal/log"
)

//go:embed *.sql
var fs embed.FS

// Files lists the embedded migrations in the order they are applied.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// Up applies every migration not yet recorded in schema_migrations and
// returns the names it applied.
func Up(ctx context.Context, q db.Querier) ([]string, error) {
	files, err := Files()
	if err != nil {
		return nil, err
	}

	if err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now());`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	logger := log.WithComponent("migrate")
	var applied []string
	for _, f := range files {
		var done bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, f).Scan(&done); err != nil {
			return applied, fmt.Errorf("check %s: %w", f, err)
		}
		if done {
			continue
		}

		b, err := fs.ReadFile(f)
		if err != nil {
			return applied, err
		}
		if err := q.Exec(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", f, err)
		}
		if err := q.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, f); err != nil {
			return applied, fmt.Errorf("record %s: %w", f, err)
		}
		logger.Info().Str("version", f).Msg("migration applied")
		applied = append(applied, f)
	}
	return applied, nil
}
