// Package dbopen picks the db.Repository implementation for a database URL.
package dbopen

import (
	"context"
	"fmt"

	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/db/postgres"
	"github.com/jusunglee/jishobot/internal/db/sqlite"
)

// Open connects to PostgreSQL for postgres:// URLs and opens a SQLite file
// for anything else.
func Open(ctx context.Context, databaseURL string) (db.Repository, error) {
	if db.IsPostgresURL(databaseURL) {
		repo, err := postgres.New(ctx, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating PostgreSQL connection: %w", err)
		}
		return repo, nil
	}
	repo, err := sqlite.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("creating SQLite connection: %w", err)
	}
	return repo, nil
}
