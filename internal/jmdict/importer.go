package jmdict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/metrics"
)

const DefaultBatchSize = 1000

// Importer writes entries from a Reader into a repository, one transaction
// per batch.
type Importer struct {
	repo      db.Repository
	log       *slog.Logger
	batchSize int
}

func NewImporter(repo db.Repository, log *slog.Logger, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{repo: repo, log: log, batchSize: batchSize}
}

// Import drains r and returns the number of entries written. Batches
// committed before an error stay committed.
func (im *Importer) Import(ctx context.Context, r *Reader) (int, error) {
	total := 0
	batch := make([]db.InsertEntryParams, 0, im.batchSize)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		entry, err := r.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			return total, err
		}
		if err == nil {
			batch = append(batch, entry)
		}

		if len(batch) == im.batchSize || (errors.Is(err, io.EOF) && len(batch) > 0) {
			if werr := im.write(ctx, batch); werr != nil {
				return total, werr
			}
			total += len(batch)
			metrics.EntriesImported.Add(float64(len(batch)))
			im.log.InfoContext(ctx, "imported batch", "entries", total)
			batch = batch[:0]
		}

		if errors.Is(err, io.EOF) {
			return total, nil
		}
	}
}

func (im *Importer) write(ctx context.Context, batch []db.InsertEntryParams) error {
	err := im.repo.WithTx(ctx, func(tx db.Repository) error {
		for _, e := range batch {
			if _, err := tx.InsertEntry(ctx, e); err != nil {
				return fmt.Errorf("inserting entry %d: %w", e.Sequence, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing batch: %w", err)
	}
	return nil
}
