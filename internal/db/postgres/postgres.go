package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jusunglee/jishobot/internal/db"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Repository implements db.Repository using PostgreSQL via pgx
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// New connects to PostgreSQL and applies the schema.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := db.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Repository{pool: pool, q: pool}, nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// PoolStats exposes the pool statistics for metrics export.
func (r *Repository) PoolStats() *pgxpool.Stat {
	return r.pool.Stat()
}

func (r *Repository) WithTx(ctx context.Context, fn func(repo db.Repository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	// If fn() panics, the normal err-check rollback below won't run.
	// recover() catches the panic so we can roll back the tx (releasing the db connection), then re-panic.
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&Repository{pool: r.pool, q: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Dictionary methods

func (r *Repository) FindEntries(ctx context.Context, form string, limit int32) ([]db.Entry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT e.id, e.sequence, e.kanji_forms, e.kana_forms, e.senses
		FROM entry_forms f
		JOIN entries e ON e.id = f.entry_id
		WHERE f.form = $1
		ORDER BY f.position, e.sequence
		LIMIT $2
	`, form, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.Entry, error) {
		var e db.Entry
		err := row.Scan(&e.ID, &e.Sequence, &e.KanjiForms, &e.KanaForms, &e.Senses)
		return e, err
	})
}

func (r *Repository) InsertEntry(ctx context.Context, arg db.InsertEntryParams) (db.Entry, error) {
	var id int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO entries (sequence, kanji_forms, kana_forms, senses)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sequence) DO UPDATE SET
			kanji_forms = EXCLUDED.kanji_forms,
			kana_forms = EXCLUDED.kana_forms,
			senses = EXCLUDED.senses
		RETURNING id
	`, arg.Sequence, nonNil(arg.KanjiForms), nonNil(arg.KanaForms), nonNil(arg.Senses)).Scan(&id)
	if err != nil {
		return db.Entry{}, err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM entry_forms WHERE entry_id = $1`, id)
	for i, form := range arg.Forms() {
		batch.Queue(`
			INSERT INTO entry_forms (entry_id, form, position) VALUES ($1, $2, $3)
			ON CONFLICT (entry_id, form) DO NOTHING
		`, id, form, i)
	}
	if err := r.sendBatch(ctx, batch); err != nil {
		return db.Entry{}, fmt.Errorf("writing forms of entry %d: %w", arg.Sequence, err)
	}

	return db.Entry{
		ID:         id,
		Sequence:   arg.Sequence,
		KanjiForms: arg.KanjiForms,
		KanaForms:  arg.KanaForms,
		Senses:     arg.Senses,
	}, nil
}

func (r *Repository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	results := r.q.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	return results.Close()
}

func (r *Repository) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

// Chat methods

func (r *Repository) UpsertChat(ctx context.Context, arg db.UpsertChatParams) (bool, error) {
	// xmax = 0 only for freshly inserted rows.
	var inserted bool
	err := r.q.QueryRow(ctx, `
		INSERT INTO chats (chat_id, kind, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET kind = EXCLUDED.kind, title = EXCLUDED.title
		RETURNING (xmax = 0)
	`, arg.ChatID, arg.Kind, arg.Title).Scan(&inserted)
	return inserted, err
}

func (r *Repository) DeleteChat(ctx context.Context, chatID string) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM chats WHERE chat_id = $1`, chatID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) GetChat(ctx context.Context, chatID string) (db.Chat, error) {
	var c db.Chat
	err := r.q.QueryRow(ctx, `
		SELECT chat_id, kind, title, joined_at FROM chats WHERE chat_id = $1
	`, chatID).Scan(&c.ChatID, &c.Kind, &c.Title, &c.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return db.Chat{}, db.ErrNoRows
	}
	return c, err
}

func (r *Repository) ListChats(ctx context.Context, kind string) ([]db.Chat, error) {
	rows, err := r.q.Query(ctx, `
		SELECT chat_id, kind, title, joined_at FROM chats
		WHERE $1 = '' OR kind = $1
		ORDER BY joined_at, chat_id
	`, kind)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (db.Chat, error) {
		var c db.Chat
		err := row.Scan(&c.ChatID, &c.Kind, &c.Title, &c.JoinedAt)
		return c, err
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
