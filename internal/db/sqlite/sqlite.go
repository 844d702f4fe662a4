package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jusunglee/jishobot/internal/db"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository implements db.Repository using SQLite
type Repository struct {
	db *sql.DB
	q  querier
}

// New opens (creating if needed) a SQLite database and applies the schema.
func New(ctx context.Context, dbPath string) (*Repository, error) {
	dbPath = strings.TrimPrefix(dbPath, "sqlite://")

	sqliteDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		sqliteDB.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := sqliteDB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := sqliteDB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := sqliteDB.ExecContext(ctx, schemaSQL); err != nil {
		sqliteDB.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	slog.Debug("opened SQLite database", "path", dbPath)

	return &Repository{db: sqliteDB, q: sqliteDB}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(repo db.Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Repository{db: r.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Dictionary methods

func (r *Repository) FindEntries(ctx context.Context, form string, limit int32) ([]db.Entry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT e.id, e.sequence, e.kanji_forms, e.kana_forms, e.senses
		FROM entry_forms f
		JOIN entries e ON e.id = f.entry_id
		WHERE f.form = ?
		ORDER BY f.position, e.sequence
		LIMIT ?
	`, form, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []db.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) InsertEntry(ctx context.Context, arg db.InsertEntryParams) (db.Entry, error) {
	kanji, err := json.Marshal(nonNil(arg.KanjiForms))
	if err != nil {
		return db.Entry{}, fmt.Errorf("encoding kanji forms: %w", err)
	}
	kana, err := json.Marshal(nonNil(arg.KanaForms))
	if err != nil {
		return db.Entry{}, fmt.Errorf("encoding kana forms: %w", err)
	}
	senses, err := json.Marshal(nonNil(arg.Senses))
	if err != nil {
		return db.Entry{}, fmt.Errorf("encoding senses: %w", err)
	}

	var id int64
	err = r.q.QueryRowContext(ctx, `
		INSERT INTO entries (sequence, kanji_forms, kana_forms, senses)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sequence) DO UPDATE SET
			kanji_forms = excluded.kanji_forms,
			kana_forms = excluded.kana_forms,
			senses = excluded.senses
		RETURNING id
	`, arg.Sequence, string(kanji), string(kana), string(senses)).Scan(&id)
	if err != nil {
		return db.Entry{}, err
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM entry_forms WHERE entry_id = ?`, id); err != nil {
		return db.Entry{}, err
	}
	for i, form := range arg.Forms() {
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO entry_forms (entry_id, form, position) VALUES (?, ?, ?)
			ON CONFLICT (entry_id, form) DO NOTHING
		`, id, form, i); err != nil {
			return db.Entry{}, err
		}
	}

	return db.Entry{
		ID:         id,
		Sequence:   arg.Sequence,
		KanjiForms: arg.KanjiForms,
		KanaForms:  arg.KanaForms,
		Senses:     arg.Senses,
	}, nil
}

func (r *Repository) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count)
	return count, err
}

// Chat methods

func (r *Repository) UpsertChat(ctx context.Context, arg db.UpsertChatParams) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO chats (chat_id, kind, title, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id) DO NOTHING
	`, arg.ChatID, arg.Kind, arg.Title, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted > 0 {
		return true, nil
	}

	_, err = r.q.ExecContext(ctx, `
		UPDATE chats SET kind = ?, title = ? WHERE chat_id = ?
	`, arg.Kind, arg.Title, arg.ChatID)
	return false, err
}

func (r *Repository) DeleteChat(ctx context.Context, chatID string) (int64, error) {
	result, err := r.q.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *Repository) GetChat(ctx context.Context, chatID string) (db.Chat, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT chat_id, kind, title, joined_at FROM chats WHERE chat_id = ?
	`, chatID)

	var c db.Chat
	var joinedAtStr string
	err := row.Scan(&c.ChatID, &c.Kind, &c.Title, &joinedAtStr)
	if err == sql.ErrNoRows {
		return db.Chat{}, db.ErrNoRows
	}
	if err != nil {
		return db.Chat{}, err
	}
	c.JoinedAt, _ = time.Parse(time.RFC3339, joinedAtStr)
	return c, nil
}

func (r *Repository) ListChats(ctx context.Context, kind string) ([]db.Chat, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT chat_id, kind, title, joined_at FROM chats
		WHERE ? = '' OR kind = ?
		ORDER BY joined_at, chat_id
	`, kind, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []db.Chat
	for rows.Next() {
		var c db.Chat
		var joinedAtStr string
		if err := rows.Scan(&c.ChatID, &c.Kind, &c.Title, &joinedAtStr); err != nil {
			return nil, err
		}
		c.JoinedAt, _ = time.Parse(time.RFC3339, joinedAtStr)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func scanEntry(rows *sql.Rows) (db.Entry, error) {
	var e db.Entry
	var kanji, kana, senses string
	if err := rows.Scan(&e.ID, &e.Sequence, &kanji, &kana, &senses); err != nil {
		return db.Entry{}, err
	}
	if err := json.Unmarshal([]byte(kanji), &e.KanjiForms); err != nil {
		return db.Entry{}, fmt.Errorf("decoding kanji forms of entry %d: %w", e.Sequence, err)
	}
	if err := json.Unmarshal([]byte(kana), &e.KanaForms); err != nil {
		return db.Entry{}, fmt.Errorf("decoding kana forms of entry %d: %w", e.Sequence, err)
	}
	if err := json.Unmarshal([]byte(senses), &e.Senses); err != nil {
		return db.Entry{}, fmt.Errorf("decoding senses of entry %d: %w", e.Sequence, err)
	}
	return e, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
