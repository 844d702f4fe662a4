package db

import (
	"context"
	"time"
)

// Gloss is one translation of a sense in a given language (ISO 639-2, "eng").
type Gloss struct {
	Lang string `json:"lang"`
	Text string `json:"text"`
}

// Sense is one meaning of an entry.
type Sense struct {
	PartsOfSpeech []string `json:"pos,omitempty"`
	Glosses       []Gloss  `json:"glosses"`
}

// Entry is a dictionary entry as imported from JMdict.
type Entry struct {
	ID         int64
	Sequence   int64
	KanjiForms []string
	KanaForms  []string
	Senses     []Sense
}

type InsertEntryParams struct {
	Sequence   int64
	KanjiForms []string
	KanaForms  []string
	Senses     []Sense
}

// Forms returns every written form of the entry, kanji first.
func (p InsertEntryParams) Forms() []string {
	forms := make([]string, 0, len(p.KanjiForms)+len(p.KanaForms))
	forms = append(forms, p.KanjiForms...)
	return append(forms, p.KanaForms...)
}

const (
	ChatKindPrivate = "private"
	ChatKindGuild   = "guild"
)

// Chat is a conversation the bot is part of: a guild it was added to or a
// user it has talked to directly.
type Chat struct {
	ChatID   string
	Kind     string
	Title    string
	JoinedAt time.Time
}

type UpsertChatParams struct {
	ChatID string
	Kind   string
	Title  string
}

// Repository defines the interface for database operations
type Repository interface {
	// Dictionary
	FindEntries(ctx context.Context, form string, limit int32) ([]Entry, error)
	InsertEntry(ctx context.Context, arg InsertEntryParams) (Entry, error)
	CountEntries(ctx context.Context) (int64, error)

	// Chats. UpsertChat reports whether the chat was new.
	UpsertChat(ctx context.Context, arg UpsertChatParams) (bool, error)
	DeleteChat(ctx context.Context, chatID string) (int64, error)
	GetChat(ctx context.Context, chatID string) (Chat, error)
	ListChats(ctx context.Context, kind string) ([]Chat, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
