// Package dictionary looks up JMdict entries and formats them as chat
// replies.
package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jusunglee/jishobot/internal/db"
	"github.com/jusunglee/jishobot/internal/metrics"
	"github.com/samber/lo"
)

var ErrEmptyQuery = errors.New("empty query")

const (
	DefaultLanguage    = "eng"
	DefaultMaxEntries  = 5
	maxGlossesPerSense = 4
)

// Store is the part of db.Repository the lookup needs.
type Store interface {
	FindEntries(ctx context.Context, form string, limit int32) ([]db.Entry, error)
}

// Lookuper answers a dictionary query. Service and CachedService implement it.
type Lookuper interface {
	Lookup(ctx context.Context, query string) (Result, error)
}

// Result is a formatted lookup answer. When nothing matched, Text holds the
// not-found message and Found is false.
type Result struct {
	Query string `json:"query"`
	Text  string `json:"text"`
	Found bool   `json:"found"`
}

type Config struct {
	// Language is the gloss language to show (ISO 639-2).
	Language   string
	MaxEntries int32
}

type Service struct {
	store Store
	log   *slog.Logger
	cfg   Config
}

func NewService(store Store, log *slog.Logger, cfg Config) *Service {
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Service{store: store, log: log, cfg: cfg}
}

func (s *Service) Language() string {
	return s.cfg.Language
}

func (s *Service) Lookup(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrEmptyQuery
	}

	start := time.Now()
	entries, err := s.store.FindEntries(ctx, query, s.cfg.MaxEntries)
	metrics.LookupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LookupsTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("finding entries for %q: %w", query, err)
	}

	formatted := lo.FilterMap(entries, func(e db.Entry, _ int) (string, bool) {
		return FormatEntry(e, s.cfg.Language)
	})
	s.log.DebugContext(ctx, "dictionary lookup", "query", query, "entries", len(entries), "formatted", len(formatted))

	if len(formatted) == 0 {
		metrics.LookupsTotal.WithLabelValues("not_found").Inc()
		return Result{Query: query, Text: NotFoundMessage(query)}, nil
	}
	metrics.LookupsTotal.WithLabelValues("found").Inc()
	return Result{Query: query, Text: strings.Join(formatted, "\n\n"), Found: true}, nil
}

func NotFoundMessage(query string) string {
	return fmt.Sprintf("Nothing found for %q", query)
}

// FormatEntry renders an entry as
//
//	(猫)
//	[ねこ]
//	cat (n)
//
// keeping only senses glossed in lang. ok is false when no sense is.
func FormatEntry(e db.Entry, lang string) (string, bool) {
	if len(e.Senses) == 0 {
		return "", false
	}

	var lines []string
	if len(e.KanjiForms) > 0 {
		lines = append(lines, strings.Join(lo.Map(e.KanjiForms, func(f string, _ int) string {
			return "(" + f + ")"
		}), " "))
	}
	if len(e.KanaForms) > 0 {
		lines = append(lines, strings.Join(lo.Map(e.KanaForms, func(f string, _ int) string {
			return "[" + f + "]"
		}), " "))
	}

	matched := false
	for _, sense := range e.Senses {
		if len(sense.Glosses) == 0 || sense.Glosses[0].Lang != lang {
			continue
		}
		matched = true

		glosses := lo.Map(lo.Slice(sense.Glosses, 0, maxGlossesPerSense), func(g db.Gloss, _ int) string {
			return g.Text
		})
		text := strings.Join(glosses, "\n")
		if len(sense.PartsOfSpeech) > 0 {
			text += " (" + strings.Join(sense.PartsOfSpeech, "|") + ")"
		}
		lines = append(lines, text)
	}
	if !matched {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}
