package dictionary

import (
	"context"
	"errors"
	"strings"

	"github.com/jusunglee/jishobot/internal/kana"
	"github.com/jusunglee/jishobot/internal/metrics"
)

// Converter turns romaji into kana. *kana.Converter implements it.
type Converter interface {
	ConvertChunks(input string) (string, []kana.Chunk, error)
}

// Answer is a lookup together with how the query was interpreted.
type Answer struct {
	Query       string `json:"query"`
	LookupQuery string `json:"lookup_query"`
	Converted   bool   `json:"converted"`
	Text        string `json:"text"`
	Found       bool   `json:"found"`
}

// Resolver decides what to look up for a user query: the query as typed, or
// its kana reading when it is romaji.
type Resolver struct {
	conv Converter
	dict Lookuper
}

func NewResolver(conv Converter, dict Lookuper) *Resolver {
	return &Resolver{conv: conv, dict: dict}
}

// Resolve looks up query. Unless raw is set, the query is first converted to
// kana; when conversion fails or leaves any chunk unresolved, the original
// text is looked up instead.
func (r *Resolver) Resolve(ctx context.Context, query string, raw bool) (Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Answer{}, ErrEmptyQuery
	}

	lookupQuery := query
	converted := false
	if !raw {
		if out, ok := r.convert(query); ok {
			lookupQuery, converted = out, true
		}
	}

	res, err := r.dict.Lookup(ctx, lookupQuery)
	if err != nil {
		return Answer{}, err
	}
	return Answer{
		Query:       query,
		LookupQuery: lookupQuery,
		Converted:   converted,
		Text:        res.Text,
		Found:       res.Found,
	}, nil
}

func (r *Resolver) convert(query string) (string, bool) {
	out, chunks, err := r.conv.ConvertChunks(query)
	switch {
	case errors.Is(err, kana.ErrUnsupportedCharacter):
		metrics.ConversionsTotal.WithLabelValues("unsupported").Inc()
	case errors.Is(err, kana.ErrUnresolvedChunk), err == nil && !kana.AllResolved(chunks):
		metrics.ConversionsTotal.WithLabelValues("unresolved").Inc()
	case err == nil && out != "":
		metrics.ConversionsTotal.WithLabelValues("ok").Inc()
		return out, true
	default:
		metrics.ConversionsTotal.WithLabelValues("empty").Inc()
	}
	return "", false
}
