package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jusunglee/jishobot/internal/dictionary"
)

// Resolver is implemented by *dictionary.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, query string, raw bool) (dictionary.Answer, error)
}

type LookupHandler struct {
	resolver Resolver
	log      *slog.Logger
}

func NewLookupHandler(resolver Resolver, log *slog.Logger) *LookupHandler {
	return &LookupHandler{resolver: resolver, log: log}
}

// Lookup handles GET /api/v1/lookup?q=<query>[&raw=1]. The query is resolved
// the same way as a chat message: romaji becomes kana unless raw is set.
func (h *LookupHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if len([]rune(q)) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "q must be "+strconv.Itoa(maxQueryLength)+" characters or fewer")
		return
	}
	raw := false
	if v := r.URL.Query().Get("raw"); v != "" {
		var err error
		if raw, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "raw must be a boolean")
			return
		}
	}

	answer, err := h.resolver.Resolve(r.Context(), q, raw)
	if errors.Is(err, dictionary.ErrEmptyQuery) {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	if err != nil {
		h.log.ErrorContext(r.Context(), "looking up", "query", q, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
