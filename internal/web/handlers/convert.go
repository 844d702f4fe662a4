package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jusunglee/jishobot/internal/kana"
	"github.com/jusunglee/jishobot/internal/metrics"
	"github.com/samber/lo"
)

// maxQueryLength bounds the q parameter, in runes.
const maxQueryLength = 256

// ChunkConverter is the part of *kana.Converter the handler uses.
type ChunkConverter interface {
	ConvertChunks(input string) (string, []kana.Chunk, error)
}

type ConvertHandler struct {
	conv ChunkConverter
	log  *slog.Logger
}

func NewConvertHandler(conv ChunkConverter, log *slog.Logger) *ConvertHandler {
	return &ConvertHandler{conv: conv, log: log}
}

type chunkResponse struct {
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Input    string  `json:"input"`
	Output   *string `json:"output"`
	Resolved bool    `json:"resolved"`
}

type convertResponse struct {
	Input  string          `json:"input"`
	Output string          `json:"output"`
	OK     bool            `json:"ok"`
	Chunks []chunkResponse `json:"chunks,omitempty"`
}

func toChunkResponse(c kana.Chunk, _ int) chunkResponse {
	resp := chunkResponse{Start: c.Start, End: c.End, Input: c.Input, Resolved: c.Resolved()}
	if c.Resolved() {
		resp.Output = &c.Output.Text
	}
	return resp
}

// Convert handles GET /api/v1/convert?q=<romaji>[&chunks=1]. OK reports
// whether every chunk resolved; under the literal policy the output may still
// contain romaji when it is false.
func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	if len([]rune(q)) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "q must be "+strconv.Itoa(maxQueryLength)+" characters or fewer")
		return
	}
	withChunks, _ := strconv.ParseBool(r.URL.Query().Get("chunks"))

	out, chunks, err := h.conv.ConvertChunks(q)
	if err != nil {
		h.writeConvertError(w, r, q, err)
		return
	}

	ok := kana.AllResolved(chunks)
	if ok {
		metrics.ConversionsTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.ConversionsTotal.WithLabelValues("unresolved").Inc()
	}

	resp := convertResponse{Input: q, Output: out, OK: ok}
	if withChunks {
		resp.Chunks = lo.Map(chunks, toChunkResponse)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ConvertHandler) writeConvertError(w http.ResponseWriter, r *http.Request, q string, err error) {
	var unsupported *kana.UnsupportedCharacterError
	var unresolved *kana.UnresolvedChunkError
	switch {
	case errors.As(err, &unsupported):
		metrics.ConversionsTotal.WithLabelValues("unsupported").Inc()
		offset := unsupported.Offset
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "unsupported character",
			Char:   string(unsupported.Char),
			Offset: &offset,
		})
	case errors.As(err, &unresolved):
		metrics.ConversionsTotal.WithLabelValues("unresolved").Inc()
		offset := unresolved.Chunk.Start
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "unresolved chunk",
			Chunk:  unresolved.Chunk.Input,
			Offset: &offset,
		})
	default:
		h.log.ErrorContext(r.Context(), "converting", "query", q, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
