package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Pinger reports whether the dictionary store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	pinger     Pinger
	treeNodes  int
}

func New(port int, pinger Pinger, treeNodes int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		pinger:    pinger,
		treeNodes: treeNodes,
	}
	mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

type status struct {
	Status    string `json:"status"`
	TreeNodes int    `json:"tree_nodes,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.pinger.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(status{Status: "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(status{Status: "ok", TreeNodes: s.treeNodes})
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
