// Package server exposes the engine's HTTP surface: the manual trigger
// endpoint used by operators to re-run automation for a study, and a
// health probe.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/autorthanc/autorthanc/pkg/rules"
)

// Engine is the part of the automation engine the HTTP surface needs.
type Engine interface {
	MatchStudy(ctx context.Context, id string) ([]rules.Rule, error)
	RunStudy(ctx context.Context, id string, force bool) error
}

// Server serves the manual-trigger and health endpoints.
type Server struct {
	engine Engine
	addr   string
	logger zerolog.Logger
}

// New creates an HTTP server for the engine.
func New(addr string, engine Engine, logger zerolog.Logger) *Server {
	return &Server{engine: engine, addr: addr, logger: logger}
}

// Router returns the configured HTTP routes. Non-GET requests to the
// trigger endpoint receive 405 from the router's method matcher.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/automation/{id}", s.handleTrigger).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

// ListenAndServe serves until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleTrigger reports which rules match the study and then re-runs
// the automation for it with force enabled. The summary is written
// before the run starts, so the caller sees it even if the forced run
// fails afterwards.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger := s.logger.With().Str("study", id).Logger()

	matched, err := s.engine.MatchStudy(r.Context(), id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to evaluate rules for manual trigger")
		http.Error(w, fmt.Sprintf("Failed to evaluate rules for %s: %v", id, err),
			http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(matched) == 0 {
		fmt.Fprintf(w, "No rules matched study %s - nothing to do.\n", id)
		return
	}

	fmt.Fprintf(w, "Matched %d rule(s) for study %s:\n", len(matched), id)
	for _, rule := range matched {
		fmt.Fprintf(w, "  - %s (%s)\n", rule.ID, rule.Action)
	}
	fmt.Fprintf(w, "Pipeline initiated - you may close this page.\n")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if err := s.engine.RunStudy(r.Context(), id, true); err != nil {
		// The summary has already been sent; the failure lands in the
		// log and the journal.
		logger.Error().Err(err).Msg("Forced run after manual trigger failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
