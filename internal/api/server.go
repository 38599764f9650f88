// Package api serves the read-only status endpoints: venue health, the
// latest decision with its reasoning trail, guard state, and accuracy
// metrics. All responses are snapshots; nothing here can mutate pipeline
// state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradeguard/internal/config"
	"github.com/sawpanic/tradeguard/internal/models"
)

// HealthSource exposes the validator's health snapshots.
type HealthSource interface {
	AllVenueHealth() map[string]models.VenueHealth
	DataHealthScore() models.DataHealthScore
	HasStaleData() bool
}

// DecisionSource exposes the consensus engine's audit history.
type DecisionSource interface {
	Latest() (models.Decision, bool)
	History() []models.Decision
}

// GuardSource exposes the execution guard's state.
type GuardSource interface {
	Snapshot() models.GuardSnapshot
}

// AccuracySource exposes the outcome tracker's metrics.
type AccuracySource interface {
	Metrics() models.AccuracyMetrics
}

// Server is the read-only HTTP status server.
type Server struct {
	cfg       config.ServerConfig
	router    *mux.Router
	server    *http.Server
	health    HealthSource
	decisions DecisionSource
	guard     GuardSource
	accuracy  AccuracySource
}

// NewServer wires the status server. metricsHandler may be nil to skip the
// /metrics mount.
func NewServer(cfg config.ServerConfig, health HealthSource, decisions DecisionSource, guard GuardSource, accuracy AccuracySource, metricsHandler http.Handler) *Server {
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		health:    health,
		decisions: decisions,
		guard:     guard,
		accuracy:  accuracy,
	}

	s.router.Use(requestIDMiddleware)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/venues", s.handleVenues).Methods(http.MethodGet)
	s.router.HandleFunc("/decisions/latest", s.handleLatestDecision).Methods(http.MethodGet)
	s.router.HandleFunc("/decisions", s.handleDecisions).Methods(http.MethodGet)
	s.router.HandleFunc("/guard", s.handleGuard).Methods(http.MethodGet)
	s.router.HandleFunc("/accuracy", s.handleAccuracy).Methods(http.MethodGet)
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router returns the handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("status API listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("status API failed: %w", err)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	score := s.health.DataHealthScore()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"score":      score.Score,
		"status":     score.Status,
		"stale_data": s.health.HasStaleData(),
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) handleVenues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health.AllVenueHealth())
}

func (s *Server) handleLatestDecision(w http.ResponseWriter, _ *http.Request) {
	decision, ok := s.decisions.Latest()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no decisions yet"})
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDecisions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.decisions.History())
}

func (s *Server) handleGuard(w http.ResponseWriter, _ *http.Request) {
	snap := s.guard.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"circuit_open":         snap.CircuitOpen,
		"cooldown_remaining_s": snap.CooldownRemaining.Seconds(),
		"consecutive_failures": snap.ConsecutiveFailures,
		"window_count":         snap.WindowCount,
		"window_capacity":      snap.WindowCapacity,
		"total_attempts":       snap.TotalAttempts,
		"total_allowed":        snap.TotalAllowed,
		"total_rejected":       snap.TotalRejected,
	})
}

func (s *Server) handleAccuracy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.accuracy.Metrics())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
