// Package server exposes the operational HTTP surface: health, metrics and
// read-only views of the statistics and strategy states.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"betbot/internal/metrics"
	"betbot/internal/store"
)

// SessionStatus reports whether the exchange session is established.
type SessionStatus interface {
	LoggedIn() bool
}

type handler struct {
	store   store.Store
	session SessionStatus
}

// New builds the router.
func New(st store.Store, session SessionStatus) http.Handler {
	h := &handler{store: st, session: session}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", h.health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/statistics", h.statistics)
	r.Get("/statistics/{ref}", h.statistic)
	r.Get("/strategies", h.strategies)
	return r
}

// Run serves handler on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	loggedIn := h.session != nil && h.session.LoggedIn()
	status := http.StatusOK
	if !loggedIn {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"status": "ok", "logged_in": loggedIn})
}

type statisticResponse struct {
	Strategy  string    `json:"strategy"`
	Daily     float64   `json:"daily"`
	Weekly    float64   `json:"weekly"`
	Monthly   float64   `json:"monthly"`
	Yearly    float64   `json:"yearly"`
	Lifetime  float64   `json:"lifetime"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.ListStatistics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]statisticResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, statisticResponse{s.Ref, s.Daily, s.Weekly, s.Monthly, s.Yearly, s.Lifetime, s.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) statistic(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetStatistic(r.Context(), chi.URLParam(r, "ref"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "statistic not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statisticResponse{s.Ref, s.Daily, s.Weekly, s.Monthly, s.Yearly, s.Lifetime, s.UpdatedAt})
}

type strategyResponse struct {
	Strategy  string `json:"strategy"`
	Name      string `json:"name"`
	StakePos  int    `json:"stake_pos"`
	WeightPos int    `json:"weight_pos"`
	GroupPos  int    `json:"group_pos"`
	StopLoss  bool   `json:"stop_loss"`
	Halted    bool   `json:"halted"`
	Active    bool   `json:"active"`
	Live      bool   `json:"live"`
	Version   int    `json:"version"`
}

func (h *handler) strategies(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.ListStrategyStates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]strategyResponse, 0, len(states))
	for _, s := range states {
		out = append(out, strategyResponse{
			Strategy: s.Ref, Name: s.Name, StakePos: s.StakePos, WeightPos: s.WeightPos, GroupPos: s.GroupPos,
			StopLoss: s.StopLoss, Halted: s.Halted, Active: s.Active, Live: s.Live, Version: s.Version,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
