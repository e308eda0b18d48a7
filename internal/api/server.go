// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the daemon: session state, accounts,
// the job ledger, and transfer control.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/health"
	"github.com/cellar-sync/cellar/internal/ledger"
	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/session"
	"github.com/cellar-sync/cellar/internal/transfer"
)

// Server bundles the services the HTTP layer exposes.
type Server struct {
	sessions  *session.Aggregator
	accounts  *account.Service
	jobs      *ledger.Ledger
	transfers *transfer.Manager
	health    *health.Manager
}

// NewServer wires the HTTP layer over the core services.
func NewServer(sessions *session.Aggregator, accounts *account.Service, jobs *ledger.Ledger, transfers *transfer.Manager, healthMgr *health.Manager) *Server {
	return &Server{
		sessions:  sessions,
		accounts:  accounts,
		jobs:      jobs,
		transfers: transfers,
		health:    healthMgr,
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router(rateLimit int) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	if rateLimit > 0 {
		r.Use(RateLimit(rateLimit))
	}

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleRegisterAccount)
			r.Post("/{accountID}/foreground", s.handleForeground)

			r.Route("/{accountID}/transfers", func(r chi.Router) {
				r.Get("/", s.handleListTransfers)
				r.Post("/download", s.handleDownload)
				r.Post("/upload", s.handleUpload)
				r.Delete("/terminated", s.handleClearTransfers)
				r.Get("/{transferID}", s.handleGetTransfer)
				r.Post("/{transferID}/pause", s.handlePause)
				r.Post("/{transferID}/resume", s.handleResume)
				r.Post("/{transferID}/cancel", s.handleCancel)
				r.Delete("/{transferID}", s.handleRemoveTransfer)
			})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Delete("/terminated", s.handleClearJobs)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", s.handleListLogs)
			r.Delete("/", s.handleClearLogs)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}
