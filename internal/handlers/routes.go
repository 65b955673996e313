package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/abrezinsky/eventxp/internal/auth"
)

// conditionalHTTPLogger only logs HTTP requests when HTTP logging is enabled
func (h *Handlers) conditionalHTTPLogger(next http.Handler) http.Handler {
	logger := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Log.IsHTTPLoggingEnabled() {
			logger.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(w, r)
		}
	})
}

// instrument records request counts and latency by route pattern
func (h *Handlers) instrument(next http.Handler) http.Handler {
	if h.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.ObserveHTTP(route, r.Method, status, time.Since(started))
	})
}

func (h *Handlers) corsOptions() cors.Options {
	origins := h.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", auth.HeaderUserID, auth.HeaderAdmin},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}
}

// Router returns a configured chi router with all routes
func (h *Handlers) Router() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.conditionalHTTPLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Use(cors.Handler(h.corsOptions()))
	r.Use(middleware.RedirectSlashes)

	// Probes and streams sit outside the request timeout
	r.Get("/healthz", h.handleHealth)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler())
	}
	if h.Hub != nil {
		r.Get("/ws", h.Hub.ServeWs)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(auth.Identity)

		// Public reads
		r.Get("/events", h.handleListEvents)
		r.Get("/events/{id}", h.handleGetEvent)
		r.Get("/events/{id}/qr", h.handleEventQR)
		r.Get("/users/{id}/ledger", h.handleGetLedger)
		r.Get("/leaderboard", h.handleLeaderboard)

		// Acting on behalf of a user
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)

			// Lifecycle
			r.Post("/events", h.handleCreateEvent)
			r.Put("/events/{id}", h.handleUpdateEvent)
			r.Delete("/events/{id}", h.handleDeleteEvent)
			r.Post("/events/{id}/status", h.handleTransitionStatus)
			r.Post("/events/{id}/close", h.handleCloseEvent)

			// Teams
			r.Post("/events/{id}/teams", h.handleAddTeam)
			r.Put("/events/{id}/teams", h.handleReplaceTeams)
			r.Post("/events/{id}/teams/join", h.handleJoinTeam)
			r.Post("/events/{id}/teams/leave", h.handleLeaveTeam)
			r.Post("/events/{id}/teams/auto", h.handleAutoGenerateTeams)

			// Participation and voting
			r.Post("/events/{id}/participants", h.handleRegister)
			r.Delete("/events/{id}/participants", h.handleUnregister)
			r.Post("/events/{id}/submission", h.handleRecordSubmission)
			r.Post("/events/{id}/voting", h.handleSetVotingOpen)
			r.Post("/events/{id}/ballots/team", h.handleTeamBallot)
			r.Post("/events/{id}/ballots/individual", h.handleIndividualBallot)
			r.Post("/events/{id}/rating", h.handleRateOrganizer)

			// Winners and rewards
			r.Get("/events/{id}/results", h.handleGetResults)
			r.Put("/events/{id}/winners", h.handleOverrideWinners)
			r.Post("/events/{id}/winners/finalize", h.handleFinalizeWinners)
			r.Post("/events/{id}/award", h.handleAwardXP)

			// Offline queue
			r.Post("/actions/replay", h.handleReplay)
		})
	})

	return r
}
