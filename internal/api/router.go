package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcoot/roundsync/internal/api/handler"
	"github.com/mcoot/roundsync/internal/api/middleware"
	"github.com/mcoot/roundsync/internal/api/response"
	rootmiddleware "github.com/mcoot/roundsync/internal/middleware"
	"github.com/mcoot/roundsync/internal/realtime"
	"github.com/mcoot/roundsync/internal/services/round"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger   *slog.Logger
	Rounds   *round.Service
	Sessions handler.Authorizer
	Registry *realtime.Registry
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	roundHandler := handler.NewRoundHandler(cfg.Rounds)
	subscribeHandler := handler.NewSubscribeHandler(cfg.Sessions, cfg.Registry, cfg.Logger)

	// Create middleware
	loggingMiddleware := rootmiddleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware. Recovery runs inside logging so
	// a recovered panic is logged with its 500 status and sees the wrapped
	// writer.
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(loggingMiddleware)
	api.Use(recoveryMiddleware)

	// Creating and joining need no session
	api.HandleFunc("/rounds", roundHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/rounds/join", roundHandler.Join).Methods(http.MethodPost)

	// Subscribers may carry their session as a subprotocol token
	api.HandleFunc("/rounds/{roundId}/subscribe", subscribeHandler.Subscribe).Methods(http.MethodGet)

	// Everything else is scoped to a round and needs its session
	rounds := api.PathPrefix("/rounds/{roundId}").Subrouter()
	rounds.Use(middleware.RequireSession)
	rounds.HandleFunc("", roundHandler.Get).Methods(http.MethodGet)
	rounds.HandleFunc("/scores", roundHandler.UpdateScore).Methods(http.MethodPut)
	rounds.HandleFunc("/state", roundHandler.PatchState).Methods(http.MethodPatch)
	rounds.HandleFunc("/players/{playerId}", roundHandler.UpdatePlayer).Methods(http.MethodPatch)

	// Operational endpoints (no auth)
	r.HandleFunc("/health", healthHandler(cfg.Registry)).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

func healthHandler(registry *realtime.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, response.Health{
			Status:      "ok",
			Subscribers: registry.Count(),
		})
	}
}
