package handlers

import (
	"context"
	"net/http"

	"github.com/abrezinsky/eventxp/internal/actions"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/metrics"
	"github.com/abrezinsky/eventxp/internal/services"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Streamer upgrades a request to a live notification stream
type Streamer interface {
	ServeWs(w http.ResponseWriter, r *http.Request)
}

// Deps lists everything the HTTP layer talks to
type Deps struct {
	Lifecycle services.LifecycleServicer
	Teams     services.TeamServicer
	Voting    services.VotingServicer
	Results   services.ResultsServicer
	Rewards   services.RewardServicer
	Replayer  *actions.Replayer
	Hub       Streamer
	Store     Pinger
	Metrics   *metrics.Manager
	Log       logger.Logger

	// PublicBaseURL prefixes event links encoded into QR codes
	PublicBaseURL string

	// AllowedOrigins configures CORS. Empty allows every origin.
	AllowedOrigins []string
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	Lifecycle services.LifecycleServicer
	Teams     services.TeamServicer
	Voting    services.VotingServicer
	Results   services.ResultsServicer
	Rewards   services.RewardServicer
	Replayer  *actions.Replayer
	Hub       Streamer
	Store     Pinger
	Metrics   *metrics.Manager
	Log       logger.Logger

	publicBaseURL  string
	allowedOrigins []string
}

// New creates a new Handlers instance with all dependencies
func New(d Deps) *Handlers {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Handlers{
		Lifecycle:      d.Lifecycle,
		Teams:          d.Teams,
		Voting:         d.Voting,
		Results:        d.Results,
		Rewards:        d.Rewards,
		Replayer:       d.Replayer,
		Hub:            d.Hub,
		Store:          d.Store,
		Metrics:        d.Metrics,
		Log:            log,
		publicBaseURL:  d.PublicBaseURL,
		allowedOrigins: d.AllowedOrigins,
	}
}
