package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abrezinsky/eventxp/internal/actions"
	"github.com/abrezinsky/eventxp/internal/config"
	"github.com/abrezinsky/eventxp/internal/handlers"
	"github.com/abrezinsky/eventxp/internal/logger"
	"github.com/abrezinsky/eventxp/internal/metrics"
	"github.com/abrezinsky/eventxp/internal/namecache"
	"github.com/abrezinsky/eventxp/internal/repository"
	"github.com/abrezinsky/eventxp/internal/services"
	"github.com/abrezinsky/eventxp/internal/websocket"
	"github.com/abrezinsky/eventxp/pkg/pushgw"
)

const shutdownTimeout = 10 * time.Second

// App holds all application dependencies
type App struct {
	log        logger.Logger
	cfg        *config.Config
	handlers   *handlers.Handlers
	repo       repository.FullRepository
	hub        *websocket.Hub
	dispatcher *services.Dispatcher
	stopHub    context.CancelFunc
	baseURL    string
}

// Option customizes App construction
type Option func(*options)

type options struct {
	repo    repository.FullRepository
	push    pushgw.Client
	network networkProvider
}

// WithRepository uses repo instead of opening the configured store
func WithRepository(repo repository.FullRepository) Option {
	return func(o *options) { o.repo = repo }
}

// WithPushClient replaces the push gateway client built from config
func WithPushClient(c pushgw.Client) Option {
	return func(o *options) { o.push = c }
}

func withNetwork(p networkProvider) Option {
	return func(o *options) { o.network = p }
}

// New creates and initializes a new application instance
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{network: realNetworkProvider{}}
	for _, opt := range opts {
		opt(&o)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	repo := o.repo
	if repo == nil {
		if repo, err = openStore(ctx, cfg.Store); err != nil {
			return nil, err
		}
	}

	m := metrics.NewManager()

	// WebSocket hub lives until Close
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.New(log)
	hub.Start(hubCtx)

	notifier := services.MultiNotifier{hub}
	push := o.push
	if push == nil && cfg.Notify.PushGatewayURL != "" {
		push = pushgw.NewHTTPClient(cfg.Notify.PushGatewayURL, cfg.Notify.Timeout, log)
	}
	if push != nil {
		notifier = append(notifier, services.PushNotifier{Client: push})
		log.Info("Push gateway enabled", "url", push.BaseURL())
	}

	names := namecache.New[string, string](cfg.NameCache.TTL, cfg.NameCache.Size)
	lookup := func(ctx context.Context, id string) (string, error) {
		ev, err := repo.GetEvent(ctx, id)
		if err != nil {
			return "", err
		}
		return ev.Details.EventName, nil
	}
	dispatcher := services.NewDispatcher(log, notifier, names, lookup, cfg.Notify.Timeout)

	svcOpts := []services.Option{
		services.WithDispatcher(dispatcher),
		services.WithRecorder(m),
	}
	limits := services.TeamLimits{Min: cfg.Teams.MinMembers, Max: cfg.Teams.MaxMembers}
	policy := services.RewardPolicy{
		OrganizerXP:          cfg.Rewards.OrganizerXP,
		ParticipationXP:      cfg.Rewards.ParticipationXP,
		SubmissionMultiplier: cfg.Rewards.SubmissionMultiplier,
		WinnerBonusXP:        cfg.Rewards.WinnerBonusXP,
		BestPerformerXP:      cfg.Rewards.BestPerformerXP,
		Concurrency:          cfg.Rewards.Concurrency,
	}

	// Initialize services
	lifecycle := services.NewLifecycleService(log, repo, loc, svcOpts...)
	teams := services.NewTeamService(log, repo, limits, svcOpts...)
	voting := services.NewVotingService(log, repo, svcOpts...)
	results := services.NewResultsService(log, repo)
	rewards := services.NewRewardService(log, repo, policy, svcOpts...)

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Addr, o.network)
		log.Info("Public base URL not configured, using LAN address", "url", baseURL)
	}

	h := handlers.New(handlers.Deps{
		Lifecycle:      lifecycle,
		Teams:          teams,
		Voting:         voting,
		Results:        results,
		Rewards:        rewards,
		Replayer:       actions.NewReplayer(log, actions.Services{Teams: teams, Voting: voting}),
		Hub:            hub,
		Store:          repo,
		Metrics:        m,
		Log:            log,
		PublicBaseURL:  baseURL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	return &App{
		log:        log,
		cfg:        cfg,
		handlers:   h,
		repo:       repo,
		hub:        hub,
		dispatcher: dispatcher,
		stopHub:    stopHub,
		baseURL:    baseURL,
	}, nil
}

// openStore connects the configured document store
func openStore(ctx context.Context, sc config.StoreConfig) (repository.FullRepository, error) {
	retries := repository.WithMaxRetries(sc.MaxRetries)
	switch strings.ToLower(sc.Driver) {
	case "dynamodb":
		repo, err := repository.NewDynamo(ctx, repository.DynamoConfig{
			Region:       sc.AWSRegion,
			Endpoint:     sc.AWSEndpoint,
			EventsTable:  sc.DynamoEventsTable,
			LedgersTable: sc.DynamoLedgersTable,
		}, retries)
		if err != nil {
			return nil, fmt.Errorf("open dynamodb store: %w", err)
		}
		return repo, nil
	default:
		repo, err := repository.New(sc.SQLitePath, retries)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, nil
	}
}

// Router returns the configured HTTP router
func (a *App) Router() chi.Router {
	return a.handlers.Router()
}

// BaseURL is the public URL event links and QR codes point at
func (a *App) BaseURL() string {
	return a.baseURL
}

// Close performs graceful shutdown of app resources
func (a *App) Close() error {
	if a.stopHub != nil {
		a.stopHub()
	}
	return a.repo.Close()
}

// Run serves HTTP on addr until ctx is cancelled, then drains in-flight requests
func (a *App) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("Server starting", "addr", addr, "url", a.baseURL)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
