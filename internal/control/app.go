// Package control assembles the service: storage, node sources, chain
// adapters, the analysis pipeline, the engine facade and the HTTP surface.
// It owns startup order and graceful shutdown.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/quarklabs/chainrisk/internal/cache"
	"github.com/quarklabs/chainrisk/internal/chain"
	"github.com/quarklabs/chainrisk/internal/chain/bitcoin"
	"github.com/quarklabs/chainrisk/internal/chain/ethereum"
	"github.com/quarklabs/chainrisk/internal/core/config"
	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/engine"
	"github.com/quarklabs/chainrisk/internal/health"
	redisclient "github.com/quarklabs/chainrisk/internal/infra/redis"
	"github.com/quarklabs/chainrisk/internal/infra/storage"
	"github.com/quarklabs/chainrisk/internal/infra/storage/memory"
	"github.com/quarklabs/chainrisk/internal/infra/storage/postgres"
	"github.com/quarklabs/chainrisk/internal/ingest"
	"github.com/quarklabs/chainrisk/internal/intel"
	"github.com/quarklabs/chainrisk/internal/reputation"
	"github.com/quarklabs/chainrisk/internal/scoring"
	"github.com/quarklabs/chainrisk/internal/source"
	"github.com/quarklabs/chainrisk/internal/trace"
)

// App is the assembled service.
type App struct {
	cfg          *config.AppConfig
	engine       *engine.Engine
	ingestor     *ingest.Ingestor
	healthServer *health.Server
	store        *memory.MemoryStorage
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {

	// 1. Storage: Postgres when configured, in-memory otherwise.
	var (
		repRepo      storage.ReputationRepository
		scoreRepo    storage.RiskScoreRepository
		traceRepo    storage.TraceRepository
		activityRepo storage.ActivityRepository
		store        *memory.MemoryStorage
		db           *postgres.DB
	)
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := postgres.Migrate(db, cfg.Database.MigrationsDir); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		repRepo = postgres.NewReputationRepo(db)
		scoreRepo = postgres.NewRiskRepo(db)
		traceRepo = postgres.NewTraceRepo(db)
		activityRepo = postgres.NewActivityRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewMemoryStorage()
		repRepo = memory.NewReputationRepo(store)
		scoreRepo = memory.NewRiskRepo(store)
		traceRepo = memory.NewTraceRepo(store)
		activityRepo = memory.NewActivityRepo(store)
		slog.Info("Using memory storage")
	}

	// 2. Redis: sanctions mirror + distributed ingest locks. Without it a
	// static sanctions source and an in-process locker serve development.
	var (
		redisClient *redisclient.Client
		sanctions   source.SanctionsSource
		locker      ingest.Locker
	)
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		sanctions = redisclient.NewSanctions(redisClient)
		locker = redisClient
		slog.Info("Using Redis sanctions mirror")
	} else {
		sanctions = source.NewStaticSanctions()
		locker = ingest.NewMemoryLocker()
		slog.Info("Using static sanctions source")
	}

	// 3. Chain adapters and node sources.
	registry := chain.NewRegistry()
	sources := make(map[domain.ChainID]source.NodeSource, len(cfg.Chains))
	for _, chainCfg := range cfg.Chains {
		switch chainCfg.ChainID {
		case domain.ChainIDBitcoin:
			registry.Register(bitcoin.New())
		case domain.ChainIDEthereum:
			registry.Register(ethereum.New())
		default:
			return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedChain, chainCfg.ChainID)
		}

		nodeSources := make([]source.NodeSource, 0, len(chainCfg.Providers))
		for _, p := range chainCfg.Providers {
			if p.Transport == "grpc" {
				src, err := source.NewGRPCNodeSource(ctx, chainCfg.ChainID, p.Name, p.URL, source.DefaultPolicy)
				if err != nil {
					return nil, fmt.Errorf("failed to create grpc source %s: %w", p.Name, err)
				}
				nodeSources = append(nodeSources, src)
				continue
			}
			nodeSources = append(nodeSources,
				source.NewHTTPNodeSource(chainCfg.ChainID, p.Name, p.URL, p.RateLimit, source.DefaultPolicy))
		}
		if len(nodeSources) == 1 {
			sources[chainCfg.ChainID] = nodeSources[0]
		} else {
			sources[chainCfg.ChainID] = source.NewFailover(chainCfg.ChainID, nodeSources...)
		}
		slog.Info("Chain configured",
			"chain_id", chainCfg.ChainID, "providers", len(chainCfg.Providers))
	}

	// 4. Cache and intelligence pipeline.
	c := cache.New(cfg.Cache.RiskTTL, cfg.Cache.CleanupInterval)
	state := newChainState(sources, registry, activityRepo, c, cfg.Cache.StageTTL)
	patterns, err := intel.NewPatternDetector(cfg.Patterns, activityRepo)
	if err != nil {
		return nil, err
	}
	pipeline := intel.NewPipeline(c,
		intel.NewDecoder(), intel.NewMEVDetector(state), patterns, cfg.Cache.StageTTL)
	simulator := intel.NewSimulator(state, simulationPolicy(cfg.Simulation))

	// 5. Reputation, scoring, correlation.
	repStore := reputation.NewStore(repRepo, cfg.Reputation)
	scorer := scoring.NewEngine(cfg.Scoring)
	correlator := trace.NewCorrelator(traceRepo, cfg.Trace)

	// 6. Demand-driven history ingestor.
	ingestor := ingest.NewIngestor(cfg.Ingest, sources, registry, activityRepo, repStore, locker)

	// 7. Engine facade.
	eng, err := engine.New(engine.Deps{
		Config:     cfg,
		Registry:   registry,
		Sources:    sources,
		Sanctions:  sanctions,
		Cache:      c,
		Pipeline:   pipeline,
		Simulator:  simulator,
		Reputation: repStore,
		Scorer:     scorer,
		Correlator: correlator,
		Scores:     scoreRepo,
		Activity:   activityRepo,
		Ingestor:   ingestor,
	})
	if err != nil {
		return nil, err
	}

	// 8. Health monitor and the shared HTTP surface. A nil *postgres.DB
	// must stay a nil Checker, so the conversion is guarded.
	var dbChecker, sanctionsChecker health.Checker
	if db != nil {
		dbChecker = db
	}
	if redisClient != nil {
		sanctionsChecker = redisClient
	}
	healthServer := health.NewServer(health.NewMonitor(dbChecker, sanctionsChecker, sources), cfg.Server.Port)
	engine.NewAPI(eng).Register(healthServer)

	return &App{
		cfg:          cfg,
		engine:       eng,
		ingestor:     ingestor,
		healthServer: healthServer,
		store:        store,
		db:           db,
		redisClient:  redisClient,
		log:          slog.Default(),
	}, nil
}

// Engine exposes the facade for embedders and tests.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Start launches the HTTP server, the ingest workers and the DB metrics
// collector. It returns immediately; the components run until ctx ends.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("API server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go func() {
		if err := a.ingestor.Run(ctx); err != nil {
			a.log.Error("Ingestor stopped", "error", err)
		}
	}()

	a.log.Info("chainrisk started",
		"port", a.cfg.Server.Port,
		"chains", len(a.cfg.Chains))
	return nil
}

// Stop drains the HTTP server, then closes the backend clients.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping chainrisk...")

	err := a.healthServer.Stop(ctx)

	if a.redisClient != nil {
		if closeErr := a.redisClient.Close(); closeErr != nil {
			a.log.Warn("Failed to close Redis", "error", closeErr)
		}
	}
	if a.db != nil {
		if closeErr := a.db.Close(); closeErr != nil {
			a.log.Warn("Failed to close database", "error", closeErr)
		}
	}
	return err
}

// simulationPolicy maps the simulation retry config onto a source policy,
// keeping defaults for anything unset.
func simulationPolicy(cfg config.SimulationConfig) source.Policy {
	p := source.DefaultPolicy
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}
