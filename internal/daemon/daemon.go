package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/corefabric/proxy/internal/api"
	"github.com/corefabric/proxy/internal/corelog"
	"github.com/corefabric/proxy/internal/domain"
	"github.com/corefabric/proxy/internal/executor"
	"github.com/corefabric/proxy/internal/infra/connector"
	"github.com/corefabric/proxy/internal/infra/router"
	"github.com/corefabric/proxy/internal/infra/storage"
	"github.com/corefabric/proxy/internal/ingest"
	"github.com/corefabric/proxy/internal/pig"
	"github.com/corefabric/proxy/internal/policy"
	"github.com/corefabric/proxy/internal/predictor"
	"github.com/corefabric/proxy/internal/telemetry"
)

// Daemon wires every subsystem package into one running core process, the
// same role the teacher's internal/daemon.Daemon plays for its own
// services.
type Daemon struct {
	Config Config

	DB         *storage.DB
	Router     *router.Router
	Ingestor   *ingest.Ingestor
	Graph      *pig.Graph
	Telemetry  *telemetry.Collector
	Predictor  *predictor.Predictor
	Policy     *policy.Policy
	Executor   *executor.Executor
	Server     *api.Server
	Orchestrator *connector.OrchestratorSession
	IntentFeed   *connector.Connector
	BehaviorFeed *connector.Connector
	MarketFeed   *connector.Connector

	localNodeID string
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New loads config from the environment/default path and builds a Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Daemon from an explicit config, wiring storage,
// router, and every application package against it.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if cfg.Core.ProxyID == "" {
		cfg.Core.ProxyID = uuid.NewString()
	}

	db, err := storage.Open(cfg.Core.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	r := router.New(router.Config{
		MaxQueueDepth:        cfg.Router.MaxQueueDepth,
		OverflowEmitInterval: parseDuration(cfg.Router.OverflowEmitInterval, time.Second),
		ShutdownDrainTimeout: parseDuration(cfg.Router.ShutdownDrainTimeout, 5*time.Second),
		SubscriberBufferSize: cfg.Router.SubscriberBufferSize,
	})

	ingestor := ingest.New(ingest.DefaultConfig(), db, r)

	graph, err := pig.New(pig.Config{
		LearningRate:   cfg.PIG.LearningRate,
		MaxNodes:       cfg.PIG.MaxNodes,
		PruneFraction:  cfg.PIG.PruneFraction,
		TemporalWindow: cfg.PIG.TemporalWindow,
		HalfLife:       parseDuration(cfg.PIG.HalfLife, time.Hour),
	}, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init intent graph: %w", err)
	}

	localNodeID := "local"
	telem := telemetry.New(telemetry.Config{
		SampleInterval: parseDuration(cfg.Telemetry.SampleInterval, 60*time.Second),
		WindowSize:     cfg.Telemetry.WindowSize,
	}, db, r, localNodeID)

	pred := predictor.New(predictor.Config{
		RetrainInterval:    parseDuration(cfg.Predictor.RetrainInterval, 2*time.Hour),
		MinTrainingSamples: cfg.Predictor.MinTrainingSamples,
		DefaultHorizon:     parseDuration(cfg.Predictor.DefaultHorizon, 30*time.Minute),
	})

	history, err := db.RecentExperiences(5000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("rehydrate rl experience: %w", err)
	}
	pol := policy.New(policy.Config{
		Buckets:        cfg.Policy.Buckets,
		InitialEpsilon: cfg.Policy.InitialEpsilon,
		MinEpsilon:     cfg.Policy.MinEpsilon,
		EpsilonDecay:   cfg.Policy.EpsilonDecay,
		LearningRate:   cfg.Policy.LearningRate,
		DiscountFactor: cfg.Policy.DiscountFactor,
		ReplayCapacity: cfg.Policy.ReplayCapacity,
		ReplayBatch:    cfg.Policy.ReplayBatch,
	}, time.Now().UnixNano(), history)

	exec := executor.New(executor.Config{
		ExecutionBudget:  parseDuration(cfg.Executor.ExecutionBudget, 60*time.Second),
		CooldownDuration: parseDuration(cfg.Executor.CooldownDuration, 30*time.Second),
	}, db, r)

	d := &Daemon{
		Config:      cfg,
		DB:          db,
		Router:      r,
		Ingestor:    ingestor,
		Graph:       graph,
		Telemetry:   telem,
		Predictor:   pred,
		Policy:      pol,
		Executor:    exec,
		localNodeID: localNodeID,
	}

	d.Server = api.NewServer(d)
	d.wireConnectors()

	if _, err := db.GetNode(localNodeID); err != nil {
		node := domain.Node{
			ID:                localNodeID,
			Type:              domain.NodeLocal,
			Capabilities:      domain.Capabilities{}.DetectLocal(),
			Status:            domain.NodeActive,
			AvailabilityScore: 1.0,
			RegisteredAt:      time.Now(),
		}
		if err := db.UpsertNode(node); err != nil {
			db.Close()
			return nil, fmt.Errorf("register local node: %w", err)
		}
	}

	return d, nil
}

func (d *Daemon) wireConnectors() {
	cc := d.Config.Connectors
	if cc.Orchestrator.Address != "" {
		d.Orchestrator = connector.NewOrchestratorSession(
			connector.TCPDialer(cc.Orchestrator.Address), d.Router, d.Config.Core.ProxyID,
			backoffFor(cc.Orchestrator),
		)
	}
	if cc.IntentFeed.Address != "" {
		d.IntentFeed = connector.NewIntentFeed(connector.TCPDialer(cc.IntentFeed.Address), d.Router, backoffFor(cc.IntentFeed))
	}
	if cc.BehaviorFeed.Address != "" {
		d.BehaviorFeed = connector.NewBehaviorFeed(connector.TCPDialer(cc.BehaviorFeed.Address), d.Router, backoffFor(cc.BehaviorFeed))
	}
	if cc.MarketFeed.Address != "" {
		d.MarketFeed = connector.NewMarketFeed(connector.TCPDialer(cc.MarketFeed.Address), d.Router, backoffFor(cc.MarketFeed))
	}
}

func backoffFor(e ConnectorEndpoint) connector.BackoffConfig {
	return connector.BackoffConfig{
		Base: parseDuration(e.BackoffMin, 5*time.Second),
		Cap:  parseDuration(e.BackoffMax, 60*time.Second),
	}
}

// Serve starts every background task and the HTTP surface, blocking until
// a shutdown signal or the parent context is canceled. Every task is
// given the shared shutdown deadline (§5) to finish its current unit of
// work on the way out.
func (d *Daemon) Serve(ctx context.Context) error {
	corelog.SetLevel(d.Config.Logging.Level)

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.goRun(ctx, func(ctx context.Context) { d.Router.Run(ctx) })
	d.goRun(ctx, func(ctx context.Context) { d.Telemetry.Run(ctx) })
	d.goRun(ctx, func(ctx context.Context) {
		sub, unsubscribe := d.Router.Subscribe(domain.EventBehaviorIngested)
		defer unsubscribe()
		d.Graph.Run(ctx, staticSubscriber{ch: sub})
	})
	d.goRun(ctx, d.runAllocationLoop)
	d.goRun(ctx, d.runPerformanceReporter)
	d.goRun(ctx, d.runBehaviorEventConsumer)
	d.goRun(ctx, d.runResourceStateUpdateConsumer)
	d.goRun(ctx, d.runOrchestratorCommandConsumer)
	d.goRun(ctx, d.runCostEventForwarder)

	if d.Orchestrator != nil {
		d.goRun(ctx, func(ctx context.Context) { d.Orchestrator.Run(ctx) })
	}
	if d.IntentFeed != nil {
		d.goRun(ctx, func(ctx context.Context) { d.IntentFeed.Run(ctx) })
	}
	if d.BehaviorFeed != nil {
		d.goRun(ctx, func(ctx context.Context) { d.BehaviorFeed.Run(ctx) })
	}
	if d.MarketFeed != nil {
		d.goRun(ctx, func(ctx context.Context) { d.MarketFeed.Run(ctx) })
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		cancel()

		shutdownDeadline := parseDuration(d.Config.Core.ShutdownDeadline, 5*time.Second)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer shutdownCancel()

		if err := d.Router.Shutdown(shutdownCtx); err != nil {
			log.Printf("[daemon] router shutdown: %v", err)
		}
		_ = httpServer.Shutdown(shutdownCtx)

		d.wg.Wait()
		_ = d.DB.Close()
	}()

	log.Printf("[daemon] coreproxy %s serving on http://%s", d.Config.Core.ProxyID, addr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// goRun launches fn in the background, tracked by d.wg so Serve's shutdown
// path can wait for every task to observe cancellation.
func (d *Daemon) goRun(ctx context.Context, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(ctx)
	}()
}

// staticSubscriber adapts a single already-opened channel to the
// domain.EventSubscriber interface pig.Graph.Run expects, for the one
// subscription the daemon wires up front.
type staticSubscriber struct {
	ch <-chan domain.Event
}

func (s staticSubscriber) Subscribe(domain.EventType) (<-chan domain.Event, func()) {
	return s.ch, func() {}
}

// Summary implements api.Summarizer, merging the PIG's graph size with the
// predictor's training state and the policy's Q-table/exploration state
// (spec §9's DRAP/ProbabilisticIntentGraph summary merge).
func (d *Daemon) Summary() api.SummaryResponse {
	graphSummary := d.Graph.Summary()
	predSummary := d.Predictor.Summary()
	return api.SummaryResponse{
		ProxyID:          d.Config.Core.ProxyID,
		IntentNodeCount:  graphSummary.NodeCount,
		IntentEdgeCount:  graphSummary.EdgeCount,
		PredictorTrained: predSummary.Trained,
		QTableSize:       d.Policy.Size(),
		PolicyEpsilon:    d.Policy.Epsilon(),
	}
}
