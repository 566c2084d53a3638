// Package app wires application dependencies.
package app

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"admissiongate/internal/gateway/config"
	"admissiongate/internal/gateway/core"
	"admissiongate/internal/gateway/observability"
	"admissiongate/internal/gateway/store/inmemory"
	redisstore "admissiongate/internal/gateway/store/redis"
	grpctransport "admissiongate/internal/gateway/transport/grpc"
	httptransport "admissiongate/internal/gateway/transport/http"
)

// Application holds core components for the gateway.
type Application struct {
	Config       *config.Config
	Principals   *core.PrincipalDirectory
	Rules        *core.RuleTable
	Overrides    *core.OverrideRegistry
	Classifier   *core.PriorityClassifier
	Ledger       *core.QuotaLedger
	Health       *core.HealthMonitor
	Router       *core.Router
	Leases       *core.LeaseTable
	Orchestrator *core.Orchestrator
	Admin        *core.AdminCore
	Publisher    *core.EventPublisher

	ready         atomic.Bool
	httpTransport *httptransport.HTTPTransport
	grpcHealth    *grpctransport.HealthServer
	prober        *grpctransport.HealthProber
	redisClient   *redis.Client
	metrics       *observability.InMemoryMetrics
	inflight      *InFlight
	drainTimeout  time.Duration
	sweepInterval time.Duration
	logger        observability.Logger
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewApplication validates configuration and prepares the application.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		zl, err := observability.NewZapLogger()
		if err != nil {
			logger = observability.NewWriterLogger(os.Stdout)
		} else {
			logger = zl
		}
	}

	var redisClient *redis.Client
	if cfg.UseRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}

	registry := prometheus.NewRegistry()
	promMetrics := observability.NewPromMetrics(registry)
	inmemMetrics := observability.NewInMemoryMetrics()
	metrics := cfg.Metrics
	if metrics == nil {
		sinks := []observability.Metrics{inmemMetrics, promMetrics}
		if redisClient != nil {
			stats := redisstore.NewDecisionStats(redisClient, "", 0)
			sinks = append(sinks, newDecisionStatsSink(stats))
		}
		metrics = observability.NewMultiMetrics(sinks...)
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NoopTracer{}
	}
	sampler := cfg.Sampler
	if sampler == nil {
		sampler = observability.NewHashSampler(cfg.TraceSampleRate)
	}

	outbox := cfg.Outbox
	if outbox == nil {
		outbox = inmemory.NewOutbox()
	}
	pubsub := cfg.PubSub
	if pubsub == nil {
		pubsub = inmemory.NewPubSub()
	}
	events := core.NewEventLog(outbox)

	store := cfg.Store
	if store == nil {
		if redisClient != nil {
			store = redisstore.NewCounters(redisClient)
		} else {
			store = inmemory.NewCounters(nil)
		}
	}
	emergency := cfg.EmergencyStore
	if emergency == nil {
		// The emergency cap is always enforced locally so it survives a
		// store outage.
		emergency = inmemory.NewCounters(nil)
	}

	overrides := core.NewOverrideRegistry(nil)
	classifier := core.NewPriorityClassifier(overrides, nil)

	rules := core.NewRuleTable()
	rules.ReplaceAll(cfg.Rules)
	principals := core.NewPrincipalDirectory()
	principals.ReplaceAll(cfg.Principals)

	var grpcProber *grpctransport.HealthProber
	prober := cfg.Prober
	if prober == nil {
		grpcProber = grpctransport.NewHealthProber()
		prober = grpcProber
	}

	monitor := core.NewHealthMonitor(cfg.Upstreams, cfg.CircuitDefaults, prober, events, logger, metrics, core.HealthMonitorOptions{
		Interval:     cfg.HealthInterval,
		ProbeTimeout: cfg.ProbeTimeout,
		SampleBuffer: cfg.SampleBuffer,
		Region:       cfg.Region,
	}, nil)

	ledger := core.NewQuotaLedger(store, emergency, core.LedgerOptions{
		StoreTimeout: cfg.StoreTimeout,
		RetryBackoff: cfg.RetryBackoff,
		EmergencyCap: cfg.EmergencyCap,
		Region:       cfg.Region,
	}, events, logger, metrics, nil)

	router := core.NewRouter(cfg.Routes, monitor, cfg.RouterDefaults, nil)
	leases := core.NewLeaseTable(cfg.LeaseTTL, nil)

	orchestrator := core.NewOrchestrator(core.OrchestratorDeps{
		Principals: principals,
		Rules:      rules,
		Classifier: classifier,
		Ledger:     ledger,
		Router:     router,
		Health:     monitor,
		Leases:     leases,
		Tracer:     tracer,
		Sampler:    sampler,
		Metrics:    metrics,
		Logger:     logger,
		Region:     cfg.Region,
	})

	admin := core.NewAdminCore(overrides, rules, events, logger, metrics, nil)

	publisher := &core.EventPublisher{
		Outbox:   outbox,
		Pub:      pubsub,
		Channel:  cfg.TelemetryChan,
		Interval: cfg.PublishInterval,
	}

	app := &Application{
		Config:        cfg,
		Principals:    principals,
		Rules:         rules,
		Overrides:     overrides,
		Classifier:    classifier,
		Ledger:        ledger,
		Health:        monitor,
		Router:        router,
		Leases:        leases,
		Orchestrator:  orchestrator,
		Admin:         admin,
		Publisher:     publisher,
		prober:        grpcProber,
		redisClient:   redisClient,
		metrics:       inmemMetrics,
		inflight:      NewInFlight(),
		drainTimeout:  cfg.DrainTimeout,
		sweepInterval: cfg.SweepInterval,
		logger:        logger,
	}

	if cfg.EnableHTTP {
		transport := httptransport.NewHTTPTransport(cfg.HTTPListenAddr, app.Ready)
		guard := &admissionGuard{inner: orchestrator, inflight: app.inflight}
		if err := transport.ServeAdmission(guard); err != nil {
			return nil, err
		}
		if err := transport.ServeAdmin(admin); err != nil {
			return nil, err
		}
		transport.Configure(httptransport.HTTPTransportConfig{
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
			MaxBodyBytes: cfg.MaxBodyBytes,
			EnableAuth:   cfg.EnableAuth,
			AdminToken:   cfg.AdminToken,
			Logger:       logger,
			Metrics:      inmemMetrics,
			PromHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Status:       monitor.StatusSnapshot,
			Region:       cfg.Region,
		})
		app.httpTransport = transport
	}

	if cfg.EnableGRPCHealth {
		app.grpcHealth = grpctransport.NewHealthServer(cfg.GRPCListenAddr, app.Ready)
	}

	return app, nil
}

// Start begins background work for the application.
func (app *Application) Start(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if app.Health != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.Health.Start(ctx)
		}()
	}
	if app.Publisher != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.Publisher.Start(ctx)
		}()
	}

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.sweepLoop(ctx)
	}()

	if app.httpTransport != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.httpTransport.Start()
		}()
	}
	if app.grpcHealth != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			_ = app.grpcHealth.Start()
		}()
	}

	app.ready.Store(true)
	if app.logger != nil && app.Config != nil {
		app.logger.Info("gateway started", map[string]any{
			"region":       app.Config.Region,
			"http_enabled": app.Config.EnableHTTP,
			"grpc_health":  app.Config.EnableGRPCHealth,
			"redis":        app.Config.UseRedis,
		})
	}
	return nil
}

// Shutdown stops background work for the application.
func (app *Application) Shutdown(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	app.ready.Store(false)
	if app.logger != nil {
		app.logger.Info("gateway shutdown", map[string]any{})
	}

	var drainErr error
	if app.inflight != nil {
		app.inflight.Close()
		drainCtx := ctx
		if app.drainTimeout > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(ctx, app.drainTimeout)
			defer cancel()
		}
		drainErr = app.inflight.Wait(drainCtx)
	}

	if app.httpTransport != nil {
		_ = app.httpTransport.Shutdown(ctx)
	}
	if app.grpcHealth != nil {
		app.grpcHealth.Shutdown()
	}
	if app.cancel != nil {
		app.cancel()
	}
	if app.prober != nil {
		app.prober.Close()
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if app.redisClient != nil {
		_ = app.redisClient.Close()
	}
	return drainErr
}

// Ready reports whether the application has completed startup.
func (app *Application) Ready() bool {
	if app == nil {
		return false
	}
	return app.ready.Load()
}

func (app *Application) sweepLoop(ctx context.Context) {
	interval := app.sweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.Orchestrator.SweepLeases()
			app.Overrides.Sweep()
		}
	}
}

// admissionGuard rejects new requests once the drain has begun.
type admissionGuard struct {
	inner    core.AdmissionService
	inflight *InFlight
}

func (g *admissionGuard) Admit(ctx context.Context, req *core.AdmissionRequest) (*core.AdmissionDecision, error) {
	if !g.inflight.Begin() {
		return nil, core.Wrap(core.CodeUpstreamUnavailable, "gateway is draining", nil)
	}
	defer g.inflight.End()
	return g.inner.Admit(ctx, req)
}

// Complete bypasses the drain gate so slots held by admitted requests can
// still be released during shutdown.
func (g *admissionGuard) Complete(ctx context.Context, leaseID string, success bool, latency time.Duration) error {
	return g.inner.Complete(ctx, leaseID, success, latency)
}
