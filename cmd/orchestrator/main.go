package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/o11y-orchestrator/internal/api"
	"github.com/xela07ax/o11y-orchestrator/internal/audit"
	"github.com/xela07ax/o11y-orchestrator/internal/connectors"
	"github.com/xela07ax/o11y-orchestrator/internal/engine"
	"github.com/xela07ax/o11y-orchestrator/internal/infra"
	"github.com/xela07ax/o11y-orchestrator/internal/repository/postgres"
	"github.com/xela07ax/o11y-orchestrator/internal/telemetry"
)

type auditBackend interface {
	audit.Store
	api.AuditReader
}

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger, cfg.Telemetry.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("orchestrator stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизни процесса: SIGTERM останавливает сервер и фоновых слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Телеметрия. Shutdown сбрасывает недоотправленные спаны.
	tp, err := telemetry.Init(appCtx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// 2. Хранилище аудита
	store, closeStore, err := openStore(appCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Control Plane: выключатели зависимостей
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	switches := engine.NewSwitchManager(rdb, cfg.Engine.DisabledDependencies, logger)
	if err := switches.Init(appCtx); err != nil {
		return err
	}
	go switches.StartListener(appCtx)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 5. Execution Layer: клиенты зависимостей, у каждой свой предохранитель
	httpClient := &http.Client{}
	deps := cfg.Dependencies
	orch := engine.NewOrchestrator(store,
		engine.Dependencies{
			ThirdParty: connectors.NewThirdPartyClient(deps.ThirdPartyURL, deps.ThirdPartyTimeout, deps.ThirdPartyMaxLen, httpClient,
				engine.NewBreaker(connectors.TargetThirdParty, cfg.Engine, metrics, logger)),
			Compute: connectors.NewComputeClient(deps.ComputeURL, deps.ComputeTimeout, httpClient,
				engine.NewBreaker(connectors.TargetCompute, cfg.Engine, metrics, logger)),
			Enqueue: connectors.NewEnqueueClient(deps.EnqueueURL, deps.EnqueueTimeout, httpClient,
				engine.NewBreaker(connectors.TargetEnqueue, cfg.Engine, metrics, logger)),
		},
		switches,
		engine.NewObserver(tp.Tracer(), metrics),
		logger,
		engine.Options{
			Endpoint:        cfg.Engine.Endpoint,
			CountWindow:     cfg.Engine.CountWindow,
			FinalizeTimeout: cfg.Engine.FinalizeTimeout,
			EnqueueMessage:  deps.EnqueueMessage,
		},
	)

	// 6. HTTP Server
	handler := api.NewServer(logger, orch, store, switches, api.Options{
		Service:     cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Engine.Endpoint,
		StatsWindow: cfg.Engine.CountWindow,
		Limiter:     engine.NewLimiter(cfg.Engine.RateLimitRPS, cfg.Engine.RateLimitBurst),
		Gatherer:    reg,
		Info: api.ServiceInfo{
			Version:     cfg.Telemetry.ServiceVersion,
			Environment: cfg.Telemetry.Environment,
			Tracing:     mode(cfg.Telemetry.OTLPEndpoint != "", "otlp-grpc", "local"),
			SampleRatio: cfg.Telemetry.SampleRatio,
			Store:       cfg.Database.Driver,
			Switches:    mode(rdb != nil, "redis", "local"),
		},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator started", zap.String("addr", srv.Addr), zap.String("store", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 7. Graceful Shutdown
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-appCtx.Done():
	}
	logger.Info("orchestrator stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("orchestrator exited properly")
	return nil
}

func openStore(ctx context.Context, cfg infra.DatabaseConfig, logger *zap.Logger) (auditBackend, func(), error) {
	if cfg.Driver == "memory" {
		logger.Warn("using in-memory audit store, records are lost on restart")
		return audit.NewMemoryStore(), func() {}, nil
	}

	db, err := infra.OpenDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.NewAuditRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, func() { _ = db.Close() }, nil
}

func mode(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}
