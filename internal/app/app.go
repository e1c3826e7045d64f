// Package app wires every component into a runnable process: config load,
// infrastructure clients, domain services, and the mode dispatch
// (api/worker/migrate/seed-demo) that cmd/hostfleetd drives.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"github.com/hostfleet/controlplane/internal/config"
	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/dnsprovider"
	"github.com/hostfleet/controlplane/internal/eventbus"
	"github.com/hostfleet/controlplane/internal/httpserver"
	"github.com/hostfleet/controlplane/internal/notify"
	"github.com/hostfleet/controlplane/internal/platform"
	"github.com/hostfleet/controlplane/internal/seed"
	"github.com/hostfleet/controlplane/internal/telemetry"
	"github.com/hostfleet/controlplane/pkg/backup"
	"github.com/hostfleet/controlplane/pkg/dunning"
	"github.com/hostfleet/controlplane/pkg/executor"
	"github.com/hostfleet/controlplane/pkg/gateway"
	"github.com/hostfleet/controlplane/pkg/lifecycle"
	"github.com/hostfleet/controlplane/pkg/orchestrator"
	"github.com/hostfleet/controlplane/pkg/provisioner"
	"github.com/hostfleet/controlplane/pkg/webhook"
)

// eventBusWorkers bounds how many goroutines drain the per-tenant event
// queues (§4.7). A handful is plenty — per-tenant work is light CPU, mostly
// downstream I/O that's already retried by its own collaborator.
const eventBusWorkers = 8

// Run loads configuration and dispatches to the selected run mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	switch cfg.Mode {
	case "migrate":
		logger.Info("running migrations", "migrations_dir", cfg.MigrationsDir)
		return platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)

	case "seed-demo":
		return runSeedDemo(ctx, cfg, logger)

	case "worker":
		return runWorker(ctx, cfg, logger)

	case "api":
		return runAPI(ctx, cfg, logger)

	default:
		return fmt.Errorf("unknown run mode %q (want api, worker, migrate, or seed-demo)", cfg.Mode)
	}
}

// components bundles everything both runAPI and runWorker need, built once
// from the same config so the two processes share identical wiring.
type components struct {
	db        *db.Queries
	pgPool    *pgxpool.Pool
	redis     *redis.Client
	bus       *eventbus.Bus
	machine   *lifecycle.Machine
	scheduler *dunning.Scheduler
	backups   *backup.Engine
	provision *provisioner.Provisioner
	gateway   *gateway.Client
	pool      *platformPool
}

type platformPool struct {
	closers []func()
}

func (p *platformPool) closeAll() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	pool := &platformPool{}

	pgPool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	pool.closers = append(pool.closers, pgPool.Close)

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.closeAll()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	pool.closers = append(pool.closers, func() { _ = rdb.Close() })

	queries := db.New(pgPool)

	driver, err := buildDriver(cfg, logger)
	if err != nil {
		pool.closeAll()
		return nil, fmt.Errorf("building orchestrator driver: %w", err)
	}

	s3Client, err := buildS3Client(ctx, cfg)
	if err != nil {
		pool.closeAll()
		return nil, fmt.Errorf("building object store client: %w", err)
	}
	objectStore := backup.NewS3Store(s3Client, cfg.ObjectStoreBucket)
	if err := backup.ConfigureLifecycle(ctx, s3Client, cfg.ObjectStoreBucket); err != nil {
		logger.Warn("configuring bucket lifecycle rules failed", "bucket", cfg.ObjectStoreBucket, "error", err)
	}

	exec := executor.New(driver)
	bus := eventbus.New(logger)
	gatewayClient := gateway.New(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayWebhookSecret)
	dns := dnsprovider.New(cfg.DNSProviderEndpoint, cfg.DNSProviderAPIKey)
	backupEngine := backup.New(exec, objectStore, queries, logger)

	var slackClient *slack.Client
	if cfg.WhatsAppChannelID != "" {
		slackClient = slack.New(cfg.SlackBotToken)
	}
	notifier := notify.New(cfg.SMTPAddr, cfg.NotifyFromAddress, &notify.DBLookup{Queries: queries}, slackClient, cfg.WhatsAppChannelID, logger)

	machine := lifecycle.NewMachine(queries, driver, dns, gatewayClient, backupTakerAdapter{engine: backupEngine}, notifier, bus, logger)
	scheduler := dunning.New(queries, queries, gatewayClient, machine, logger)
	prov := provisioner.New(queries, driver, exec, bus, logger)

	registerEventHandlers(bus, machine, logger)

	return &components{
		db:        queries,
		pgPool:    pgPool,
		redis:     rdb,
		bus:       bus,
		machine:   machine,
		scheduler: scheduler,
		backups:   backupEngine,
		provision: prov,
		gateway:   gatewayClient,
		pool:      pool,
	}, nil
}

// backupTakerAdapter satisfies lifecycle.BackupTaker, which only needs to
// know whether the "final" backup on deletion succeeded, not the resulting
// record — kept as a thin adapter rather than widening the lifecycle
// package's narrow interface to backup.Engine's richer return type.
type backupTakerAdapter struct {
	engine *backup.Engine
}

func (a backupTakerAdapter) Take(ctx context.Context, tenantID, kind string) error {
	_, err := a.engine.Take(ctx, tenantID, kind)
	return err
}

// registerEventHandlers wires the EventBus's closed event set onto the
// lifecycle machine (§4.7): webhook- and scheduler-originated events both
// funnel through Apply so every transition runs the same side-effect path.
func registerEventHandlers(bus *eventbus.Bus, machine *lifecycle.Machine, logger *slog.Logger) {
	bus.Subscribe(eventbus.PaymentConfirmed, func(ctx context.Context, e *eventbus.Event) error {
		return machine.Apply(ctx, e.TenantID, lifecycle.PaymentConfirmed, lifecycle.CausePayment, "payment confirmed via webhook")
	})
	bus.Subscribe(eventbus.PaymentReversed, func(ctx context.Context, e *eventbus.Event) error {
		return machine.Apply(ctx, e.TenantID, lifecycle.TriggerOverdueD3, lifecycle.CauseWebhook, "payment reversed via webhook")
	})
	bus.Subscribe(eventbus.SubscriptionCancelled, func(ctx context.Context, e *eventbus.Event) error {
		return machine.Apply(ctx, e.TenantID, lifecycle.AdminDelete, lifecycle.CauseWebhook, "subscription cancelled at gateway")
	})
}

func buildDriver(cfg *config.Config, logger *slog.Logger) (orchestrator.Driver, error) {
	if cfg.KubeconfigPath == "" && !cfg.OrchestratorInCluster {
		logger.Info("no kubeconfig configured, using dev orchestrator driver")
		return orchestrator.NewDevDriver(logger), nil
	}
	return orchestrator.NewKubeDriver(cfg.KubeconfigPath, cfg.OrchestratorInCluster, logger)
}

func buildS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.ObjectStoreRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ObjectStoreEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ObjectStoreEndpoint)
		}
		o.UsePathStyle = cfg.ObjectStorePathStyle
	}), nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.pool.closeAll()

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	webhookHandler := webhook.New(c.gateway, c.bus, logger)
	system := &httpserver.SystemHandlers{
		Provisioner: c.provision,
		Machine:     c.machine,
		Backups:     c.backups,
		Dunning:     c.scheduler,
		Tenants:     c.db,
		Logger:      logger,
	}

	srv := httpserver.NewServer(
		httpserver.ServerConfig{CORSAllowedOrigins: cfg.CORSAllowedOrigins, AdminToken: cfg.AdminToken},
		logger, c.pgPool, c.redis, metricsReg, c.bus, webhookHandler, system,
	)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.bus.Run(gctx, eventBusWorkers) })
	g.Go(func() error {
		logger.Info("starting admin api", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.pool.closeAll()

	interval, err := time.ParseDuration(cfg.DunningTickInterval)
	if err != nil {
		return fmt.Errorf("parsing dunning tick interval: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.bus.Run(gctx, eventBusWorkers) })
	g.Go(func() error {
		c.scheduler.Run(gctx, interval)
		return nil
	})

	logger.Info("worker started", "dunning_tick_interval", interval)
	return g.Wait()
}

func runSeedDemo(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pgPool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pgPool.Close()

	queries := db.New(pgPool)
	return seed.Run(ctx, queries, logger)
}
