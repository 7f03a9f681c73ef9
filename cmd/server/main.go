package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"tiergate/internal/gate"
	gatehandler "tiergate/internal/gate/handler"
	limitshandler "tiergate/internal/limits/handler"
	limitsmetrics "tiergate/internal/limits/metrics"
	limitsservice "tiergate/internal/limits/service"
	limitsstore "tiergate/internal/limits/store"
	"tiergate/internal/platform/config"
	"tiergate/internal/platform/httpserver"
	"tiergate/internal/platform/kafka"
	"tiergate/internal/platform/logger"
	platformmetrics "tiergate/internal/platform/metrics"
	"tiergate/internal/platform/postgres"
	platformredis "tiergate/internal/platform/redis"
	"tiergate/internal/providers"
	"tiergate/internal/providers/sandbox"
	provisioninghandler "tiergate/internal/provisioning/handler"
	provisioningmetrics "tiergate/internal/provisioning/metrics"
	"tiergate/internal/provisioning/reconciler"
	provisioningservice "tiergate/internal/provisioning/service"
	provisioningstore "tiergate/internal/provisioning/store"
	"tiergate/internal/tier"
	httptransport "tiergate/internal/transport/http"
	verificationhandler "tiergate/internal/verification/handler"
	verificationmetrics "tiergate/internal/verification/metrics"
	verificationservice "tiergate/internal/verification/service"
	verificationstore "tiergate/internal/verification/store"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/platform/audit/outbox"
	"tiergate/pkg/platform/audit/publisher"
	auditmemory "tiergate/pkg/platform/audit/store/memory"
	auditpostgres "tiergate/pkg/platform/audit/store/postgres"
	"tiergate/pkg/platform/circuit"
	"tiergate/pkg/platform/middleware/auth"
	"tiergate/pkg/platform/retry"
	"tiergate/pkg/platform/signature"
	"tiergate/pkg/platform/tx"
)

const (
	devWebhookSecret = "tiergate-dev-webhook-secret"

	outboxRetention     = 24 * time.Hour
	outboxSweepInterval = time.Hour
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("tiergate exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("tiergate exited cleanly")
}

// infra holds the connections shared across modules. Nil fields mean the
// backend is not configured.
type infra struct {
	db       *sql.DB
	pool     *pgxpool.Pool
	redis    *platformredis.Client
	producer *kafka.Producer
}

func (i *infra) close(log *slog.Logger) {
	if i.producer != nil {
		i.producer.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}
	if i.pool != nil {
		i.pool.Close()
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("close postgres", "error", err)
		}
	}
}

func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	var err error
	if !cfg.DevMode() {
		if in.db, err = postgres.Open(ctx, cfg.DatabaseURL); err != nil {
			return in, err
		}
		if err = postgres.Migrate(ctx, in.db); err != nil {
			return in, err
		}
		if in.pool, err = postgres.OpenPool(ctx, cfg.DatabaseURL); err != nil {
			return in, err
		}
	}
	if in.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		return in, err
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.DevMode() {
			log.Warn("kafka brokers ignored without DATABASE_URL; audit events stay in memory")
		} else {
			if in.producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, log); err != nil {
				return in, err
			}
			if err = in.producer.EnsureTopic(ctx, cfg.Kafka.Partitions); err != nil {
				return in, err
			}
		}
	}
	return in, nil
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	in, err := connect(ctx, cfg, log)
	defer in.close(log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry, err := tier.LoadRegistry(cfg.TierCatalogPath)
	if err != nil {
		return err
	}

	// Audit events go to the transactional outbox when Postgres is
	// configured; the synchronous publisher keeps the append inside the
	// caller's transaction.
	var (
		auditStore  audit.Store
		outboxStore *auditpostgres.Store
		pubOpts     = []publisher.Option{publisher.WithLogger(log)}
	)
	if in.db != nil {
		outboxStore = auditpostgres.New(in.db)
		auditStore = outboxStore
	} else {
		auditStore = auditmemory.NewInMemoryStore()
		pubOpts = append(pubOpts, publisher.WithAsyncBuffer(1024))
	}
	auditPublisher := publisher.NewPublisher(auditStore, pubOpts...)
	defer auditPublisher.Close()

	// Verification ledger.
	vMetrics := verificationmetrics.New(reg)
	vOpts := []verificationservice.Option{
		verificationservice.WithLogger(log),
		verificationservice.WithAuditPublisher(auditPublisher),
		verificationservice.WithMetrics(vMetrics),
	}
	var ledgerStore verificationservice.Store = verificationstore.NewInMemory()
	if in.db != nil {
		ledgerStore = verificationstore.NewPostgres(in.db)
		vOpts = append(vOpts, verificationservice.WithTxRunner(tx.NewRunner(in.db)))
	}
	ledger, err := verificationservice.New(ledgerStore, registry, vOpts...)
	if err != nil {
		return err
	}

	evaluator, err := gate.New(registry, ledger,
		gate.WithEnforceTierOrder(cfg.EnforceTierOrder),
		gate.WithLogger(log),
	)
	if err != nil {
		return err
	}

	// Trading limits.
	usageStore, err := newUsageStore(cfg, in)
	if err != nil {
		return err
	}
	limits, err := limitsservice.New(usageStore, evaluator,
		limitsservice.WithLogger(log),
		limitsservice.WithAuditPublisher(auditPublisher),
		limitsservice.WithMetrics(limitsmetrics.New(reg)),
	)
	if err != nil {
		return err
	}

	// Account provisioning.
	pMetrics := providers.NewMetrics(reg)
	providerPolicy := retry.DefaultPolicy
	providerPolicy.MaxRetries = cfg.Providers.MaxRetries
	resilience := func(name string) []providers.Option {
		return []providers.Option{
			providers.WithTimeout(cfg.Providers.Timeout),
			providers.WithRetryPolicy(providerPolicy),
			providers.WithBreaker(circuit.New(name,
				circuit.WithFailureThreshold(cfg.Providers.BreakerThreshold),
				circuit.WithCoolDown(cfg.Providers.BreakerCoolDown),
			)),
			providers.WithMetrics(pMetrics),
			providers.WithLogger(log),
		}
	}
	identity := providers.NewResilientIdentity(
		sandbox.NewIdentity(sandbox.WithLatency(cfg.Providers.SandboxLatency)),
		resilience("identity")...,
	)
	exchange := providers.NewResilientExchange(
		sandbox.NewExchange(sandbox.WithLatency(cfg.Providers.SandboxLatency)),
		resilience("exchange")...,
	)

	var sagaStore interface {
		provisioningservice.Store
		reconciler.Store
	} = provisioningstore.NewInMemory()
	if in.db != nil {
		sagaStore = provisioningstore.NewPostgres(in.db)
	}
	sagaMetrics := provisioningmetrics.New(reg)
	saga, err := provisioningservice.New(identity, exchange, sagaStore,
		provisioningservice.WithLogger(log),
		provisioningservice.WithAuditPublisher(auditPublisher),
		provisioningservice.WithMetrics(sagaMetrics),
	)
	if err != nil {
		return err
	}
	sweeper, err := reconciler.New(sagaStore, saga,
		reconciler.WithInterval(cfg.Reconciler.Interval),
		reconciler.WithGrace(cfg.Reconciler.Grace),
		reconciler.WithRetention(cfg.Reconciler.Retention),
		reconciler.WithConcurrency(cfg.Reconciler.Concurrency),
		reconciler.WithLogger(log),
		reconciler.WithMetrics(sagaMetrics),
	)
	if err != nil {
		return err
	}

	// HTTP surface.
	secret := cfg.KYCWebhookSecret
	if secret == "" {
		if !cfg.DevMode() {
			return errors.New("KYC_WEBHOOK_SECRET is required outside dev mode")
		}
		log.Warn("KYC_WEBHOOK_SECRET not set; using the dev secret")
		secret = devWebhookSecret
	}
	verifier := signature.NewVerifier([]byte(secret), cfg.KYCWebhookMaxSkew)

	routerCfg := httptransport.Config{
		Logger:       log,
		Metrics:      platformmetrics.NewHTTP(reg),
		Gatherer:     reg,
		HealthChecks: healthChecks(in),
	}
	if cfg.JWTSigningKey != "" {
		routerCfg.AdminValidator = auth.NewHMACValidator([]byte(cfg.JWTSigningKey), cfg.JWTIssuer)
	}
	router := httptransport.NewRouter(routerCfg,
		gatehandler.New(evaluator, registry, log),
		verificationhandler.New(ledger, verifier, log, vMetrics,
			verificationhandler.WithAuditPublisher(auditPublisher),
		),
		limitshandler.New(limits, log),
		provisioninghandler.New(saga, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	// Background workers stop when ctx is cancelled.
	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error { return sweeper.Run(workerCtx) })
	if outboxStore != nil && in.producer != nil {
		relay := outbox.NewRelay(outboxStore, in.producer, outbox.WithLogger(log))
		workers.Go(func() error { return relay.Run(workerCtx) })
		workers.Go(func() error { return sweepOutbox(workerCtx, outboxStore, log) })
	} else if outboxStore != nil {
		log.Warn("KAFKA_BROKERS not set; audit outbox entries will accumulate unpublished")
	}

	srvErrCh := make(chan error, 1)
	go func() {
		log.Info("starting tiergate", "addr", cfg.Addr, "dev_mode", cfg.DevMode(), "usage_store", cfg.UsageStore)
		srvErrCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			_ = workers.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newUsageStore(cfg config.Server, in *infra) (limitsservice.Store, error) {
	switch cfg.UsageStore {
	case config.UsageStorePostgres:
		return limitsstore.NewPostgres(in.pool), nil
	case config.UsageStoreRedis:
		if in.redis == nil {
			return nil, errors.New("redis usage store selected but redis is not configured")
		}
		return limitsstore.NewRedis(in.redis.Client), nil
	default:
		return limitsstore.NewInMemory(), nil
	}
}

func healthChecks(in *infra) map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.producer != nil {
		checks["kafka"] = in.producer.Health
	}
	return checks
}

// sweepOutbox deletes published outbox rows older than outboxRetention.
func sweepOutbox(ctx context.Context, store *auditpostgres.Store, log *slog.Logger) error {
	ticker := time.NewTicker(outboxSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.DeletePublishedBefore(ctx, time.Now().Add(-outboxRetention))
			if err != nil {
				log.WarnContext(ctx, "outbox sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.InfoContext(ctx, "outbox swept", "deleted", n)
			}
		}
	}
}
