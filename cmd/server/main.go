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

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	audithandler "signet/internal/audit/handler"
	auditmetrics "signet/internal/audit/metrics"
	auditservice "signet/internal/audit/service"
	auditmemory "signet/internal/audit/store/memory"
	auditpostgres "signet/internal/audit/store/postgres"
	certificatehandler "signet/internal/certificate/handler"
	certificatemetrics "signet/internal/certificate/metrics"
	certificateservice "signet/internal/certificate/service"
	documenthandler "signet/internal/document/handler"
	documentmetrics "signet/internal/document/metrics"
	documentservice "signet/internal/document/service"
	documentmemory "signet/internal/document/store/memory"
	documents3 "signet/internal/document/store/s3"
	envelopehandler "signet/internal/envelope/handler"
	envelopemetrics "signet/internal/envelope/metrics"
	envelopemodels "signet/internal/envelope/models"
	envelopeservice "signet/internal/envelope/service"
	envelopememory "signet/internal/envelope/store/memory"
	envelopepostgres "signet/internal/envelope/store/postgres"
	httpapi "signet/internal/http"
	idempotencymetrics "signet/internal/idempotency/metrics"
	idempotencyservice "signet/internal/idempotency/service"
	idempotencymemory "signet/internal/idempotency/store/memory"
	idempotencypostgres "signet/internal/idempotency/store/postgres"
	outboxkafka "signet/internal/outbox/kafka"
	outboxmetrics "signet/internal/outbox/metrics"
	outboxservice "signet/internal/outbox/service"
	outboxmemory "signet/internal/outbox/store/memory"
	outboxpostgres "signet/internal/outbox/store/postgres"
	outboxworker "signet/internal/outbox/worker"
	partymetrics "signet/internal/party/metrics"
	partyservice "signet/internal/party/service"
	partymemory "signet/internal/party/store/memory"
	partypostgres "signet/internal/party/store/postgres"
	"signet/internal/platform/config"
	"signet/internal/platform/httpserver"
	"signet/internal/platform/logger"
	platformmetrics "signet/internal/platform/metrics"
	platformredis "signet/internal/platform/redis"
	signingtokenhandler "signet/internal/signingtoken/handler"
	signingtokenmetrics "signet/internal/signingtoken/metrics"
	signingtokenservice "signet/internal/signingtoken/service"
	signingtokenmemory "signet/internal/signingtoken/store/memory"
	signingtokenredis "signet/internal/signingtoken/store/redis"
	tenanthandler "signet/internal/tenant/handler"
	tenantmetrics "signet/internal/tenant/metrics"
	tenantservice "signet/internal/tenant/service"
	tenantmemory "signet/internal/tenant/store/memory"
	tenantpostgres "signet/internal/tenant/store/postgres"
	"signet/pkg/platform/circuit"
	"signet/pkg/platform/tx"
)

// main wires storage, services, and the HTTP router, then runs the server
// alongside the outbox relay and the background sweeps. Business logic lives
// in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := envelopemodels.DeclinePolicy(cfg.Lifecycle.DeclinePolicy)
	if !policy.Valid() {
		return fmt.Errorf("invalid decline policy %q", cfg.Lifecycle.DeclinePolicy)
	}

	// Durable state: Postgres when a DSN is set, in-memory otherwise.
	var (
		db          *sql.DB
		runner      tx.Runner = tx.NopRunner{}
		tenantStore tenantservice.Store
		envStore    envelopeservice.Store
		partyStore  partyservice.Store
		auditStore  auditservice.Store
		outboxStore outboxservice.Store
		idemStore   idempotencyservice.Store
	)
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		runner = tx.NewSQLRunner(db)
		tenantStore = tenantpostgres.New(db)
		envStore = envelopepostgres.New(db)
		partyStore = partypostgres.New(db)
		auditStore = auditpostgres.New(db)
		outboxStore = outboxpostgres.New(db)
		idemStore = idempotencypostgres.New(db)
		log.Info("postgres connected")
	} else {
		tenantStore = tenantmemory.NewInMemoryStore()
		envStore = envelopememory.NewInMemoryStore()
		partyStore = partymemory.NewInMemoryStore()
		auditStore = auditmemory.NewInMemoryStore()
		outboxStore = outboxmemory.NewInMemoryStore()
		idemStore = idempotencymemory.NewInMemoryStore()
		log.Warn("postgres not configured, state is in-memory and lost on restart")
	}

	// Redemption marks: Redis when configured, in-memory otherwise.
	var tokenStore signingtokenservice.RedemptionStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		tokenStore = signingtokenredis.New(redisClient.Client)
		log.Info("redis connected")
	} else {
		tokenStore = signingtokenmemory.NewInMemoryStore()
		log.Warn("redis not configured, token redemptions are in-memory")
	}

	// Document bytes: S3 when a bucket is set, in-memory otherwise.
	var blobStore documentservice.Blobs
	if cfg.Documents.Bucket != "" {
		s3Store, err := documents3.New(ctx, documents3.Config{
			Bucket:   cfg.Documents.Bucket,
			Region:   cfg.Documents.Region,
			Endpoint: cfg.Documents.Endpoint,
			Prefix:   cfg.Documents.Prefix,
		})
		if err != nil {
			return fmt.Errorf("open document store: %w", err)
		}
		blobStore = s3Store
		log.Info("document store ready", "bucket", cfg.Documents.Bucket)
	} else {
		blobStore = documentmemory.NewInMemoryStore()
		log.Warn("document bucket not configured, document bytes are in-memory")
	}

	// Registration with the default Prometheus registry happens here and
	// nowhere else, once per process.
	httpMetrics := platformmetrics.New()
	obMetrics := outboxmetrics.New()

	// Event bus: Kafka when brokers are set, otherwise the log fallback.
	var publisher outboxservice.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := outboxkafka.NewClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return fmt.Errorf("kafka client: %w", err)
		}
		defer client.Close()

		topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = outboxkafka.EnsureTopic(topicCtx, client, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure topic %q: %w", cfg.Kafka.Topic, err)
		}

		publisher = outboxkafka.New(client, cfg.Kafka.Topic,
			outboxkafka.WithLogger(log),
			outboxkafka.WithMetrics(obMetrics),
			outboxkafka.WithBreaker(circuit.New("kafka-publisher")),
		)
		log.Info("kafka publisher ready", "topic", cfg.Kafka.Topic)
	} else {
		publisher = logPublisher{logger: log}
		log.Warn("kafka not configured, envelope events are logged instead of published")
	}

	tenants := tenantservice.New(tenantStore,
		tenantservice.WithLogger(log),
		tenantservice.WithMetrics(tenantmetrics.New()),
	)
	parties := partyservice.New(partyStore,
		partyservice.WithLogger(log),
		partyservice.WithMetrics(partymetrics.New()),
		partyservice.WithPageSize(cfg.Lifecycle.PartyPageSize),
	)
	trail := auditservice.New(auditStore,
		auditservice.WithLogger(log),
		auditservice.WithMetrics(auditmetrics.New()),
	)
	dispatcher := outboxservice.New(outboxStore, publisher,
		outboxservice.WithLogger(log),
		outboxservice.WithMetrics(obMetrics),
		outboxservice.WithMaxAttempts(cfg.Outbox.MaxAttempts),
	)
	envelopes := envelopeservice.New(envStore, parties, trail, dispatcher, runner,
		envelopeservice.WithLogger(log),
		envelopeservice.WithMetrics(envelopemetrics.New()),
		envelopeservice.WithTenantGuard(tenants),
		envelopeservice.WithDeclinePolicy(policy),
	)
	documents := documentservice.New(blobStore, envelopes, trail,
		documentservice.WithLogger(log),
		documentservice.WithMetrics(documentmetrics.New()),
	)
	certificates := certificateservice.New(envelopes, trail,
		certificateservice.WithLogger(log),
		certificateservice.WithMetrics(certificatemetrics.New()),
	)
	tokens, err := signingtokenservice.New([]byte(cfg.Tokens.SigningKey), tokenStore, envelopes, parties,
		signingtokenservice.WithLogger(log),
		signingtokenservice.WithMetrics(signingtokenmetrics.New()),
		signingtokenservice.WithTTL(cfg.Tokens.TTL),
	)
	if err != nil {
		return fmt.Errorf("signing token service: %w", err)
	}
	guard := idempotencyservice.New(idemStore,
		idempotencyservice.WithLogger(log),
		idempotencyservice.WithMetrics(idempotencymetrics.New()),
		idempotencyservice.WithTTL(cfg.Idempotency.TTL),
	)

	relay := outboxworker.New(dispatcher,
		outboxworker.WithLogger(log),
		outboxworker.WithInterval(cfg.Outbox.PollInterval),
		outboxworker.WithBatchSize(cfg.Outbox.BatchSize),
		outboxworker.WithBackoff(cfg.Outbox.BackoffBase, cfg.Outbox.BackoffCap),
	)

	router := httpapi.NewRouter(httpapi.Dependencies{
		Logger:       log,
		AdminToken:   cfg.Server.AdminToken,
		Envelopes:    envelopehandler.New(envelopes, log),
		Documents:    documenthandler.New(documents, log),
		Audit:        audithandler.New(trail, log),
		Certificates: certificatehandler.New(certificates, log),
		Tokens:       signingtokenhandler.New(tokens, envelopes, log),
		Tenants:      tenanthandler.New(tenants, log),
		Guard:        guard,
		Metrics:      httpMetrics,
		Ready: func(ctx context.Context) error {
			if db != nil {
				if err := db.PingContext(ctx); err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
			}
			if redisClient != nil {
				if err := redisClient.Health(ctx); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
	})

	srv := httpserver.New(cfg.Server, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("outbox relay: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweep(ctx, cfg.Lifecycle.ExpirySweepInterval, log, "expiry sweep", func(ctx context.Context) (int, error) {
			return envelopes.ExpireDue(ctx, cfg.Lifecycle.ExpirySweepLimit)
		})
	})

	g.Go(func() error {
		return sweep(ctx, cfg.Idempotency.ReapInterval, log, "idempotency reap", func(ctx context.Context) (int, error) {
			return guard.Reap(ctx, cfg.Idempotency.ReapLimit)
		})
	})

	return g.Wait()
}

// sweep runs fn on every tick until ctx is cancelled. Failures are logged
// and the loop keeps going; a sweep that cannot run this tick runs the next.
func sweep(ctx context.Context, interval time.Duration, log *slog.Logger, name string, fn func(ctx context.Context) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := fn(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error(name+" failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info(name+" complete", "count", n)
			}
		}
	}
}
