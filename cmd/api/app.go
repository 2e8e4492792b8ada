package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/audit"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/cache"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/config"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/conversion"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/idgen"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/ledger"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/repository"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/segments"
)

// app holds every long-lived handle. Closers run in reverse order on close.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	pool    *pgxpool.Pool
	cache   cache.Cache
	audit   audit.Sink

	customers   *repository.CustomerRepo
	ledger      ledger.Service
	conversions *conversion.Service
	segmentRepo *segments.Repository
	reconciler  *segments.Reconciler
	segments    *segments.Service
	jobRepo     *jobs.Repository
	tracker     *jobs.Tracker
	queue       *jobs.Queue
	policy      jobs.RetryPolicy

	closers []func(context.Context) error
}

func loadConfig(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}

// newApp connects to Postgres, Redis and Kafka and builds the services. The
// job queue is returned unbound; serve binds it to the River client.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "loyalty-api")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracer)

	a.pool, err = db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { a.pool.Close(); return nil })
	logger.Info("connected to postgres")

	a.cache = cache.Nop{}
	if cfg.Redis.Address != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)
		if err != nil {
			logger.Warn("redis unavailable, response cache disabled", zap.Error(err))
		} else {
			a.cache = cache.NewRedis(rdb)
			a.closers = append(a.closers, closeWith(rdb))
		}
	}

	a.audit = audit.NewLogSink(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		w, err := audit.NewKafkaWriter(cfg.Kafka.Brokers)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		sink := audit.NewKafkaSink(w, cfg.Kafka.AuditTopic, a.metrics, logger)
		a.audit = sink
		a.closers = append(a.closers, closeWith(sink))
	}

	ids, err := idgen.New(cfg.Ledger.NodeID)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	tx := db.NewTransactor(a.pool)
	a.customers = repository.NewCustomerRepo(a.pool)
	a.ledger = ledger.NewService(tx, a.customers, ledger.NewRepository(a.pool), ids, a.audit, a.metrics, cfg.Ledger.Expiry, logger)
	convRepo := conversion.NewRepository(a.pool)
	a.conversions = conversion.NewService(tx, convRepo, convRepo, a.customers, a.ledger, ids, a.audit, a.metrics, logger)

	a.segmentRepo = segments.NewRepository(a.pool)
	evaluator := segments.NewEvaluator(a.customers, a.segmentRepo)
	a.reconciler = segments.NewReconciler(tx, a.segmentRepo, evaluator, a.metrics, logger)

	a.policy = jobs.RetryPolicy{MaxAttempts: cfg.Queue.MaxAttempts, BaseDelay: cfg.Queue.BaseBackoff, MaxDelay: 10 * time.Minute}
	a.tracker = jobs.NewTracker(a.metrics, logger)
	a.queue = jobs.NewQueue(a.tracker, a.policy, logger)
	a.jobRepo = jobs.NewRepository(a.pool)
	a.segments = segments.NewService(a.segmentRepo, a.reconciler, a.queue, a.audit, logger)

	return a, nil
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
