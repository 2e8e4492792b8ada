package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/auth"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/execution"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/handlers"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/router"
)

func serve(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	riverClient, err := newRiverClient(a)
	if err != nil {
		return err
	}
	a.queue.Bind(riverClient)
	events, cancelEvents := riverClient.Subscribe(jobs.SubscribedKinds...)
	defer cancelEvents()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           newHTTPHandler(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	eg, groupCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		a.tracker.Run(groupCtx, events)
		return nil
	})
	eg.Go(func() error {
		if err := riverClient.Start(groupCtx); err != nil {
			return fmt.Errorf("start river: %w", err)
		}
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		<-groupCtx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		return riverClient.Stop(stopCtx)
	})
	eg.Go(func() error {
		logger.Info("http server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		logger.Info("grpc server started", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	eg.Go(func() error {
		<-groupCtx.Done()
		logger.Info("server stopping")
		healthSrv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newRiverClient(a *app) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	execution.Register(workers,
		execution.NewRefreshSegmentWorker(a.reconciler, a.policy, a.logger),
		execution.NewSweepWorker(a.segmentRepo, a.queue, a.cfg.Segments, a.logger),
		execution.NewExpirePointsWorker(a.ledger, a.policy, a.logger),
	)
	periodic, err := execution.PeriodicJobs(a.cfg.Segments.SweepInterval, a.cfg.Ledger.Expiry.Interval, a.policy)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(a.pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			jobs.QueueSegments:    {MaxWorkers: a.cfg.Queue.SegmentWorkers},
			jobs.QueueMaintenance: {MaxWorkers: 1},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		MaxAttempts:  a.policy.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	return client, nil
}

func newHTTPHandler(a *app) http.Handler {
	h := router.Handlers{
		Ledger:      &handlers.LedgerHandler{Ledger: a.ledger, Queue: a.queue, Logger: a.logger},
		Conversions: &handlers.ConversionHandler{Conversions: a.conversions, Logger: a.logger},
		Segments: &handlers.SegmentHandler{
			Segments: a.segments,
			Queue:    a.queue,
			Cache:    a.cache,
			CacheTTL: a.cfg.Redis.CacheTTL,
			Metrics:  a.metrics,
			Logger:   a.logger,
		},
		Customers: &handlers.CustomerHandler{Customers: a.customers, Logger: a.logger},
		Jobs:      &handlers.JobHandler{Jobs: a.jobRepo, Outcomes: a.tracker, Logger: a.logger},
	}
	mux := router.New(h, auth.NewService(a.cfg.Auth.JWTSecret), a.metrics.Registry, a.logger)

	return cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Cache"},
		AllowCredentials: true,
	}).Handler(mux)
}
