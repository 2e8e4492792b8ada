package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/auth"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

func migrate(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := db.Connect(c.Context, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer p.Close()
	return db.Migrate(c.Context, p, logger)
}

func expire(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := newApp(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	report, err := a.ledger.ExpirePoints(c.Context, time.Now().UTC())
	if err != nil {
		return err
	}
	logger.Info("expiration pass finished",
		zap.Int64("points", report.TotalPointsExpired),
		zap.Int("entries", report.TransactionCount),
		zap.Int("customers", report.CustomersAffected),
	)
	return nil
}

// refresh reconciles one segment, or every active segment with bounded
// parallelism, without going through the job queue.
func refresh(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	a, err := newApp(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var ids []uuid.UUID
	if raw := c.String("segment"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("segment: %w", err)
		}
		ids = append(ids, id)
	} else {
		list, err := a.segmentRepo.List(c.Context, models.SegmentActive)
		if err != nil {
			return err
		}
		for _, s := range list {
			ids = append(ids, s.ID)
		}
	}

	workers := cfg.Segments.RefreshWorkers
	if workers < 1 {
		workers = 1
	}
	p := pool.New().WithErrors().WithContext(c.Context).WithMaxGoroutines(workers)
	for _, id := range ids {
		p.Go(func(ctx context.Context) error {
			res, err := a.reconciler.ProcessSegment(ctx, id)
			if err != nil {
				return fmt.Errorf("segment %s: %w", id, err)
			}
			logger.Info("segment refreshed",
				zap.String("segment_id", id.String()),
				zap.Bool("skipped", res.Skipped),
				zap.Int("added", res.Added),
				zap.Int("removed", res.Removed),
				zap.Int("total", res.Total),
			)
			return nil
		})
	}
	return p.Wait()
}

func mintToken(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	tok, err := auth.NewService(cfg.Auth.JWTSecret).IssueToken(c.String("subject"), c.String("role"), c.Duration("ttl"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, tok)
	return nil
}
