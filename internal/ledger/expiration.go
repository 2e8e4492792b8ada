package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

// ExpirePoints compensates every earn entry past its expiry window with an
// expire entry. An earn entry is compensated at most once, so re-running the
// pass after a partial failure only finishes the remaining entries.
func (s *service) ExpirePoints(ctx context.Context, now time.Time) (*models.ExpirationReport, error) {
	ctx, span := tracer.Start(ctx, "ledger.ExpirePoints")
	defer span.End()

	q := ExpiryQuery{
		DefaultCutoff: now.Add(-s.expiry.DefaultWindow),
		TierCutoffs:   make(map[string]time.Time, len(s.expiry.TierWindows)),
		Limit:         s.expiry.BatchSize,
	}
	for tier, window := range s.expiry.TierWindows {
		q.TierCutoffs[tier] = now.Add(-window)
	}

	report := &models.ExpirationReport{}
	customers := make(map[string]struct{})
	for {
		batch, err := s.entries.ListExpirable(ctx, q)
		if err != nil {
			span.RecordError(err)
			return report, err
		}
		if len(batch) == 0 {
			break
		}
		for _, earn := range batch {
			expired, err := s.expireEntry(ctx, earn)
			if err != nil {
				span.RecordError(err)
				return report, fmt.Errorf("expire entry %s: %w", earn.ID, err)
			}
			if expired > 0 {
				report.TotalPointsExpired += expired
				report.TransactionCount++
				customers[earn.CustomerID.String()] = struct{}{}
			}
		}
		if len(batch) < q.Limit {
			break
		}
	}
	report.CustomersAffected = len(customers)

	s.metrics.AddPointsExpired(report.TotalPointsExpired)
	s.logger.Info("expiration pass finished",
		zap.Int64("points_expired", report.TotalPointsExpired),
		zap.Int("transactions", report.TransactionCount),
		zap.Int("customers", report.CustomersAffected),
	)
	return report, nil
}

// expireEntry writes the compensating entry for one earn entry. The amount is
// capped at the current balance; a zero-point marker is still written so the
// earn entry is never reconsidered. Entries cancelled or deleted since the
// scan are skipped.
func (s *service) expireEntry(ctx context.Context, listed *models.LedgerEntry) (int64, error) {
	var expired int64
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		// lock order: entry, then customer
		earn, err := s.entries.GetByIDForUpdate(ctx, tx, listed.ID)
		if err != nil {
			return err
		}
		if earn.Status != models.EntryCompleted || earn.IsDeleted {
			return nil
		}
		c, err := s.customers.GetByIDForUpdate(ctx, tx, earn.CustomerID)
		if err != nil {
			return err
		}
		expired = min(earn.Points, c.PointsBalance)
		earnID := earn.ID
		meta, _ := json.Marshal(map[string]any{
			"earn_transaction_id": earn.TransactionID,
			"earned_at":           earn.CreatedAt,
			"earned_points":       earn.Points,
		})
		entry := &models.LedgerEntry{
			CustomerID:     earn.CustomerID,
			Kind:           models.EntryExpire,
			Points:         expired,
			Status:         models.EntryCompleted,
			Source:         "expiration",
			TransactionID:  s.ids.TransactionID(),
			Metadata:       meta,
			Note:           "points expired",
			ExpiresEntryID: &earnID,
		}
		if err := s.entries.Insert(ctx, tx, entry); err != nil {
			return err
		}
		if expired > 0 {
			if _, err := s.customers.AdjustPoints(ctx, tx, earn.CustomerID, -expired); err != nil {
				return err
			}
		}
		return nil
	})
	var conflict *models.ErrConflict
	if errors.As(err, &conflict) {
		// another pass compensated it first
		return 0, nil
	}
	return expired, err
}
