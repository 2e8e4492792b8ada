package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/audit"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/config"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/db"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

var tracer = otel.Tracer("loyalty/ledger")

// CustomerStore is the balance side of the ledger. Every method taking a tx
// runs inside the caller's transaction.
type CustomerStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Customer, error)
	AdjustPoints(ctx context.Context, tx pgx.Tx, id uuid.UUID, delta int64) (int64, error)
}

type EntryStore interface {
	Insert(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.LedgerEntry, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status, note string) (*models.LedgerEntry, error)
	SoftDelete(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	List(ctx context.Context, f ListFilter) ([]*models.LedgerEntry, error)
	SumCompleted(ctx context.Context, customerID uuid.UUID) (int64, error)
	ListExpirable(ctx context.Context, q ExpiryQuery) ([]*models.LedgerEntry, error)
	// ExpirationOfForUpdate locks the expire entry compensating earnID. It
	// returns nil when the earn entry has not expired.
	ExpirationOfForUpdate(ctx context.Context, tx pgx.Tx, earnID uuid.UUID) (*models.LedgerEntry, error)
}

type IDSource interface {
	TransactionID() string
}

// RecordInput describes a new ledger entry. Status defaults to completed and
// TransactionID is generated when empty.
type RecordInput struct {
	CustomerID    uuid.UUID       `json:"customer_id"`
	Kind          string          `json:"kind"`
	Points        int64           `json:"points"`
	Status        string          `json:"status"`
	Source        string          `json:"source"`
	TransactionID string          `json:"transaction_id"`
	SpendAmount   decimal.Decimal `json:"spend_amount"`
	Metadata      json.RawMessage `json:"metadata"`
	Note          string          `json:"note"`
}

// BalanceCheck compares the stored balance with the sum over the log.
type BalanceCheck struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Stored     int64     `json:"stored"`
	Computed   int64     `json:"computed"`
	Consistent bool      `json:"consistent"`
}

type Service interface {
	RecordTransaction(ctx context.Context, in RecordInput) (*models.LedgerEntry, error)
	UpdateStatus(ctx context.Context, entryID uuid.UUID, status, note string) (*models.LedgerEntry, error)
	DeleteTransaction(ctx context.Context, entryID uuid.UUID) error
	GetEntry(ctx context.Context, entryID uuid.UUID) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, f ListFilter) ([]*models.LedgerEntry, error)
	Reconcile(ctx context.Context, customerID uuid.UUID) (*BalanceCheck, error)
	ExpirePoints(ctx context.Context, now time.Time) (*models.ExpirationReport, error)

	// PostTx records a completed entry inside tx. The caller must already
	// hold the customer row lock.
	PostTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

type service struct {
	tx        db.Transactor
	customers CustomerStore
	entries   EntryStore
	ids       IDSource
	audit     audit.Sink
	metrics   *observability.Metrics
	expiry    config.Expiry
	logger    *zap.Logger
}

func NewService(
	tx db.Transactor,
	customers CustomerStore,
	entries EntryStore,
	ids IDSource,
	sink audit.Sink,
	metrics *observability.Metrics,
	expiry config.Expiry,
	logger *zap.Logger,
) Service {
	if expiry.BatchSize <= 0 {
		expiry.BatchSize = 500
	}
	return &service{
		tx:        tx,
		customers: customers,
		entries:   entries,
		ids:       ids,
		audit:     sink,
		metrics:   metrics,
		expiry:    expiry,
		logger:    logger.Named("ledger"),
	}
}

var _ Service = (*service)(nil)

func validateInput(in *RecordInput) error {
	if in.CustomerID == uuid.Nil {
		return &models.ErrValidation{Field: "customer_id", Message: "is required"}
	}
	if !models.ValidEntryKind(in.Kind) {
		return &models.ErrValidation{Field: "kind", Message: "unknown kind " + in.Kind}
	}
	if in.Status == "" {
		in.Status = models.EntryCompleted
	}
	if !models.ValidEntryStatus(in.Status) {
		return &models.ErrValidation{Field: "status", Message: "unknown status " + in.Status}
	}
	switch in.Kind {
	case models.EntryAdjust, models.EntryTransfer:
		if in.Points == 0 {
			return &models.ErrValidation{Field: "points", Message: "must be non-zero"}
		}
	default:
		if in.Points <= 0 {
			return &models.ErrValidation{Field: "points", Message: "must be positive"}
		}
	}
	if in.SpendAmount.IsNegative() {
		return &models.ErrValidation{Field: "spend_amount", Message: "must not be negative"}
	}
	if len(in.Metadata) > 0 && !json.Valid(in.Metadata) {
		return &models.ErrValidation{Field: "metadata", Message: "must be valid JSON"}
	}
	return nil
}

func (s *service) RecordTransaction(ctx context.Context, in RecordInput) (*models.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "ledger.RecordTransaction")
	defer span.End()

	if err := validateInput(&in); err != nil {
		return nil, err
	}
	if in.TransactionID == "" {
		in.TransactionID = s.ids.TransactionID()
	}
	span.SetAttributes(
		attribute.String("customer_id", in.CustomerID.String()),
		attribute.String("kind", in.Kind),
	)

	entry := &models.LedgerEntry{
		CustomerID:    in.CustomerID,
		Kind:          in.Kind,
		Points:        in.Points,
		Status:        in.Status,
		Source:        in.Source,
		TransactionID: in.TransactionID,
		SpendAmount:   in.SpendAmount,
		Metadata:      in.Metadata,
		Note:          in.Note,
	}
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.customers.GetByIDForUpdate(ctx, tx, in.CustomerID); err != nil {
			return err
		}
		if err := s.entries.Insert(ctx, tx, entry); err != nil {
			return err
		}
		if entry.Status == models.EntryCompleted {
			if _, err := s.customers.AdjustPoints(ctx, tx, entry.CustomerID, entry.Delta()); err != nil {
				return err
			}
		}
		return nil
	})
	ev := audit.Event{Action: "ledger.record", TargetType: "ledger_entry", TargetID: entry.TransactionID}
	if err == nil {
		ev.TargetID = entry.ID.String()
		ev.After = entry
	}
	s.audit.Record(ctx, ev.Outcome(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.IncrLedgerEntry(entry.Kind, entry.Status)
	s.logger.Debug("ledger entry recorded",
		zap.String("entry_id", entry.ID.String()),
		zap.String("customer_id", entry.CustomerID.String()),
		zap.String("kind", entry.Kind),
		zap.Int64("points", entry.Points),
		zap.String("status", entry.Status),
	)
	return entry, nil
}

func (s *service) PostTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	e.Status = models.EntryCompleted
	if e.TransactionID == "" {
		e.TransactionID = s.ids.TransactionID()
	}
	if err := s.entries.Insert(ctx, tx, e); err != nil {
		return err
	}
	if _, err := s.customers.AdjustPoints(ctx, tx, e.CustomerID, e.Delta()); err != nil {
		return err
	}
	s.metrics.IncrLedgerEntry(e.Kind, e.Status)
	return nil
}

// balanceEffect returns the balance change for moving an entry from one
// status to another, or an ErrState when the move is not allowed.
func balanceEffect(e *models.LedgerEntry, to string) (int64, error) {
	from := e.Status
	switch {
	case from == models.EntryPending && to == models.EntryCompleted:
		return e.Delta(), nil
	case to == models.EntryCompleted:
		return 0, &models.ErrState{From: from, To: to, Reason: "only pending entries can complete"}
	case from == to:
		return 0, nil
	case from == models.EntryCompleted && to == models.EntryCancelled:
		return -e.Delta(), nil
	case from == models.EntryPending && (to == models.EntryFailed || to == models.EntryCancelled):
		return 0, nil
	case from == models.EntryFailed || from == models.EntryCancelled:
		return 0, &models.ErrState{From: from, To: to, Reason: "entry is terminal"}
	default:
		return 0, &models.ErrState{From: from, To: to, Reason: "completed entries can only be cancelled"}
	}
}

func (s *service) UpdateStatus(ctx context.Context, entryID uuid.UUID, status, note string) (*models.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "ledger.UpdateStatus")
	defer span.End()

	if !models.ValidEntryStatus(status) {
		return nil, &models.ErrValidation{Field: "status", Message: "unknown status " + status}
	}

	var before, after *models.LedgerEntry
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		current, err := s.entries.GetByIDForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return &models.ErrNotFound{Resource: "ledger entry", ID: entryID.String()}
		}
		before = current
		delta, err := balanceEffect(current, status)
		if err != nil {
			return err
		}
		// Cancelling an expired earn entry also cancels its expire entry, so
		// only the unexpired remainder leaves the balance.
		var expiration *models.LedgerEntry
		if current.Kind == models.EntryEarn && current.Status == models.EntryCompleted && status == models.EntryCancelled {
			expiration, err = s.entries.ExpirationOfForUpdate(ctx, tx, entryID)
			if err != nil {
				return err
			}
			switch {
			case expiration == nil:
			case expiration.Status != models.EntryCompleted || expiration.IsDeleted:
				expiration = nil
			default:
				delta -= expiration.Delta()
			}
		}
		if delta != 0 {
			// lock order: entry, then customer
			if _, err := s.customers.GetByIDForUpdate(ctx, tx, current.CustomerID); err != nil {
				return err
			}
			if _, err := s.customers.AdjustPoints(ctx, tx, current.CustomerID, delta); err != nil {
				return err
			}
		}
		if expiration != nil {
			if _, err := s.entries.UpdateStatus(ctx, tx, expiration.ID, models.EntryCancelled, "earn entry cancelled"); err != nil {
				return err
			}
		}
		if note == "" {
			note = current.Note
		}
		after, err = s.entries.UpdateStatus(ctx, tx, entryID, status, note)
		return err
	})
	s.audit.Record(ctx, audit.Event{
		Action:     "ledger.update_status",
		TargetType: "ledger_entry",
		TargetID:   entryID.String(),
		Before:     before,
		After:      after,
	}.Outcome(err))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("ledger entry status changed",
		zap.String("entry_id", entryID.String()),
		zap.String("from", before.Status),
		zap.String("to", after.Status),
	)
	return after, nil
}

func (s *service) DeleteTransaction(ctx context.Context, entryID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "ledger.DeleteTransaction")
	defer span.End()

	var before *models.LedgerEntry
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		current, err := s.entries.GetByIDForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return &models.ErrNotFound{Resource: "ledger entry", ID: entryID.String()}
		}
		before = current
		if current.Status == models.EntryCompleted {
			return &models.ErrState{From: current.Status, To: "deleted", Reason: "cancel the entry before deleting it"}
		}
		return s.entries.SoftDelete(ctx, tx, entryID)
	})
	s.audit.Record(ctx, audit.Event{
		Action:     "ledger.delete",
		TargetType: "ledger_entry",
		TargetID:   entryID.String(),
		Before:     before,
	}.Outcome(err))
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *service) GetEntry(ctx context.Context, entryID uuid.UUID) (*models.LedgerEntry, error) {
	e, err := s.entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.IsDeleted {
		return nil, &models.ErrNotFound{Resource: "ledger entry", ID: entryID.String()}
	}
	return e, nil
}

func (s *service) ListEntries(ctx context.Context, f ListFilter) ([]*models.LedgerEntry, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if _, err := s.customers.GetByID(ctx, f.CustomerID); err != nil {
		return nil, err
	}
	return s.entries.List(ctx, f)
}

func (s *service) Reconcile(ctx context.Context, customerID uuid.UUID) (*BalanceCheck, error) {
	c, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	sum, err := s.entries.SumCompleted(ctx, customerID)
	if err != nil {
		return nil, err
	}
	check := &BalanceCheck{
		CustomerID: customerID,
		Stored:     c.PointsBalance,
		Computed:   sum,
		Consistent: sum == c.PointsBalance,
	}
	if !check.Consistent {
		s.logger.Error("balance drift detected",
			zap.String("customer_id", customerID.String()),
			zap.Int64("stored", check.Stored),
			zap.Int64("computed", check.Computed),
		)
	}
	return check, nil
}
