package conversion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/audit"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

// ---------------------------------------------------------------------------
// In-memory bank: customers, history and ledger entries behind one mutex,
// with snapshot/restore so a failed transaction leaves no trace.
// ---------------------------------------------------------------------------

type mockBank struct {
	mu        sync.Mutex
	customers map[uuid.UUID]models.Customer
	history   []models.ConversionHistory
	entries   []models.LedgerEntry
	failOn    string
}

func newMockBank(cs ...*models.Customer) *mockBank {
	b := &mockBank{customers: make(map[uuid.UUID]models.Customer)}
	for _, c := range cs {
		b.customers[c.ID] = *c
	}
	return b
}

func (b *mockBank) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Customer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.customers[id]
	if !ok {
		return nil, &models.ErrNotFound{Resource: "customer", ID: id.String()}
	}
	return &c, nil
}

func (b *mockBank) AddCoins(_ context.Context, _ pgx.Tx, id uuid.UUID, coins int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn == "coins" {
		return 0, models.Infra("add coins", errors.New("connection reset"))
	}
	c := b.customers[id]
	c.CoinBalance += coins
	b.customers[id] = c
	return c.CoinBalance, nil
}

func (b *mockBank) InsertHistory(_ context.Context, _ pgx.Tx, h *models.ConversionHistory) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn == "history" {
		return models.Infra("insert conversion history", errors.New("connection reset"))
	}
	h.ID = uuid.New()
	h.CreatedAt = time.Now()
	b.history = append(b.history, *h)
	return nil
}

func (b *mockBank) ListHistory(_ context.Context, customerID uuid.UUID, limit int) ([]*models.ConversionHistory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.ConversionHistory
	for i := range b.history {
		if b.history[i].CustomerID == customerID && len(out) < limit {
			h := b.history[i]
			out = append(out, &h)
		}
	}
	return out, nil
}

func (b *mockBank) PostTx(_ context.Context, _ pgx.Tx, e *models.LedgerEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.customers[e.CustomerID]
	if c.PointsBalance+e.Delta() < 0 {
		return &models.ErrInsufficientFunds{Available: c.PointsBalance, Required: e.Points}
	}
	c.PointsBalance += e.Delta()
	b.customers[e.CustomerID] = c
	e.Status = models.EntryCompleted
	b.entries = append(b.entries, *e)
	return nil
}

func (b *mockBank) customer(id uuid.UUID) models.Customer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.customers[id]
}

type bankTx struct {
	mu   sync.Mutex
	bank *mockBank
}

func (t *bankTx) InTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bank.mu.Lock()
	customers := make(map[uuid.UUID]models.Customer, len(t.bank.customers))
	for k, v := range t.bank.customers {
		customers[k] = v
	}
	history := append([]models.ConversionHistory(nil), t.bank.history...)
	entries := append([]models.LedgerEntry(nil), t.bank.entries...)
	t.bank.mu.Unlock()

	if err := fn(nil); err != nil {
		t.bank.mu.Lock()
		t.bank.customers, t.bank.history, t.bank.entries = customers, history, entries
		t.bank.mu.Unlock()
		return err
	}
	return nil
}

type mockRules struct {
	rules []*models.ConversionRule
}

func (m *mockRules) CreateRule(_ context.Context, r *models.ConversionRule) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	m.rules = append(m.rules, r)
	return nil
}

func (m *mockRules) SetRuleActive(_ context.Context, id uuid.UUID, active bool) (*models.ConversionRule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			r.IsActive = active
			return r, nil
		}
	}
	return nil, &models.ErrNotFound{Resource: "conversion rule", ID: id.String()}
}

func (m *mockRules) GetRule(_ context.Context, id uuid.UUID) (*models.ConversionRule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, &models.ErrNotFound{Resource: "conversion rule", ID: id.String()}
}

func (m *mockRules) ListActiveRules(_ context.Context, now time.Time) ([]*models.ConversionRule, error) {
	var out []*models.ConversionRule
	for _, r := range m.rules {
		if r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRules) ListRules(context.Context) ([]*models.ConversionRule, error) {
	return m.rules, nil
}

type seqRefs struct {
	mu sync.Mutex
	n  int
}

func (s *seqRefs) ConversionRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("CNV-%d", s.n)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func activeRule(rate, bonus, minPoints, maxPoints int64) *models.ConversionRule {
	return &models.ConversionRule{
		ID:              uuid.New(),
		Name:            "standard",
		PointsPerCoin:   rate,
		BonusPercentage: bonus,
		MinPoints:       minPoints,
		MaxPoints:       maxPoints,
		IsActive:        true,
		StartDate:       fixedNow.AddDate(0, -1, 0),
		CreatedAt:       fixedNow.AddDate(0, -1, 0),
	}
}

func newTestService(bank *mockBank, rules ...*models.ConversionRule) *Service {
	svc := NewService(&bankTx{bank: bank}, &mockRules{rules: rules}, bank, bank, bank, &seqRefs{},
		audit.Nop, observability.NewMetrics(), zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func custWithPoints(points int64) *models.Customer {
	return &models.Customer{ID: uuid.New(), Status: models.CustomerStatusActive, PointsBalance: points}
}

// ---------------------------------------------------------------------------
// Convert
// ---------------------------------------------------------------------------

// Rule 10 points/coin, 20% bonus; balance 1500; convert 1000.
func TestConvert_AppliesBonusAndMovesBalances(t *testing.T) {
	c := custWithPoints(1500)
	bank := newMockBank(c)
	svc := newTestService(bank, activeRule(10, 20, 100, 5000))

	res, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 1000})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	h := res.Conversion
	if h.BaseCoins != 100 || h.BonusCoins != 20 || h.TotalCoins != 120 {
		t.Errorf("conversion = %+v", h)
	}
	got := bank.customer(c.ID)
	if got.PointsBalance != 500 || got.CoinBalance != 120 {
		t.Errorf("balances = %d points, %d coins; want 500, 120", got.PointsBalance, got.CoinBalance)
	}
	if res.PointsBalance != 500 || res.CoinBalance != 120 {
		t.Errorf("result balances = %+v", res)
	}
	if len(bank.history) != 1 {
		t.Fatalf("history rows = %d", len(bank.history))
	}
	if len(bank.entries) != 1 || bank.entries[0].Kind != models.EntryRedeem || bank.entries[0].TransactionID != h.Reference {
		t.Errorf("ledger entries = %+v", bank.entries)
	}
}

func TestConvert_InsufficientPointsChangesNothing(t *testing.T) {
	c := custWithPoints(50)
	bank := newMockBank(c)
	svc := newTestService(bank, activeRule(10, 0, 0, 0))

	_, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 100})
	var fe *models.ErrInsufficientFunds
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want insufficient funds", err)
	}
	got := bank.customer(c.ID)
	if got.PointsBalance != 50 || got.CoinBalance != 0 || len(bank.history) != 0 {
		t.Errorf("state changed: %+v history=%d", got, len(bank.history))
	}
}

func TestConvert_LimitBoundaries(t *testing.T) {
	rule := activeRule(10, 0, 100, 1000)
	for _, tc := range []struct {
		points int64
		ok     bool
	}{
		{100, true}, {1000, true}, {99, false}, {1001, false},
	} {
		c := custWithPoints(5000)
		bank := newMockBank(c)
		svc := newTestService(bank, rule)
		_, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: tc.points})
		if tc.ok && err != nil {
			t.Errorf("points=%d: %v", tc.points, err)
		}
		if !tc.ok && models.KindOf(err) != models.KindValidation {
			t.Errorf("points=%d: err = %v, want validation", tc.points, err)
		}
	}
}

func TestConvert_RuleResolution(t *testing.T) {
	c := custWithPoints(10_000)

	t.Run("no active rule", func(t *testing.T) {
		inactive := activeRule(10, 0, 0, 0)
		inactive.IsActive = false
		svc := newTestService(newMockBank(c), inactive)
		_, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 100})
		if models.KindOf(err) != models.KindNotFound {
			t.Errorf("err = %v, want not_found", err)
		}
	})

	t.Run("pinned rule must exist", func(t *testing.T) {
		svc := newTestService(newMockBank(c), activeRule(10, 0, 0, 0))
		missing := uuid.New()
		_, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 100, RuleID: &missing})
		if models.KindOf(err) != models.KindNotFound {
			t.Errorf("err = %v, want not_found", err)
		}
	})

	t.Run("pinned rule must be active", func(t *testing.T) {
		expired := activeRule(10, 0, 0, 0)
		end := fixedNow.Add(-time.Minute)
		expired.EndDate = &end
		svc := newTestService(newMockBank(c), expired)
		_, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 100, RuleID: &expired.ID})
		if models.KindOf(err) != models.KindValidation {
			t.Errorf("err = %v, want validation", err)
		}
	})

	t.Run("highest priority wins", func(t *testing.T) {
		base := activeRule(10, 0, 0, 0)
		promo := activeRule(5, 0, 0, 0)
		promo.Priority = 10
		bank := newMockBank(c)
		svc := newTestService(bank, base, promo)
		res, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 100})
		if err != nil {
			t.Fatal(err)
		}
		if res.Conversion.RuleID != promo.ID || res.Conversion.TotalCoins != 20 {
			t.Errorf("conversion = %+v", res.Conversion)
		}
	})
}

func TestConvert_FailureMidTransactionRollsBack(t *testing.T) {
	for _, step := range []string{"history", "coins"} {
		t.Run(step, func(t *testing.T) {
			c := custWithPoints(1000)
			bank := newMockBank(c)
			bank.failOn = step
			svc := newTestService(bank, activeRule(10, 0, 0, 0))

			_, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 500})
			if models.KindOf(err) != models.KindInfrastructure {
				t.Fatalf("err = %v, want infrastructure", err)
			}
			got := bank.customer(c.ID)
			if got.PointsBalance != 1000 || got.CoinBalance != 0 {
				t.Errorf("balances changed: %+v", got)
			}
			if len(bank.history) != 0 || len(bank.entries) != 0 {
				t.Errorf("rows left behind: history=%d entries=%d", len(bank.history), len(bank.entries))
			}
		})
	}
}

func TestConvert_ConcurrentConversionsNeverOverspend(t *testing.T) {
	c := custWithPoints(1000)
	bank := newMockBank(c)
	svc := newTestService(bank, activeRule(10, 0, 0, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Convert(context.Background(), Request{CustomerID: c.ID, Points: 300}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", succeeded)
	}
	got := bank.customer(c.ID)
	if got.PointsBalance != 100 || got.CoinBalance != 90 {
		t.Errorf("balances = %+v", got)
	}
}

func TestCalculateConversion_NoSideEffects(t *testing.T) {
	c := custWithPoints(1500)
	bank := newMockBank(c)
	svc := newTestService(bank, activeRule(10, 20, 100, 5000))

	q, err := svc.CalculateConversion(context.Background(), 1000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if q.Calculation.TotalCoins != 120 {
		t.Errorf("quote = %+v", q.Calculation)
	}
	if got := bank.customer(c.ID); got.PointsBalance != 1500 || len(bank.history) != 0 {
		t.Error("quote must not mutate state")
	}
}

func TestCreateRule_DefaultsStartAndValidates(t *testing.T) {
	svc := newTestService(newMockBank())
	rule := &models.ConversionRule{Name: "launch", PointsPerCoin: 8, IsActive: true}
	if err := svc.CreateRule(context.Background(), rule); err != nil {
		t.Fatal(err)
	}
	if !rule.StartDate.Equal(fixedNow) {
		t.Errorf("start = %v", rule.StartDate)
	}
	if err := svc.CreateRule(context.Background(), &models.ConversionRule{Name: "bad"}); models.KindOf(err) != models.KindValidation {
		t.Errorf("err = %v", err)
	}
}
