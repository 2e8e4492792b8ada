package segments

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

// ---------------------------------------------------------------------------
// In-memory segment store implementing SegmentStore and MembershipStore,
// plus a transactor that restores a snapshot when the callback fails.
// ---------------------------------------------------------------------------

type memSegments struct {
	mu          sync.Mutex
	segments    map[uuid.UUID]*models.CustomerSegment
	members     map[uuid.UUID]map[uuid.UUID]models.SegmentMembership
	failRemove  bool
	removeCalls int
}

func newMemSegments() *memSegments {
	return &memSegments{
		segments: make(map[uuid.UUID]*models.CustomerSegment),
		members:  make(map[uuid.UUID]map[uuid.UUID]models.SegmentMembership),
	}
}

type segSnapshot struct {
	segments map[uuid.UUID]models.CustomerSegment
	members  map[uuid.UUID]map[uuid.UUID]models.SegmentMembership
}

func (m *memSegments) snapshot() segSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := segSnapshot{
		segments: make(map[uuid.UUID]models.CustomerSegment, len(m.segments)),
		members:  make(map[uuid.UUID]map[uuid.UUID]models.SegmentMembership, len(m.members)),
	}
	for id, seg := range m.segments {
		s.segments[id] = *seg
	}
	for id, set := range m.members {
		cp := make(map[uuid.UUID]models.SegmentMembership, len(set))
		for k, v := range set {
			cp[k] = v
		}
		s.members[id] = cp
	}
	return s
}

func (m *memSegments) restore(s segSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = make(map[uuid.UUID]*models.CustomerSegment, len(s.segments))
	for id, seg := range s.segments {
		cp := seg
		m.segments[id] = &cp
	}
	m.members = s.members
}

type memTx struct {
	mu    sync.Mutex
	store *memSegments
}

func (t *memTx) InTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

func (m *memSegments) Create(_ context.Context, s *models.CustomerSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.segments {
		if x.Name == s.Name {
			return &models.ErrConflict{Resource: "segment", Key: s.Name}
		}
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.segments[s.ID] = &cp
	return nil
}

func (m *memSegments) Update(_ context.Context, s *models.CustomerSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[s.ID]; !ok {
		return &models.ErrNotFound{Resource: "segment", ID: s.ID.String()}
	}
	cp := *s
	m.segments[s.ID] = &cp
	return nil
}

func (m *memSegments) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return &models.ErrNotFound{Resource: "segment", ID: id.String()}
	}
	delete(m.segments, id)
	delete(m.members, id)
	return nil
}

func (m *memSegments) GetByID(_ context.Context, id uuid.UUID) (*models.CustomerSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return nil, &models.ErrNotFound{Resource: "segment", ID: id.String()}
	}
	cp := *s
	return &cp, nil
}

func (m *memSegments) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.CustomerSegment, error) {
	return m.GetByID(ctx, id)
}

func (m *memSegments) List(_ context.Context, status string) ([]*models.CustomerSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CustomerSegment
	for _, s := range m.segments {
		if status == "" || s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memSegments) MemberIDs(_ context.Context, _ pgx.Tx, segmentID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id := range m.members[segmentID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memSegments) AddMembers(_ context.Context, _ pgx.Tx, segmentID uuid.UUID, matches []Match, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[segmentID]
	if set == nil {
		set = make(map[uuid.UUID]models.SegmentMembership)
		m.members[segmentID] = set
	}
	for _, mt := range matches {
		if _, dup := set[mt.CustomerID]; dup {
			return &models.ErrConflict{Resource: "membership", Key: mt.CustomerID.String()}
		}
		meta, _ := json.Marshal(mt.Metadata)
		set[mt.CustomerID] = models.SegmentMembership{SegmentID: segmentID, CustomerID: mt.CustomerID, AddedAt: at, Metadata: meta}
	}
	return nil
}

func (m *memSegments) RemoveMembers(_ context.Context, _ pgx.Tx, segmentID uuid.UUID, customerIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	if m.failRemove {
		return models.Infra("delete memberships", errors.New("connection reset"))
	}
	for _, id := range customerIDs {
		delete(m.members[segmentID], id)
	}
	return nil
}

func (m *memSegments) MarkRefreshed(_ context.Context, _ pgx.Tx, segmentID uuid.UUID, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.segments[segmentID]
	s.CustomerCount = count
	s.LastRefreshed = &at
	return nil
}

func (m *memSegments) ListMembers(_ context.Context, segmentID uuid.UUID, offset, limit int) ([]*models.SegmentMember, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.SegmentMember
	for _, ms := range m.members[segmentID] {
		all = append(all, &models.SegmentMember{CustomerID: ms.CustomerID, AddedAt: ms.AddedAt, Metadata: ms.Metadata})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CustomerID.String() < all[j].CustomerID.String() })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (m *memSegments) memberSet(segmentID uuid.UUID) map[uuid.UUID]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]bool{}
	for id := range m.members[segmentID] {
		out[id] = true
	}
	return out
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func seedSegment(t *testing.T, store *memSegments, status, criteria string) *models.CustomerSegment {
	t.Helper()
	s := &models.CustomerSegment{
		Name:                 "seg-" + uuid.NewString()[:8],
		Criteria:             json.RawMessage(criteria),
		Status:               status,
		AutoRefreshEnabled:   true,
		AutoRefreshFrequency: models.RefreshDaily,
	}
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed segment: %v", err)
	}
	return s
}

func newTestReconciler(store *memSegments, activity *stubActivity, profiles stubProfiles) *Reconciler {
	r := NewReconciler(&memTx{store: store}, store, newTestEvaluator(profiles, activity), observability.NewMetrics(), zap.NewNop())
	r.now = func() time.Time { return evalNow }
	return r
}

const minSpend1000 = `{"type":"transaction","min_spend":1000,"period":"last_90_days"}`

// ---------------------------------------------------------------------------
// 1. Scenario: membership contains only the eligible customer.
// ---------------------------------------------------------------------------

func TestProcessSegment_AddsEligibleOnly(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	activity := &stubActivity{entries: []*models.LedgerEntry{
		spendEntry(a, "1200", 30),
		spendEntry(b, "900", 30),
	}}
	store := newMemSegments()
	seg := seedSegment(t, store, models.SegmentActive, minSpend1000)
	r := newTestReconciler(store, activity, nil)

	res, err := r.ProcessSegment(context.Background(), seg.ID)
	if err != nil {
		t.Fatalf("ProcessSegment: %v", err)
	}
	if res.Added != 1 || res.Removed != 0 || res.Total != 1 {
		t.Errorf("result: got %+v, want added=1 removed=0 total=1", res)
	}
	members := store.memberSet(seg.ID)
	if len(members) != 1 || !members[a] {
		t.Errorf("members: got %v, want only %s", members, a)
	}
	got, _ := store.GetByID(context.Background(), seg.ID)
	if got.CustomerCount != 1 || got.LastRefreshed == nil || !got.LastRefreshed.Equal(evalNow) {
		t.Errorf("segment after refresh: count=%d last_refreshed=%v", got.CustomerCount, got.LastRefreshed)
	}
}

// ---------------------------------------------------------------------------
// 2. Removal and idempotence
// ---------------------------------------------------------------------------

func TestProcessSegment_RemovesNoLongerEligible(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	activity := &stubActivity{entries: []*models.LedgerEntry{
		spendEntry(a, "1200", 30),
		spendEntry(b, "1500", 30),
	}}
	store := newMemSegments()
	seg := seedSegment(t, store, models.SegmentActive, minSpend1000)
	r := newTestReconciler(store, activity, nil)
	ctx := context.Background()

	if _, err := r.ProcessSegment(ctx, seg.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// B's spend is reversed out of the window.
	activity.entries = activity.entries[:1]
	res, err := r.ProcessSegment(ctx, seg.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Added != 0 || res.Removed != 1 || res.Total != 1 {
		t.Errorf("result: got %+v, want added=0 removed=1 total=1", res)
	}
	if members := store.memberSet(seg.ID); members[b] || !members[a] {
		t.Errorf("members after removal: %v", members)
	}
}

func TestProcessSegment_Idempotent(t *testing.T) {
	a := uuid.New()
	activity := &stubActivity{entries: []*models.LedgerEntry{spendEntry(a, "2000", 1)}}
	store := newMemSegments()
	seg := seedSegment(t, store, models.SegmentActive, minSpend1000)
	r := newTestReconciler(store, activity, nil)
	ctx := context.Background()

	if _, err := r.ProcessSegment(ctx, seg.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := r.ProcessSegment(ctx, seg.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Added != 0 || res.Removed != 0 || res.Total != 1 {
		t.Errorf("rerun should change nothing, got %+v", res)
	}
}

// ---------------------------------------------------------------------------
// 3. Inactive segments and failures
// ---------------------------------------------------------------------------

func TestProcessSegment_SkipsInactive(t *testing.T) {
	a := uuid.New()
	activity := &stubActivity{entries: []*models.LedgerEntry{spendEntry(a, "2000", 1)}}
	store := newMemSegments()
	ctx := context.Background()
	r := newTestReconciler(store, activity, nil)

	for _, status := range []string{models.SegmentDraft, models.SegmentInactive} {
		seg := seedSegment(t, store, status, minSpend1000)
		res, err := r.ProcessSegment(ctx, seg.ID)
		if err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		if !res.Skipped {
			t.Errorf("%s: expected skipped result", status)
		}
		if n := len(store.memberSet(seg.ID)); n != 0 {
			t.Errorf("%s: members written for a non-active segment: %d", status, n)
		}
	}
	if len(activity.queries) != 0 {
		t.Error("criteria should not be evaluated for non-active segments")
	}
}

func TestProcessSegment_FailureRollsBack(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	activity := &stubActivity{entries: []*models.LedgerEntry{spendEntry(a, "1200", 1)}}
	store := newMemSegments()
	seg := seedSegment(t, store, models.SegmentActive, minSpend1000)
	r := newTestReconciler(store, activity, nil)
	ctx := context.Background()

	if _, err := r.ProcessSegment(ctx, seg.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// B becomes eligible and A drops out, but the removal fails.
	activity.entries = []*models.LedgerEntry{spendEntry(b, "1300", 1)}
	store.failRemove = true
	_, err := r.ProcessSegment(ctx, seg.ID)
	if models.KindOf(err) != models.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}

	members := store.memberSet(seg.ID)
	if len(members) != 1 || !members[a] {
		t.Errorf("failed run must leave membership untouched, got %v", members)
	}
	got, _ := store.GetByID(ctx, seg.ID)
	if got.CustomerCount != 1 {
		t.Errorf("customer_count after failed run: got %d, want 1", got.CustomerCount)
	}
}

func TestProcessSegment_UnknownSegment(t *testing.T) {
	r := newTestReconciler(newMemSegments(), &stubActivity{}, nil)
	_, err := r.ProcessSegment(context.Background(), uuid.New())
	var nf *models.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessSegment_ConcurrentRunsConverge(t *testing.T) {
	store := newMemSegments()
	var entries []*models.LedgerEntry
	for i := 0; i < 20; i++ {
		entries = append(entries, spendEntry(uuid.New(), "1000", 2))
	}
	seg := seedSegment(t, store, models.SegmentActive, minSpend1000)
	r := newTestReconciler(store, &stubActivity{entries: entries}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.ProcessSegment(context.Background(), seg.ID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent run: %v", err)
	}
	if n := len(store.memberSet(seg.ID)); n != 20 {
		t.Errorf("members: got %d, want 20", n)
	}
}
