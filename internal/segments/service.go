package segments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/audit"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/jobs"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

type SegmentStore interface {
	Create(ctx context.Context, s *models.CustomerSegment) error
	Update(ctx context.Context, s *models.CustomerSegment) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CustomerSegment, error)
	List(ctx context.Context, status string) ([]*models.CustomerSegment, error)
	ListMembers(ctx context.Context, segmentID uuid.UUID, offset, limit int) ([]*models.SegmentMember, int, error)
}

type RefreshEnqueuer interface {
	EnqueueSegmentRefresh(ctx context.Context, segmentID uuid.UUID, reason string) (*jobs.Ticket, error)
}

// SegmentInput creates a segment. Status defaults to draft and the refresh
// frequency to daily.
type SegmentInput struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Criteria             json.RawMessage `json:"criteria"`
	Status               string          `json:"status"`
	AutoRefreshEnabled   bool            `json:"auto_refresh_enabled"`
	AutoRefreshFrequency string          `json:"auto_refresh_frequency"`
}

// SegmentPatch updates only the fields that are set.
type SegmentPatch struct {
	Name                 *string         `json:"name,omitempty"`
	Description          *string         `json:"description,omitempty"`
	Criteria             json.RawMessage `json:"criteria,omitempty"`
	Status               *string         `json:"status,omitempty"`
	AutoRefreshEnabled   *bool           `json:"auto_refresh_enabled,omitempty"`
	AutoRefreshFrequency *string         `json:"auto_refresh_frequency,omitempty"`
}

// Saved is returned by create and update. Refresh is set when a
// reconciliation job was queued for the segment.
type Saved struct {
	Segment *models.CustomerSegment `json:"segment"`
	Refresh *jobs.Ticket            `json:"refresh,omitempty"`
}

type MemberPage struct {
	Members []*models.SegmentMember `json:"members"`
	Total   int                     `json:"total"`
	Page    int                     `json:"page"`
	Limit   int                     `json:"limit"`
}

type Service struct {
	store      SegmentStore
	reconciler *Reconciler
	queue      RefreshEnqueuer
	audit      audit.Sink
	logger     *zap.Logger
}

func NewService(store SegmentStore, reconciler *Reconciler, queue RefreshEnqueuer, sink audit.Sink, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		reconciler: reconciler,
		queue:      queue,
		audit:      sink,
		logger:     logger.Named("segments"),
	}
}

func validateSegment(s *models.CustomerSegment) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return &models.ErrValidation{Field: "name", Message: "is required"}
	}
	if len(s.Name) > 100 {
		return &models.ErrValidation{Field: "name", Message: "must be at most 100 characters"}
	}
	switch s.Status {
	case models.SegmentDraft, models.SegmentActive, models.SegmentInactive:
	default:
		return &models.ErrValidation{Field: "status", Message: "unknown status " + s.Status}
	}
	switch s.AutoRefreshFrequency {
	case models.RefreshHourly, models.RefreshDaily, models.RefreshWeekly:
	default:
		return &models.ErrValidation{Field: "auto_refresh_frequency", Message: "must be hourly, daily or weekly"}
	}
	c, err := ParseCriteria(s.Criteria)
	if err != nil {
		return err
	}
	// store the normalized form so defaults are explicit
	s.Criteria, err = MarshalCriteria(c)
	return err
}

func (s *Service) CreateSegment(ctx context.Context, in SegmentInput) (*Saved, error) {
	seg := &models.CustomerSegment{
		Name:                 in.Name,
		Description:          in.Description,
		Criteria:             in.Criteria,
		Status:               in.Status,
		AutoRefreshEnabled:   in.AutoRefreshEnabled,
		AutoRefreshFrequency: in.AutoRefreshFrequency,
	}
	if seg.Status == "" {
		seg.Status = models.SegmentDraft
	}
	if seg.AutoRefreshFrequency == "" {
		seg.AutoRefreshFrequency = models.RefreshDaily
	}
	if err := validateSegment(seg); err != nil {
		return nil, err
	}

	err := s.store.Create(ctx, seg)
	s.audit.Record(ctx, audit.Event{
		Action:     "segment.create",
		TargetType: "segment",
		TargetID:   seg.ID.String(),
		After:      seg,
	}.Outcome(err))
	if err != nil {
		return nil, err
	}
	return s.scheduleIfActive(ctx, seg, "created")
}

func (s *Service) UpdateSegment(ctx context.Context, id uuid.UUID, patch SegmentPatch) (*Saved, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *current
	seg := current
	if patch.Name != nil {
		seg.Name = *patch.Name
	}
	if patch.Description != nil {
		seg.Description = *patch.Description
	}
	if len(patch.Criteria) > 0 {
		seg.Criteria = patch.Criteria
	}
	if patch.Status != nil {
		seg.Status = *patch.Status
	}
	if patch.AutoRefreshEnabled != nil {
		seg.AutoRefreshEnabled = *patch.AutoRefreshEnabled
	}
	if patch.AutoRefreshFrequency != nil {
		seg.AutoRefreshFrequency = *patch.AutoRefreshFrequency
	}
	if err := validateSegment(seg); err != nil {
		return nil, err
	}

	err = s.store.Update(ctx, seg)
	s.audit.Record(ctx, audit.Event{
		Action:     "segment.update",
		TargetType: "segment",
		TargetID:   id.String(),
		Before:     &before,
		After:      seg,
	}.Outcome(err))
	if err != nil {
		return nil, err
	}
	return s.scheduleIfActive(ctx, seg, "updated")
}

// scheduleIfActive queues a refresh for an active segment. A queue failure is
// reported with the saved segment since the segment itself was stored.
func (s *Service) scheduleIfActive(ctx context.Context, seg *models.CustomerSegment, reason string) (*Saved, error) {
	saved := &Saved{Segment: seg}
	if seg.Status != models.SegmentActive {
		return saved, nil
	}
	ticket, err := s.queue.EnqueueSegmentRefresh(ctx, seg.ID, reason)
	if err != nil {
		s.logger.Error("enqueue segment refresh",
			zap.String("segment_id", seg.ID.String()),
			zap.Error(err),
		)
		return saved, models.Infra("enqueue segment refresh", err)
	}
	saved.Refresh = ticket
	return saved, nil
}

func (s *Service) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	before, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, id)
	s.audit.Record(ctx, audit.Event{
		Action:     "segment.delete",
		TargetType: "segment",
		TargetID:   id.String(),
		Before:     before,
	}.Outcome(err))
	return err
}

func (s *Service) GetSegment(ctx context.Context, id uuid.UUID) (*models.CustomerSegment, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListSegments(ctx context.Context, status string) ([]*models.CustomerSegment, error) {
	return s.store.List(ctx, status)
}

// RefreshSegment reconciles the segment synchronously.
func (s *Service) RefreshSegment(ctx context.Context, id uuid.UUID) (*models.RefreshResult, error) {
	res, err := s.reconciler.ProcessSegment(ctx, id)
	s.audit.Record(ctx, audit.Event{
		Action:     "segment.refresh",
		TargetType: "segment",
		TargetID:   id.String(),
		After:      res,
	}.Outcome(err))
	return res, err
}

// GetSegmentCustomers pages through a segment's members, newest first.
// page is 1-based; limit is clamped to 1..200.
func (s *Service) GetSegmentCustomers(ctx context.Context, id uuid.UUID, page, limit int) (*MemberPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	members, total, err := s.store.ListMembers(ctx, id, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []*models.SegmentMember{}
	}
	return &MemberPage{Members: members, Total: total, Page: page, Limit: limit}, nil
}
