package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/auth"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/conversion"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/handlers"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

// --- ConversionService stub; only the rule routes are exercised. ---

type stubConversions struct{}

func (stubConversions) CalculateConversion(context.Context, int64, *uuid.UUID) (*conversion.Quote, error) {
	return nil, nil
}
func (stubConversions) Convert(context.Context, conversion.Request) (*conversion.Result, error) {
	return nil, nil
}
func (stubConversions) CreateRule(_ context.Context, r *models.ConversionRule) error {
	r.ID = uuid.New()
	return nil
}
func (stubConversions) SetRuleActive(context.Context, uuid.UUID, bool) (*models.ConversionRule, error) {
	return &models.ConversionRule{}, nil
}
func (stubConversions) ListRules(context.Context) ([]*models.ConversionRule, error) { return nil, nil }
func (stubConversions) ListHistory(context.Context, uuid.UUID, int) ([]*models.ConversionHistory, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	authSvc := auth.NewService("router-test-secret")
	logger := zap.NewNop()
	h := Handlers{
		Ledger:      &handlers.LedgerHandler{Logger: logger},
		Conversions: &handlers.ConversionHandler{Conversions: stubConversions{}, Logger: logger},
		Segments:    &handlers.SegmentHandler{Logger: logger},
		Customers:   &handlers.CustomerHandler{Logger: logger},
		Jobs:        &handlers.JobHandler{Logger: logger},
	}
	return New(h, authSvc, observability.NewMetrics().Registry, logger), authSvc
}

func token(t *testing.T, svc *auth.Service, role string) string {
	t.Helper()
	tok, err := svc.IssueToken("ops@loyalty", role, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return "Bearer " + tok
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestAPIRequiresToken(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/conversion-rules", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	r, authSvc := newTestRouter(t)
	body := `{"name":"base","points_per_coin":10}`

	cases := []struct {
		method, path, role string
		want               int
	}{
		{http.MethodGet, "/api/v1/conversion-rules", auth.RoleService, http.StatusOK},
		{http.MethodPost, "/api/v1/conversion-rules", auth.RoleService, http.StatusForbidden},
		{http.MethodPost, "/api/v1/conversion-rules", auth.RoleAdmin, http.StatusCreated},
		{http.MethodPost, "/api/v1/segments", auth.RoleService, http.StatusForbidden},
		{http.MethodDelete, "/api/v1/segments/" + uuid.NewString(), auth.RoleService, http.StatusForbidden},
		{http.MethodPost, "/api/v1/ledger/expirations", auth.RoleService, http.StatusForbidden},
	}
	for _, tc := range cases {
		var req *http.Request
		if tc.method == http.MethodPost {
			req = httptest.NewRequest(tc.method, tc.path, strings.NewReader(body))
		} else {
			req = httptest.NewRequest(tc.method, tc.path, nil)
		}
		req.Header.Set("Authorization", token(t, authSvc, tc.role))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s %s as %s: expected %d, got %d: %s", tc.method, tc.path, tc.role, tc.want, rec.Code, rec.Body.String())
		}
	}
}
