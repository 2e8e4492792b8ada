package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/audit"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/auth"
)

// okHandler writes 200 and the audit actor (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(audit.ActorFrom(r.Context())))
})

func token(t *testing.T, svc *auth.Service, subject, role string) string {
	t.Helper()
	tok, err := svc.IssueToken(subject, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func TestAuthenticate_ValidToken(t *testing.T) {
	svc := auth.NewService("secret")
	mw := Authenticate(svc)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, svc, "crm-sync", auth.RoleService))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != "crm-sync" {
		t.Errorf("audit actor: got %q, want crm-sync", body)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	mw := Authenticate(auth.NewService("secret"))(okHandler)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	mw := Authenticate(auth.NewService("secret"))(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, auth.NewService("other"), "x", auth.RoleAdmin))
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	svc := auth.NewService("secret")
	mw := Authenticate(svc)(RequireAdmin(okHandler))

	for role, want := range map[string]int{auth.RoleAdmin: http.StatusOK, auth.RoleService: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, svc, "u", role))
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: expected %d, got %d", role, want, rec.Code)
		}
	}
}
