package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servicehub/internal/auth"
	"github.com/hitoshi/servicehub/internal/model"
)

// mockIdentityLookup はセッションIDごとの認証主体を返すIdentityLookup。
type mockIdentityLookup struct {
	identities map[string]*model.Identity
	err        error
}

func (m *mockIdentityLookup) FindIdentityBySessionID(ctx context.Context, sessionID string) (*model.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.identities[sessionID], nil
}

func newIntegrationRouter(lookup *mockIdentityLookup) chi.Router {
	resolver := auth.NewSessionResolver(lookup, 0, nil)
	csrfConfig := CSRFConfig{}

	r := chi.NewRouter()
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(resolver))
		r.Use(NewCSRFMiddleware(csrfConfig))
		r.Post("/role-selection", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(NewGuardMiddleware(resolver, newTestGuard(), nil))
		r.Use(NewCSRFMiddleware(csrfConfig))
		r.Get("/dashboard/admin", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Put("/api/admin/users/{id}/role", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"actor_id": userID, "target": chi.URLParam(r, "id")})
		})
	})
	return r
}

func TestRouterIntegration_GuardAndCSRF(t *testing.T) {
	captureDefaultLogger(t)
	lookup := &mockIdentityLookup{identities: map[string]*model.Identity{
		"admin-session":   {ID: "admin-1", Role: model.RolePtr(model.RoleAdmin), Status: model.StatusActive},
		"client-session":  {ID: "client-1", Role: model.RolePtr(model.RoleClient), Status: model.StatusActive},
		"pending-session": {ID: "pending-1", Status: model.StatusPending},
		"suspended":       {ID: "sus-1", Role: model.RolePtr(model.RoleAdmin), Status: model.StatusSuspended},
	}}
	r := newIntegrationRouter(lookup)

	tests := []struct {
		name         string
		method       string
		path         string
		session      string
		csrf         bool
		wantStatus   int
		wantLocation string
	}{
		{"管理者はダッシュボードに到達", http.MethodGet, "/dashboard/admin", "admin-session", false, http.StatusOK, ""},
		{"クライアントは拒否", http.MethodGet, "/dashboard/admin", "client-session", false, http.StatusSeeOther, "/unauthorized"},
		{"ロール未選択はロール選択へ", http.MethodGet, "/dashboard/admin", "pending-session", false, http.StatusSeeOther, "/role-selection"},
		{"停止中アカウントはサインインへ", http.MethodGet, "/dashboard/admin", "suspended", false, http.StatusSeeOther, "/signin?from=%2Fdashboard%2Fadmin"},
		{"不明なセッションはサインインへ", http.MethodGet, "/dashboard/admin", "unknown", false, http.StatusSeeOther, "/signin?from=%2Fdashboard%2Fadmin"},
		{"管理APIはCSRFトークン付きで通過", http.MethodPut, "/api/admin/users/u1/role", "admin-session", true, http.StatusOK, ""},
		{"管理APIはCSRFトークンなしで403", http.MethodPut, "/api/admin/users/u1/role", "admin-session", false, http.StatusForbidden, ""},
		{"未認証の管理APIは401（CSRFより先に判定）", http.MethodPut, "/api/admin/users/u1/role", "", false, http.StatusUnauthorized, ""},
		{"ロール未選択でもロール選択は可能", http.MethodPost, "/role-selection", "pending-session", true, http.StatusNoContent, ""},
		{"未認証のロール選択はサインインへ", http.MethodPost, "/role-selection", "", true, http.StatusSeeOther, "/signin?from=%2Frole-selection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.session != "" {
				req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: tt.session})
			}
			if tt.csrf {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
				req.Header.Set(csrfHeaderName, "tok")
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}

func TestRouterIntegration_StoreUnavailable_FailsClosed(t *testing.T) {
	buf := captureDefaultLogger(t)
	r := newIntegrationRouter(&mockIdentityLookup{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/dashboard/admin", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "admin-session"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/signin?from=%2Fdashboard%2Fadmin" {
		t.Errorf("Location = %q", got)
	}
	if !hasLogLine(t, buf, "ERROR", "failed to resolve session") {
		t.Errorf("expected ERROR log, got:\n%s", buf.String())
	}
}

func TestRouterIntegration_BearerToken(t *testing.T) {
	captureDefaultLogger(t)
	r := newIntegrationRouter(&mockIdentityLookup{identities: map[string]*model.Identity{
		"admin-token": {ID: "admin-1", Role: model.RolePtr(model.RoleAdmin), Status: model.StatusActive},
	}})

	req := httptest.NewRequest(http.MethodPut, "/api/admin/users/u9/role", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["actor_id"] != "admin-1" || body["target"] != "u9" {
		t.Errorf("body = %v", body)
	}
}

func TestRouterIntegration_CSRFTokenEndpoint(t *testing.T) {
	r := newIntegrationRouter(&mockIdentityLookup{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}
