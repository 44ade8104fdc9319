package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/servicehub/internal/auth"
	"github.com/hitoshi/servicehub/internal/middleware"
	"github.com/hitoshi/servicehub/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func testAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{
		BaseURL:       "http://localhost:3000",
		SessionMaxAge: 86400,
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrorBody(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"空", "", DefaultReturnPath},
		{"相対パス", "/dashboard/admin", "/dashboard/admin"},
		{"クエリ付き", "/dashboard/client?tab=1", "/dashboard/client?tab=1"},
		{"絶対URL", "https://evil.example/x", DefaultReturnPath},
		{"プロトコル相対", "//evil.example/x", DefaultReturnPath},
		{"バックスラッシュ", "/\\evil.example", DefaultReturnPath},
		{"スラッシュなし", "dashboard", DefaultReturnPath},
		{"サインイン自身", "/signin", DefaultReturnPath},
		{"OAuthパス", "/auth/google/login", DefaultReturnPath},
		{"改行", "/dashboard\r\nSet-Cookie: x=y", DefaultReturnPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeReturnPath(tt.in); got != tt.want {
				t.Errorf("SafeReturnPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAuthHandler_SignIn_ReturnsLoginURLWithReturnPath(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/signin?from=%2Fdashboard%2Fadmin", nil)
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["from"] != "/dashboard/admin" {
		t.Errorf("from = %q, want %q", body["from"], "/dashboard/admin")
	}
	if body["login_url"] != "/auth/google/login?from=%2Fdashboard%2Fadmin" {
		t.Errorf("login_url = %q", body["login_url"])
	}
}

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login?from=/dashboard/provider", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Errorf("Location = %q, should contain google oauth URL", location)
	}

	stateCookie := findCookie(resp, "oauth_state")
	if stateCookie == nil || stateCookie.Value == "" {
		t.Fatal("expected oauth_state cookie")
	}
	if !strings.Contains(location, "state="+stateCookie.Value) {
		t.Errorf("Location = %q, should carry state %q", location, stateCookie.Value)
	}

	returnTo := findCookie(resp, "return_to")
	if returnTo == nil || returnTo.Value != "/dashboard/provider" {
		t.Errorf("return_to cookie = %+v, want /dashboard/provider", returnTo)
	}
}

func TestAuthHandler_Login_UnsafeReturnPathFallsBack(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login?from="+url.QueryEscape("https://evil.example"), nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	returnTo := findCookie(w.Result(), "return_to")
	if returnTo == nil || returnTo.Value != DefaultReturnPath {
		t.Errorf("return_to cookie = %+v, want %s", returnTo, DefaultReturnPath)
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirectsToReturnPath(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			if code != "test-code" {
				t.Errorf("code = %q, want test-code", code)
			}
			return &model.Session{
				ID:        "session-id-abc",
				UserID:    "user-id-123",
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	req.AddCookie(&http.Cookie{Name: "return_to", Value: "/dashboard/client"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if got := resp.Header.Get("Location"); got != "http://localhost:3000/dashboard/client" {
		t.Errorf("Location = %q, want %q", got, "http://localhost:3000/dashboard/client")
	}

	sessionCookie := findCookie(resp, auth.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-id-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-id-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want %v", sessionCookie.SameSite, http.SameSiteLaxMode)
	}
	if sessionCookie.MaxAge != 86400 {
		t.Errorf("session cookie MaxAge = %d, want 86400", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Callback_TamperedReturnCookieFallsBack(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: "s", UserID: "u", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=s1", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s1"})
	req.AddCookie(&http.Cookie{Name: "return_to", Value: "//evil.example"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if got := w.Result().Header.Get("Location"); got != "http://localhost:3000"+DefaultReturnPath {
		t.Errorf("Location = %q, want default return path", got)
	}
}

func TestAuthHandler_Callback_MissingCode_ReturnsBadRequest(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_StateMismatch_ReturnsBadRequest(t *testing.T) {
	called := false
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=wrong-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "correct-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, resp); body.Code != "INVALID_OAUTH_STATE" {
		t.Errorf("code = %q, want INVALID_OAUTH_STATE", body.Code)
	}
	if called {
		t.Error("HandleCallback must not be called on state mismatch")
	}
}

func TestAuthHandler_Callback_SuspendedAccount_ReturnsForbidden(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, fmt.Errorf("callback: %w", auth.ErrAccountSuspended)
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=s", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	if body := decodeErrorBody(t, resp); body.Code != errCodeAccountSuspended {
		t.Errorf("code = %q, want %q", body.Code, errCodeAccountSuspended)
	}
	if findCookie(resp, auth.SessionCookieName) != nil {
		t.Error("suspended account must not receive a session cookie")
	}
}

func TestAuthHandler_Callback_AuthServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, errors.New("auth failed")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_Logout_ClearsCookieAndRedirectsToSignIn(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "session-to-logout"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if got := resp.Header.Get("Location"); got != "http://localhost:3000/signin" {
		t.Errorf("Location = %q, want sign-in page", got)
	}
	if loggedOut != "session-to-logout" {
		t.Errorf("logged out session = %q, want session-to-logout", loggedOut)
	}

	sessionCookie := findCookie(resp, auth.SessionCookieName)
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be cleared")
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("session cookie MaxAge = %d, want -1 (delete)", sessionCookie.MaxAge)
	}
}

func TestAuthHandler_Logout_ServiceErrorStillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			return errors.New("db down")
		},
	}
	h := NewAuthHandler(svc, testAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "s"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if c := findCookie(resp, auth.SessionCookieName); c == nil || c.MaxAge != -1 {
		t.Error("session cookie should be cleared even when logout fails")
	}
}

// countingResolver はResolveの呼び出し回数を数えるIdentityResolver。
type countingResolver struct {
	identity *model.Identity
	calls    int
}

func (c *countingResolver) Resolve(ctx context.Context, r *http.Request) (*model.Identity, error) {
	c.calls++
	return c.identity, nil
}

func TestAuthHandler_Me_Authenticated_ReturnsIdentityJSON(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	verifiedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	identity := &model.Identity{
		ID:              "user-id-me",
		Email:           "me@example.com",
		Name:            "Me User",
		Role:            model.RolePtr(model.RoleClient),
		Status:          model.StatusActive,
		EmailVerifiedAt: &verifiedAt,
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(middleware.ContextWithIdentity(req.Context(), identity))
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body userResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.ID != "user-id-me" || body.Name != "Me User" || body.Role == nil || *body.Role != "CLIENT" {
		t.Errorf("body = %+v", body)
	}
	if body.EmailVerifiedAt == nil || !body.EmailVerifiedAt.Equal(verifiedAt) {
		t.Errorf("email_verified_at = %v, want %v", body.EmailVerifiedAt, verifiedAt)
	}
}

func TestAuthHandler_Me_NoIdentity_ReturnsUnauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "unresolved"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w.Result()); body.Location != "/signin" {
		t.Errorf("location = %q, want %q", body.Location, "/signin")
	}
}

func TestAuthHandler_Me_BehindSessionMiddleware_ResolvesOnce(t *testing.T) {
	resolver := &countingResolver{identity: pendingIdentity()}
	h := NewAuthHandler(&mockAuthService{}, testAuthConfig())
	handler := middleware.NewSessionMiddleware(resolver)(http.HandlerFunc(h.Me))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if resolver.calls != 1 {
		t.Errorf("session lookups = %d, want 1", resolver.calls)
	}

	var body userResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.ID != resolver.identity.ID || body.Role != nil {
		t.Errorf("body = %+v, want pending identity %s", body, resolver.identity.ID)
	}
}
