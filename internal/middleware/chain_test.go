package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/servicehub/internal/model"
)

func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	buf := captureDefaultLogger(t)

	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Code)
	}
	if !hasLogLine(t, buf, "ERROR", "panic recovered") {
		t.Errorf("expected panic log, got:\n%s", buf.String())
	}
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
		"Cache-Control":          "no-store",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

// TestMiddlewareChain_FullStack はRecovery → Logging → Guardの順で
// 拒否レスポンスがログとメトリクスの両方に反映されることを検証する。
func TestMiddlewareChain_FullStack(t *testing.T) {
	captureDefaultLogger(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	mc := &recordingMetrics{}

	resolver := &mockResolver{identity: identityWithRole(model.RoleClient)}
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRecoveryMiddleware()(
		NewLoggingMiddleware(logger, mc)(
			NewSecurityHeadersMiddleware()(
				NewGuardMiddleware(resolver, newTestGuard(), mc)(app))))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/provider", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if len(mc.decisions) != 1 || mc.decisions[0] != "redirect_unauthorized" {
		t.Errorf("decisions = %v", mc.decisions)
	}
	if len(mc.statuses) != 1 || mc.statuses[0] != http.StatusSeeOther {
		t.Errorf("statuses = %v", mc.statuses)
	}

	entry := decodeLogEntry(t, &buf)
	if entry["status"].(float64) != http.StatusSeeOther {
		t.Errorf("logged status = %v", entry["status"])
	}
	// 拒否されたリクエストでは認証主体をコンテキストに注入しない
	if _, ok := entry["user_id"]; ok {
		t.Errorf("denied request should not log user_id: %v", entry)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard/client", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
