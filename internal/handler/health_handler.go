package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先の疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthCheckFunc は関数をHealthCheckerとして扱うためのアダプタ。
type HealthCheckFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼ぶ。
func (f HealthCheckFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// HealthHandler は /health エンドポイントのハンドラー。
type HealthHandler struct {
	checks map[string]HealthChecker
}

// NewHealthHandler はHealthHandlerを生成する。checksのキーはレスポンスに載る依存先名。
func NewHealthHandler(checks map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// ServeHTTP は全依存先に疎通確認し、1つでも失敗すれば503を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name].PingContext(ctx); err != nil {
			slog.Error("health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
