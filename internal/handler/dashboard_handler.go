package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/middleware"
	"github.com/hitoshi/servicehub/internal/model"
)

// dashboardResponse はダッシュボードビューのJSONレスポンス。
type dashboardResponse struct {
	View string       `json:"view"`
	User userResponse `json:"user"`
}

// DashboardHandler はロール別ダッシュボードのHTTPハンドラー。
// アクセス可否はガードミドルウェアで判定済みであることを前提とする。
type DashboardHandler struct{}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler() *DashboardHandler {
	return &DashboardHandler{}
}

// Landing はログインユーザーのロールに対応するダッシュボードへ遷移させる。
// GET /dashboard
func (h *DashboardHandler) Landing(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, authz.SignInPath, http.StatusSeeOther)
		return
	}
	if identity.Role == nil {
		http.Redirect(w, r, authz.RoleSelectionPath, http.StatusSeeOther)
		return
	}

	view, err := authz.LandingView(*identity.Role)
	if err != nil {
		slog.Error("no landing view for role",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
	}
	http.Redirect(w, r, view.Path(), http.StatusSeeOther)
}

// View は指定ビューのダッシュボード情報を返すハンドラーを生成する。
// GET /dashboard/admin, /dashboard/provider, /dashboard/client
func (h *DashboardHandler) View(view authz.ViewID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := middleware.IdentityFromContext(r.Context())
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(authz.SignInPath))
			return
		}
		writeJSON(w, http.StatusOK, dashboardResponse{
			View: string(view),
			User: identityResponse(identity),
		})
	}
}

// Overview はロール別APIの概要を返す。
// GET /api/provider/overview, /api/client/overview
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(authz.SignInPath))
		return
	}

	var role string
	if identity.Role != nil {
		role = identity.Role.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role": role,
		"user": identityResponse(identity),
	})
}

// Unauthorized はアクセス拒否画面を返す。
// GET /unauthorized
func (h *DashboardHandler) Unauthorized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusForbidden, map[string]string{
		"view":    string(authz.ViewUnauthorized),
		"message": "このページを表示する権限がありません。",
	})
}
