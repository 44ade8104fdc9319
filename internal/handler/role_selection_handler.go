package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/middleware"
	"github.com/hitoshi/servicehub/internal/model"
)

// RoleServiceInterface はロール選択ハンドラーが必要とするサービスインターフェース。
type RoleServiceInterface interface {
	SelectRole(ctx context.Context, userID, rawRole string) (*model.User, error)
}

// selectRoleRequest はロール選択リクエストのJSONボディ。
type selectRoleRequest struct {
	Role string `json:"role"`
}

// roleSelectionResponse はロール選択画面のJSONレスポンス。
type roleSelectionResponse struct {
	View  string       `json:"view"`
	User  userResponse `json:"user"`
	Roles []string     `json:"roles"`
}

// RoleSelectionHandler はロール選択のHTTPハンドラー。
type RoleSelectionHandler struct {
	service RoleServiceInterface
}

// NewRoleSelectionHandler はRoleSelectionHandlerを生成する。
func NewRoleSelectionHandler(service RoleServiceInterface) *RoleSelectionHandler {
	return &RoleSelectionHandler{service: service}
}

// selectableRoles はユーザー自身が選べるロールの一覧。
func selectableRoles() []string {
	var roles []string
	for _, r := range model.Roles() {
		if r.SelfAssignable() {
			roles = append(roles, r.String())
		}
	}
	return roles
}

// Show はロール選択画面の情報を返す。ロール選択済みならダッシュボードへ送る。
// GET /role-selection
func (h *RoleSelectionHandler) Show(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(authz.SignInPath))
		return
	}

	if identity.Role != nil {
		http.Redirect(w, r, DefaultReturnPath, http.StatusSeeOther)
		return
	}

	writeJSON(w, http.StatusOK, roleSelectionResponse{
		View:  "role-selection",
		User:  identityResponse(identity),
		Roles: selectableRoles(),
	})
}

// Select はロールを確定し、そのロールのランディングビューへ遷移させる。
// POST /role-selection
func (h *RoleSelectionHandler) Select(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(authz.SignInPath))
		return
	}

	raw, err := readRoleInput(r)
	if err != nil {
		handleServiceError(w, model.NewInvalidRequestBodyError())
		return
	}

	user, err := h.service.SelectRole(r.Context(), userID, raw)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := authz.LandingView(*user.Role)
	if err != nil {
		// 選択直後のロールは閉じた集合内のはず
		slog.Error("selected role has no landing view",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	http.Redirect(w, r, view.Path(), http.StatusSeeOther)
}

// readRoleInput はJSONボディまたはフォームからロール名を読み取る。
func readRoleInput(r *http.Request) (string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req selectRoleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", err
		}
		return req.Role, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("role"), nil
}
