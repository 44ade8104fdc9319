package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/middleware"
	"github.com/hitoshi/servicehub/internal/model"
)

// externalIdentityResponse は外部identityのJSONレスポンス。
type externalIdentityResponse struct {
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// userDetailResponse はユーザー詳細のJSONレスポンス。
type userDetailResponse struct {
	userResponse
	Identities []externalIdentityResponse `json:"identities"`
}

// AdminUserServiceInterface は管理者向けユーザー管理ハンドラーが必要とするサービスインターフェース。
type AdminUserServiceInterface interface {
	ListUsers(ctx context.Context, limit, offset int) ([]userResponse, error)
	GetUser(ctx context.Context, userID string) (*userDetailResponse, error)
	AssignRole(ctx context.Context, actorID, userID, role string) (*userResponse, error)
	SetStatus(ctx context.Context, actorID, userID, status string) (*userResponse, error)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// AdminUserHandler は管理者向けユーザー管理のHTTPハンドラー。
// /api/admin 配下に置き、ADMINロールの判定はガードミドルウェアに任せる。
type AdminUserHandler struct {
	service AdminUserServiceInterface
}

// NewAdminUserHandler はAdminUserHandlerを生成する。
func NewAdminUserHandler(service AdminUserServiceInterface) *AdminUserHandler {
	return &AdminUserHandler{service: service}
}

// ListUsers はユーザー一覧を返す。
// GET /api/admin/users?limit=50&offset=0
func (h *AdminUserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		handleServiceError(w, model.NewInvalidRequestBodyError())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		handleServiceError(w, model.NewInvalidRequestBodyError())
		return
	}

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// GetUser はユーザー詳細を返す。
// GET /api/admin/users/{id}
func (h *AdminUserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// AssignRole はユーザーのロールを変更する。
// PUT /api/admin/users/{id}/role
func (h *AdminUserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestBodyError())
		return
	}

	resp, err := h.service.AssignRole(r.Context(), actorID, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetStatus はアカウント状態を変更する。
// PUT /api/admin/users/{id}/status
func (h *AdminUserHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestBodyError())
		return
	}

	resp, err := h.service.SetStatus(r.Context(), actorID, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminUserHandler) actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(authz.SignInPath))
		return "", false
	}
	return actorID, true
}

// queryInt は整数のクエリパラメータを読む。未指定の場合は0を返す。
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
