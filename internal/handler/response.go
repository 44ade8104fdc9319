package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/servicehub/internal/middleware"
	"github.com/hitoshi/servicehub/internal/model"
)

// userResponse はユーザー情報のJSONレスポンス。
// roleはロール未選択の場合null。
type userResponse struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Role            *string    `json:"role"`
	Status          string     `json:"status"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

func roleString(role *model.Role) *string {
	if role == nil {
		return nil
	}
	s := role.String()
	return &s
}

func toUserResponse(u *model.User) userResponse {
	createdAt := u.CreatedAt
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            roleString(u.Role),
		Status:          string(u.Status),
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       &createdAt,
	}
}

func identityResponse(i *model.Identity) userResponse {
	return userResponse{
		ID:              i.ID,
		Email:           i.Email,
		Name:            i.Name,
		Role:            roleString(i.Role),
		Status:          string(i.Status),
		EmailVerifiedAt: i.EmailVerifiedAt,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeRoleRequired, model.ErrCodeForbidden, model.ErrCodeSelfLockout, errCodeAccountSuspended:
		return http.StatusForbidden
	case model.ErrCodeInvalidRole, model.ErrCodeInvalidStatus, model.ErrCodeInvalidRequestBody:
		return http.StatusBadRequest
	case model.ErrCodeRoleAlreadyChosen:
		return http.StatusConflict
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
