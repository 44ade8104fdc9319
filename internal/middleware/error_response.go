package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/model"
)

const categoryAuth = "auth"

// ErrorResponseBody は/api配下のエラーレスポンス形式。
// locationはブラウザならリダイレクトされていた遷移先で、認可エラーでのみ出力する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
	Location string `json:"location,omitempty"`
}

func newErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Location: apiErr.Location,
	}
}

// WriteErrorResponse はAPIErrorをJSONで書き込む。
// 認証・認可カテゴリの応答はセッションごとに異なるためキャッシュさせない。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	if apiErr.Category == categoryAuth {
		h.Set("Cache-Control", "no-store")
	}
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(newErrorResponseBody(apiErr)); err != nil {
		slog.Warn("failed to encode error response",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
}

// WriteDecisionError は拒否判定を/api向けのJSONエラーに変換して書き込む。
// RedirectLoginは401、それ以外の拒否は403になる。
func WriteDecisionError(w http.ResponseWriter, decision authz.Decision) {
	location := decision.Location()

	switch decision.Kind {
	case authz.RedirectLogin:
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(location))
	case authz.RedirectRoleSelection:
		WriteErrorResponse(w, http.StatusForbidden, model.NewRoleRequiredError(location))
	default:
		WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError(location))
	}
}

// WriteInternalServerError は詳細を伏せた500応答を書き込む。原因はログにのみ残す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
