// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/servicehub/internal/auth"
	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/middleware"
	"github.com/hitoshi/servicehub/internal/model"
)

const (
	oauthStateCookie  = "oauth_state"
	returnToCookie    = "return_to"
	oauthCookieMaxAge = 600 // 10分

	// DefaultReturnPath はサインイン後の既定の遷移先。
	DefaultReturnPath = "/dashboard"

	errCodeAccountSuspended = "ACCOUNT_SUSPENDED"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// SafeReturnPath はサインイン後の戻り先として許可できるパスを返す。
// 同一オリジンの相対パスのみを受け付け、それ以外はDefaultReturnPathを返す。
func SafeReturnPath(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return DefaultReturnPath
	}
	// "//evil.example" や "/\evil.example" はブラウザによっては別ホストとして解釈される
	if strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return DefaultReturnPath
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return DefaultReturnPath
	}
	// サインイン系のパスに戻るとループになる
	if u.Path == authz.SignInPath || strings.HasPrefix(u.Path, "/auth/") {
		return DefaultReturnPath
	}
	return raw
}

// SignIn はサインイン画面の情報を返す。
// GET /signin?from=/dashboard/admin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	from := SafeReturnPath(r.URL.Query().Get(authz.ReturnPathParam))
	loginURL := "/auth/google/login?" + url.Values{authz.ReturnPathParam: {from}}.Encode()

	writeJSON(w, http.StatusOK, map[string]string{
		"view":      "signin",
		"login_url": loginURL,
		"from":      from,
	})
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?from=/dashboard/admin
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setShortLivedCookie(w, oauthStateCookie, state)
	// 戻り先はOAuthの往復を跨いで保持する
	h.setShortLivedCookie(w, returnToCookie, SafeReturnPath(r.URL.Query().Get(authz.ReturnPathParam)))

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_OAUTH_STATE",
			Message:  "認証リクエストが無効です。",
			Category: "auth",
			Action:   "もう一度サインインしてください。",
		})
		return
	}
	h.clearCookie(w, oauthStateCookie, "")

	returnTo := DefaultReturnPath
	if c, err := r.Cookie(returnToCookie); err == nil {
		returnTo = SafeReturnPath(c.Value)
	}
	h.clearCookie(w, returnToCookie, "")

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "MISSING_AUTHORIZATION_CODE",
			Message:  "認可コードがありません。",
			Category: "auth",
			Action:   "もう一度サインインしてください。",
		})
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrAccountSuspended) {
			handleServiceError(w, &model.APIError{
				Code:     errCodeAccountSuspended,
				Message:  "このアカウントは停止されています。",
				Category: "auth",
				Action:   "管理者に問い合わせてください。",
			})
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 4. セッションCookieを設定（HTTP Only）
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 5. 元のページへ。ロール未選択ならガードがロール選択へ送る
	http.Redirect(w, r, h.frontendURL(returnTo), http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := auth.SessionToken(r); token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.clearCookie(w, auth.SessionCookieName, h.config.CookieDomain)
	http.Redirect(w, r, h.frontendURL(authz.SignInPath), http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// セッションミドルウェアが解決済みのidentityをそのまま返し、ストアは再読込しない。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError(authz.SignInPath))
		return
	}

	writeJSON(w, http.StatusOK, identityResponse(identity))
}

func (h *AuthHandler) frontendURL(path string) string {
	return strings.TrimSuffix(h.config.BaseURL, "/") + path
}

func (h *AuthHandler) setShortLivedCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   oauthCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
