package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/servicehub/internal/authz"
	"github.com/hitoshi/servicehub/internal/metrics"
	"github.com/hitoshi/servicehub/internal/model"
)

// IdentityResolver はリクエストから認証主体を解決するインターフェース。
// auth.SessionResolverが実装する。
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*model.Identity, error)
}

// Decider はパスと認証主体から認可判定を行うインターフェース。
// authz.Guardが実装する。
type Decider interface {
	Decide(path string, identity *model.Identity) authz.Decision
}

// NewGuardMiddleware はセッション解決とルートガードの判定を行うミドルウェアを返す。
// Allowの場合のみ認証主体をコンテキストに注入して次へ渡す。
// それ以外はページには303リダイレクト、/api/配下にはlocation付きのJSONエラーを返す。
func NewGuardMiddleware(resolver IdentityResolver, guard Decider, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := resolveIdentity(r, resolver)

			decision := guard.Decide(r.URL.Path, identity)
			mc.RecordDecision(decision.Kind.String())

			if !decision.Allowed() {
				logDecision(r, identity, decision)
				writeDenied(w, r, decision)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// NewSessionMiddleware はロールを問わず認証済みであることだけを要求するミドルウェアを返す。
// ロール選択やサインアウトなど、ロール未割り当てでも到達できる必要があるルートで使用する。
func NewSessionMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := resolveIdentity(r, resolver)
			if identity == nil {
				writeDenied(w, r, authz.Decision{
					Kind:       authz.RedirectLogin,
					ReturnPath: r.URL.Path,
					Reason:     model.ErrUnauthenticated,
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// resolveIdentity は認証主体を解決する。ストア障害時は未認証として扱う。
func resolveIdentity(r *http.Request, resolver IdentityResolver) *model.Identity {
	identity, err := resolver.Resolve(r.Context(), r)
	if err != nil {
		if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
			slog.Debug("session lookup abandoned",
				slog.String("path", r.URL.Path),
			)
			return nil
		}
		slog.Error("failed to resolve session",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return identity
}

func logDecision(r *http.Request, identity *model.Identity, decision authz.Decision) {
	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.String("decision", decision.Kind.String()),
	}
	if identity != nil {
		attrs = append(attrs, slog.String("user_id", identity.ID))
		if identity.Role != nil {
			attrs = append(attrs, slog.String("role", identity.Role.String()))
		}
	}
	if decision.Reason != nil {
		attrs = append(attrs, slog.String("reason", decision.Reason.Error()))
	}

	if model.IsOperational(decision.Reason) {
		slog.Error("access denied", attrs...)
		return
	}
	slog.Debug("access denied", attrs...)
}

// isAPIRequest はJSONで応答すべきリクエストかを判定する。
func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// writeDenied は拒否の判定をレスポンスに変換する。
// ページは303リダイレクト、/api配下はJSONエラーで応答する。
func writeDenied(w http.ResponseWriter, r *http.Request, decision authz.Decision) {
	if !isAPIRequest(r) {
		http.Redirect(w, r, decision.Location(), http.StatusSeeOther)
		return
	}
	WriteDecisionError(w, decision)
}
