package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/servicehub/internal/metrics"
	"github.com/hitoshi/servicehub/internal/model"
	"github.com/hitoshi/servicehub/internal/repository"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "session_id"

// DefaultLookupTimeout はセッションストア参照の既定タイムアウト。
const DefaultLookupTimeout = 300 * time.Millisecond

// SessionResolver はリクエストのセッショントークンから認証主体を解決する。
// 参照は読み取り1回のみで、セッションやユーザーを変更しない。
type SessionResolver struct {
	lookup  repository.IdentityLookup
	timeout time.Duration
	metrics metrics.MetricsCollector
}

// NewSessionResolver はSessionResolverを生成する。
// timeoutが0以下の場合はDefaultLookupTimeoutを使う。
func NewSessionResolver(lookup repository.IdentityLookup, timeout time.Duration, mc metrics.MetricsCollector) *SessionResolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &SessionResolver{lookup: lookup, timeout: timeout, metrics: mc}
}

// SessionToken はリクエストからセッショントークンを取り出す。
// Cookieを優先し、無い場合は Authorization: Bearer ヘッダーを使う。
func SessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// Resolve はリクエストに紐づく認証主体を返す。
// トークンが無い、セッションが無効または期限切れ、アカウントが停止中の場合は(nil, nil)。
// ストア障害やタイムアウトはmodel.ErrStoreUnavailableでラップして返す。
func (s *SessionResolver) Resolve(ctx context.Context, r *http.Request) (*model.Identity, error) {
	token := SessionToken(r)
	if token == "" {
		return nil, nil
	}
	return s.ResolveToken(ctx, token)
}

// ResolveToken はセッショントークンから認証主体を解決する。
func (s *SessionResolver) ResolveToken(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	identity, err := s.lookup.FindIdentityBySessionID(lookupCtx, token)
	s.metrics.RecordSessionLookup(time.Since(start))

	if err != nil {
		// クライアント切断による中断はストア障害として数えない
		if ctx.Err() == nil || !errors.Is(ctx.Err(), context.Canceled) {
			s.metrics.RecordStoreFailure()
		}
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	if identity == nil {
		return nil, nil
	}
	if identity.Status == model.StatusSuspended {
		return nil, nil
	}
	return identity, nil
}
