// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/servicehub/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	identityContextKey   = contextKey("identity")
	requestLogContextKey = contextKey("request_log")
)

// IdentityFromContext はリクエストコンテキストから認証主体を取得する。
// ガードまたはセッションミドルウェアを通過したリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.ID, nil
}

// ContextWithIdentity はコンテキストに認証主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, identity *model.Identity) context.Context {
	annotateRequestLog(ctx, identity)
	return context.WithValue(ctx, identityContextKey, identity)
}

// requestLog はロギングミドルウェアが内側のミドルウェアから受け取る属性。
type requestLog struct {
	userID string
	role   string
}

func annotateRequestLog(ctx context.Context, identity *model.Identity) {
	rl, ok := ctx.Value(requestLogContextKey).(*requestLog)
	if !ok || identity == nil {
		return
	}
	rl.userID = identity.ID
	if identity.Role != nil {
		rl.role = identity.Role.String()
	}
}
