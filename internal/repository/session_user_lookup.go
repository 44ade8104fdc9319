package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/servicehub/internal/model"
)

// SessionFinder はセッション検索の部分インターフェース。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はユーザー検索の部分インターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionUserLookup はセッションストアとユーザーストアが別の場合のIdentityLookup実装。
// Redisセッションストア使用時に、セッションからユーザーIDを引きPostgreSQLのユーザーを読む。
type SessionUserLookup struct {
	sessions SessionFinder
	users    UserFinder
}

// NewSessionUserLookup はSessionUserLookupを生成する。
func NewSessionUserLookup(sessions SessionFinder, users UserFinder) *SessionUserLookup {
	return &SessionUserLookup{sessions: sessions, users: users}
}

// FindIdentityBySessionID は有効なセッションに紐づく認証主体を返す。
// セッションが無効、またはユーザーが削除済みの場合はnilを返す。
func (l *SessionUserLookup) FindIdentityBySessionID(ctx context.Context, sessionID string) (*model.Identity, error) {
	session, err := l.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := l.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session user: %w", err)
	}
	return model.IdentityOf(user), nil
}

// compile-time interface check
var _ IdentityLookup = (*SessionUserLookup)(nil)
