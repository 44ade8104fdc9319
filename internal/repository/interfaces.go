// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/servicehub/internal/model"
)

// ErrUserNotFound は更新対象のユーザーが存在しない場合のエラー。
var ErrUserNotFound = errors.New("user not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// List はユーザー一覧を作成日時の降順で返す。
	List(ctx context.Context, limit, offset int) ([]*model.User, error)

	// CreateWithIdentity はユーザーと外部identityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.ExternalIdentity) error

	// AssignInitialRole はロール未割り当てのユーザーにロールを設定し、PENDINGをACTIVEにする。
	// 既にロールが割り当て済み、またはユーザーが存在しない場合はfalseを返す。
	AssignInitialRole(ctx context.Context, id string, role model.Role) (bool, error)

	// UpdateRole はユーザーのロールを上書きする（管理者操作）。
	UpdateRole(ctx context.Context, id string, role model.Role) error

	// UpdateStatus はユーザーのアカウント状態を更新する（管理者操作）。
	UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error

	// MarkEmailVerified は未検証のユーザーにメール検証日時を記録する。
	// 既に検証済みの場合は何もしない。
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ExternalIdentity, error)

	// ListByUserID はユーザーに紐づく外部identityを返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.ExternalIdentity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// IdentityLookup はセッションIDから認証主体を読み取るインターフェース。
// 読み取りのみで状態を変更してはならない。
type IdentityLookup interface {
	// FindIdentityBySessionID は有効なセッションに紐づく認証主体を返す。
	// セッションが存在しない、または期限切れの場合はnilを返す。
	FindIdentityBySessionID(ctx context.Context, sessionID string) (*model.Identity, error)
}
