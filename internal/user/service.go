// Package user はユーザーのロール割り当てとアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/servicehub/internal/model"
	"github.com/hitoshi/servicehub/internal/repository"
)

const (
	// DefaultListLimit はユーザー一覧の既定件数。
	DefaultListLimit = 50
	// MaxListLimit はユーザー一覧で一度に返す最大件数。
	MaxListLimit = 200
)

// SessionRevoker はユーザーの全セッションを失効させるインターフェース。
type SessionRevoker interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Detail は管理画面向けのユーザー詳細。
type Detail struct {
	User       *model.User
	Identities []*model.ExternalIdentity
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo  repository.UserRepository
	identRepo repository.IdentityRepository
	sessions  SessionRevoker
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessions SessionRevoker,
) *Service {
	return &Service{
		userRepo:  userRepo,
		identRepo: identRepo,
		sessions:  sessions,
	}
}

// SelectRole はロール未割り当てのユーザー自身がロールを選択する。
// 選択できるのはPROVIDERとCLIENTのみで、一度だけ許可される。
func (s *Service) SelectRole(ctx context.Context, userID, rawRole string) (*model.User, error) {
	role, err := model.ParseRole(rawRole)
	if err != nil {
		return nil, model.NewInvalidRoleError(rawRole)
	}
	if !role.SelfAssignable() {
		return nil, model.NewRoleNotSelectableError(role)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	if user.Role != nil {
		return nil, model.NewRoleAlreadyAssignedError()
	}

	assigned, err := s.userRepo.AssignInitialRole(ctx, userID, role)
	if err != nil {
		return nil, fmt.Errorf("ロールの割り当てに失敗しました: %w", err)
	}
	if !assigned {
		// 同時リクエストで先に割り当てられた
		return nil, model.NewRoleAlreadyAssignedError()
	}

	slog.Info("ロールが選択されました",
		slog.String("user_id", userID),
		slog.String("role", role.String()),
	)

	return s.reload(ctx, userID)
}

// AssignRole は管理者がユーザーのロールを設定する。ADMINを含む全ての正規ロールを指定できる。
// 自分自身をADMIN以外に変更することはできない。
func (s *Service) AssignRole(ctx context.Context, actorID, userID, rawRole string) (*model.User, error) {
	role, err := model.ParseRole(rawRole)
	if err != nil {
		return nil, model.NewInvalidRoleError(rawRole)
	}
	// 最後の管理者が自分を降格して管理者不在になるのを防ぐ
	if actorID == userID && role != model.RoleAdmin {
		return nil, model.NewSelfLockoutError()
	}

	if err := s.userRepo.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	slog.Info("管理者がロールを変更しました",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID),
		slog.String("role", role.String()),
	)

	return s.reload(ctx, userID)
}

// ParseSettableStatus は管理者が設定できるアカウント状態を解釈する。
// PENDINGはロール未選択を表す状態のため、管理者からは設定できない。
func ParseSettableStatus(raw string) (model.AccountStatus, error) {
	status := model.AccountStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case model.StatusActive, model.StatusSuspended:
		return status, nil
	default:
		return "", model.NewInvalidStatusError(raw)
	}
}

// SetStatus は管理者がアカウント状態を変更する。
// 停止した場合はそのユーザーの全セッションを失効させる。自分自身は停止できない。
func (s *Service) SetStatus(ctx context.Context, actorID, userID, rawStatus string) (*model.User, error) {
	status, err := ParseSettableStatus(rawStatus)
	if err != nil {
		return nil, err
	}
	if actorID == userID && status == model.StatusSuspended {
		return nil, model.NewSelfLockoutError()
	}

	if err := s.userRepo.UpdateStatus(ctx, userID, status); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("アカウント状態の更新に失敗しました: %w", err)
	}

	if status == model.StatusSuspended && s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return nil, fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	slog.Info("管理者がアカウント状態を変更しました",
		slog.String("actor_id", actorID),
		slog.String("user_id", userID),
		slog.String("status", string(status)),
	)

	return s.reload(ctx, userID)
}

// List はユーザー一覧を返す。limitは1からMaxListLimitの範囲に丸める。
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.userRepo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Get はユーザーと紐づく外部identityを返す。
func (s *Service) Get(ctx context.Context, userID string) (*Detail, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	identities, err := s.identRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("identityの取得に失敗しました: %w", err)
	}

	return &Detail{User: user, Identities: identities}, nil
}

func (s *Service) reload(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
