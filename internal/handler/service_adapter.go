package handler

import (
	"context"

	"github.com/hitoshi/servicehub/internal/user"
)

// AdminUserServiceAdapter は user.Service を AdminUserServiceInterface に適合させるアダプタ。
type AdminUserServiceAdapter struct {
	svc *user.Service
}

// NewAdminUserServiceAdapter はAdminUserServiceAdapterを生成する。
func NewAdminUserServiceAdapter(svc *user.Service) *AdminUserServiceAdapter {
	return &AdminUserServiceAdapter{svc: svc}
}

// ListUsers はユーザー一覧をhandlerレスポンス型で返す。
func (a *AdminUserServiceAdapter) ListUsers(ctx context.Context, limit, offset int) ([]userResponse, error) {
	users, err := a.svc.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	results := make([]userResponse, len(users))
	for i, u := range users {
		results[i] = toUserResponse(u)
	}
	return results, nil
}

// GetUser はユーザー詳細をhandlerレスポンス型で返す。
func (a *AdminUserServiceAdapter) GetUser(ctx context.Context, userID string) (*userDetailResponse, error) {
	detail, err := a.svc.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := userDetailResponse{
		userResponse: toUserResponse(detail.User),
		Identities:   make([]externalIdentityResponse, len(detail.Identities)),
	}
	for i, ext := range detail.Identities {
		resp.Identities[i] = externalIdentityResponse{
			Provider:       ext.Provider,
			ProviderUserID: ext.ProviderUserID,
			CreatedAt:      ext.CreatedAt,
		}
	}
	return &resp, nil
}

// AssignRole はユーザーのロールを変更しhandlerレスポンス型で返す。
func (a *AdminUserServiceAdapter) AssignRole(ctx context.Context, actorID, userID, role string) (*userResponse, error) {
	u, err := a.svc.AssignRole(ctx, actorID, userID, role)
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(u)
	return &resp, nil
}

// SetStatus はアカウント状態を変更しhandlerレスポンス型で返す。
func (a *AdminUserServiceAdapter) SetStatus(ctx context.Context, actorID, userID, status string) (*userResponse, error) {
	u, err := a.svc.SetStatus(ctx, actorID, userID, status)
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(u)
	return &resp, nil
}

// RoleServiceAdapter は user.Service を RoleServiceInterface として公開する。
func RoleServiceAdapter(svc *user.Service) RoleServiceInterface {
	return svc
}
