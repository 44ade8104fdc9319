package authz

import (
	"fmt"

	"github.com/hitoshi/servicehub/internal/model"
)

// ViewID はロールごとのランディングビューの識別子。
type ViewID string

const (
	ViewAdminDashboard    ViewID = "admin-dashboard"
	ViewProviderDashboard ViewID = "provider-dashboard"
	ViewClientDashboard   ViewID = "client-dashboard"
	ViewUnauthorized      ViewID = "unauthorized"
)

// Path はビューのURLパスを返す。
func (v ViewID) Path() string {
	switch v {
	case ViewAdminDashboard:
		return "/dashboard/admin"
	case ViewProviderDashboard:
		return "/dashboard/provider"
	case ViewClientDashboard:
		return "/dashboard/client"
	default:
		return UnauthorizedPath
	}
}

// LandingView はロールに対応するランディングビューを返す。
// 閉じた集合外のロールはViewUnauthorizedとErrUnknownRoleを返す。
func LandingView(role model.Role) (ViewID, error) {
	switch role {
	case model.RoleAdmin:
		return ViewAdminDashboard, nil
	case model.RoleProvider:
		return ViewProviderDashboard, nil
	case model.RoleClient:
		return ViewClientDashboard, nil
	default:
		return ViewUnauthorized, fmt.Errorf("%w: %q", model.ErrUnknownRole, role)
	}
}
