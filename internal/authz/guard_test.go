package authz

import (
	"errors"
	"testing"

	"github.com/hitoshi/servicehub/internal/model"
)

func newTestGuard(t *testing.T, adminOverride bool) *Guard {
	t.Helper()
	routes, err := NewRouteTable(DefaultRouteRules())
	if err != nil {
		t.Fatalf("NewRouteTable() error = %v", err)
	}
	return NewGuard(NewPolicy(adminOverride), routes)
}

func identityWithRole(role model.Role) *model.Identity {
	return &model.Identity{ID: "user-1", Email: "u@example.com", Role: model.RolePtr(role), Status: model.StatusActive}
}

var protectedPaths = []string{
	"/dashboard",
	"/dashboard/admin",
	"/dashboard/admin/users",
	"/dashboard/provider/orders",
	"/dashboard/client/billing",
	"/api/admin/users",
	"/api/me",
}

func TestGuard_NoSession_RedirectsToLoginForAnyPath(t *testing.T) {
	g := newTestGuard(t, false)

	for _, path := range protectedPaths {
		d := g.Decide(path, nil)
		if d.Kind != RedirectLogin {
			t.Errorf("Decide(%q, nil).Kind = %v, want %v", path, d.Kind, RedirectLogin)
		}
		if d.ReturnPath != path {
			t.Errorf("Decide(%q, nil).ReturnPath = %q, want %q", path, d.ReturnPath, path)
		}
		if !errors.Is(d.Reason, model.ErrUnauthenticated) {
			t.Errorf("Decide(%q, nil).Reason = %v, want ErrUnauthenticated", path, d.Reason)
		}
	}
}

func TestGuard_NoRole_RedirectsToRoleSelection(t *testing.T) {
	for _, override := range []bool{false, true} {
		g := newTestGuard(t, override)
		identity := &model.Identity{ID: "user-1", Status: model.StatusPending}

		for _, path := range protectedPaths {
			d := g.Decide(path, identity)
			if d.Kind != RedirectRoleSelection {
				t.Errorf("Decide(%q) = %v, want %v", path, d.Kind, RedirectRoleSelection)
			}
			if d.Allowed() {
				t.Errorf("Decide(%q) should never allow an identity without role", path)
			}
		}
	}
}

func TestGuard_MatchingRole_Allows(t *testing.T) {
	g := newTestGuard(t, false)

	tests := []struct {
		role model.Role
		path string
	}{
		{model.RoleAdmin, "/dashboard/admin"},
		{model.RoleAdmin, "/dashboard/admin/users"},
		{model.RoleAdmin, "/api/admin/users/abc/role"},
		{model.RoleProvider, "/dashboard/provider/orders"},
		{model.RoleProvider, "/api/provider/services"},
		{model.RoleClient, "/dashboard/client"},
		{model.RoleClient, "/api/client/orders"},
	}

	for _, tt := range tests {
		d := g.Decide(tt.path, identityWithRole(tt.role))
		if d.Kind != Allow {
			t.Errorf("Decide(%q, %s) = %v, want allow", tt.path, tt.role, d.Kind)
		}
		if d.Reason != nil {
			t.Errorf("Decide(%q, %s).Reason = %v, want nil", tt.path, tt.role, d.Reason)
		}
	}
}

func TestGuard_MismatchedRole_RedirectsUnauthorized(t *testing.T) {
	g := newTestGuard(t, false)

	pathFor := map[model.Role]string{
		model.RoleAdmin:    "/dashboard/admin/users",
		model.RoleProvider: "/dashboard/provider/orders",
		model.RoleClient:   "/dashboard/client/orders",
	}

	for _, r1 := range model.Roles() {
		for _, r2 := range model.Roles() {
			if r1 == r2 {
				continue
			}
			d := g.Decide(pathFor[r2], identityWithRole(r1))
			if d.Kind != RedirectUnauthorized {
				t.Errorf("role %s on %s: got %v, want redirect_unauthorized", r1, pathFor[r2], d.Kind)
			}
			if !errors.Is(d.Reason, model.ErrRoleNotPermitted) {
				t.Errorf("role %s on %s: reason = %v, want ErrRoleNotPermitted", r1, pathFor[r2], d.Reason)
			}
		}
	}
}

func TestGuard_AdminOverride(t *testing.T) {
	admin := identityWithRole(model.RoleAdmin)

	strict := newTestGuard(t, false)
	if d := strict.Decide("/dashboard/provider/orders", admin); d.Kind != RedirectUnauthorized {
		t.Errorf("override disabled: got %v, want redirect_unauthorized", d.Kind)
	}

	override := newTestGuard(t, true)
	if d := override.Decide("/dashboard/provider/orders", admin); d.Kind != Allow {
		t.Errorf("override enabled: got %v, want allow", d.Kind)
	}
	// overrideはADMIN以外に影響しない
	if d := override.Decide("/dashboard/admin", identityWithRole(model.RoleClient)); d.Kind != RedirectUnauthorized {
		t.Errorf("override enabled, client on admin: got %v, want redirect_unauthorized", d.Kind)
	}
}

func TestGuard_UnknownRole_IsDenied(t *testing.T) {
	g := newTestGuard(t, true)

	for _, raw := range []string{"PROMOTER", "MANAGEMENT", "admin", ""} {
		identity := &model.Identity{ID: "user-1", Role: model.RolePtr(model.Role(raw))}
		// 要求ロールのないパスでも許可しない
		d := g.Decide("/dashboard", identity)
		if d.Kind != RedirectUnauthorized {
			t.Errorf("role %q: got %v, want redirect_unauthorized", raw, d.Kind)
		}
		if !errors.Is(d.Reason, model.ErrUnknownRole) {
			t.Errorf("role %q: reason = %v, want ErrUnknownRole", raw, d.Reason)
		}
	}
}

func TestGuard_UnmatchedPath_AllowsAnyRole(t *testing.T) {
	g := newTestGuard(t, false)
	for _, r := range model.Roles() {
		if d := g.Decide("/dashboard", identityWithRole(r)); d.Kind != Allow {
			t.Errorf("role %s on /dashboard: got %v, want allow", r, d.Kind)
		}
	}
}

func TestGuard_PathMatchIsCaseSensitive(t *testing.T) {
	g := newTestGuard(t, false)
	// 大文字のパスはテーブルに一致しない
	d := g.Decide("/Dashboard/Admin", identityWithRole(model.RoleClient))
	if d.Kind != Allow {
		t.Errorf("got %v, want allow for unmatched case-variant path", d.Kind)
	}
}

func TestGuard_Idempotent(t *testing.T) {
	g := newTestGuard(t, false)

	inputs := []*model.Identity{
		nil,
		{ID: "no-role"},
		identityWithRole(model.RoleClient),
		identityWithRole(model.RoleAdmin),
		{ID: "legacy", Role: model.RolePtr(model.Role("PROMOTER"))},
	}

	for _, identity := range inputs {
		for _, path := range protectedPaths {
			first := g.Decide(path, identity)
			second := g.Decide(path, identity)
			if first != second {
				t.Errorf("Decide(%q) not idempotent: %+v != %+v", path, first, second)
			}
		}
	}
}

func TestGuard_Scenarios(t *testing.T) {
	g := newTestGuard(t, false)

	tests := []struct {
		name     string
		path     string
		identity *model.Identity
		wantKind DecisionKind
		wantLoc  string
	}{
		{
			name:     "CLIENTが管理画面にアクセス",
			path:     "/dashboard/admin/users",
			identity: identityWithRole(model.RoleClient),
			wantKind: RedirectUnauthorized,
			wantLoc:  "/unauthorized",
		},
		{
			name:     "セッションなしでダッシュボード",
			path:     "/dashboard",
			identity: nil,
			wantKind: RedirectLogin,
			wantLoc:  "/signin?from=%2Fdashboard",
		},
		{
			name:     "ロールなしで保護パス",
			path:     "/dashboard/client",
			identity: &model.Identity{ID: "user-1"},
			wantKind: RedirectRoleSelection,
			wantLoc:  "/role-selection",
		},
		{
			name:     "PROVIDERが自分の注文画面",
			path:     "/dashboard/provider/orders",
			identity: identityWithRole(model.RoleProvider),
			wantKind: Allow,
			wantLoc:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Decide(tt.path, tt.identity)
			if d.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", d.Kind, tt.wantKind)
			}
			if loc := d.Location(); loc != tt.wantLoc {
				t.Errorf("Location() = %q, want %q", loc, tt.wantLoc)
			}
		})
	}
}

func TestDecision_ZeroValueIsDeny(t *testing.T) {
	var d Decision
	if d.Allowed() {
		t.Fatal("zero-value Decision must not allow")
	}
	if d.Location() != UnauthorizedPath {
		t.Errorf("Location() = %q, want %q", d.Location(), UnauthorizedPath)
	}
}

func TestDecision_LocationEscapesReturnPath(t *testing.T) {
	d := Decision{Kind: RedirectLogin, ReturnPath: "/dashboard/client/orders"}
	want := "/signin?from=%2Fdashboard%2Fclient%2Forders"
	if got := d.Location(); got != want {
		t.Errorf("Location() = %q, want %q", got, want)
	}

	empty := Decision{Kind: RedirectLogin}
	if got := empty.Location(); got != "/signin" {
		t.Errorf("Location() = %q, want %q", got, "/signin")
	}
}
