package authz

import (
	"net/url"

	"github.com/hitoshi/servicehub/internal/model"
)

// 外部契約として固定されたリダイレクト先。
const (
	SignInPath        = "/signin"
	RoleSelectionPath = "/role-selection"
	UnauthorizedPath  = "/unauthorized"

	// ReturnPathParam はサインイン後の戻り先を渡すクエリパラメータ名。
	ReturnPathParam = "from"
)

// DecisionKind は認可判定の種別。
type DecisionKind int

const (
	// RedirectUnauthorized はゼロ値。判定が組み立てられなかった場合も拒否側に倒れる。
	RedirectUnauthorized DecisionKind = iota
	RedirectLogin
	RedirectRoleSelection
	Allow
)

// String は判定種別の名前を返す。ログとメトリクスのラベルに使用する。
func (k DecisionKind) String() string {
	switch k {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectRoleSelection:
		return "redirect_role_selection"
	default:
		return "redirect_unauthorized"
	}
}

// Decision はRoute Guardの判定結果。永続化しない値型。
type Decision struct {
	Kind DecisionKind
	// ReturnPath はRedirectLoginの場合のみ設定される元のリクエストパス。
	ReturnPath string
	// Reason は判定の理由。Allowの場合はnil。
	Reason error
}

// Allowed は通過を許可する判定かを返す。
func (d Decision) Allowed() bool {
	return d.Kind == Allow
}

// Location はリダイレクト先のURLを返す。Allowの場合は空文字列。
func (d Decision) Location() string {
	switch d.Kind {
	case Allow:
		return ""
	case RedirectLogin:
		if d.ReturnPath == "" {
			return SignInPath
		}
		return SignInPath + "?" + url.Values{ReturnPathParam: {d.ReturnPath}}.Encode()
	case RedirectRoleSelection:
		return RoleSelectionPath
	default:
		return UnauthorizedPath
	}
}

// Guard はリクエストパスとセッションから認可判定を行う。
type Guard struct {
	policy Policy
	routes *RouteTable
}

// NewGuard はGuardを生成する。
func NewGuard(policy Policy, routes *RouteTable) *Guard {
	return &Guard{policy: policy, routes: routes}
}

// Decide はパスと認証主体から判定を返す。
// 判定順序:
//  1. 認証主体なし → RedirectLogin(path)
//  2. ロール未割り当て → RedirectRoleSelection
//  3. 閉じた集合外のロール → RedirectUnauthorized (ErrUnknownRole)
//  4. 要求ロールをPolicyで判定し、不許可 → RedirectUnauthorized、許可 → Allow
func (g *Guard) Decide(path string, identity *model.Identity) Decision {
	if identity == nil {
		return Decision{Kind: RedirectLogin, ReturnPath: path, Reason: model.ErrUnauthenticated}
	}
	if identity.Role == nil {
		return Decision{Kind: RedirectRoleSelection, Reason: model.ErrNoRoleAssigned}
	}
	if !identity.Role.Valid() {
		return Decision{Kind: RedirectUnauthorized, Reason: model.ErrUnknownRole}
	}

	required := g.routes.RequiredRole(path)
	if !g.policy.IsAllowed(identity.Role, required) {
		return Decision{Kind: RedirectUnauthorized, Reason: model.ErrRoleNotPermitted}
	}

	return Decision{Kind: Allow}
}
