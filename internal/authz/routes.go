package authz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/servicehub/internal/model"
)

// RouteRule はパスプレフィックスと要求ロールの対応。
type RouteRule struct {
	Prefix string
	Role   model.Role
}

// DefaultRouteRules はダッシュボードとAPIのロール別プレフィックス。
func DefaultRouteRules() []RouteRule {
	return []RouteRule{
		{Prefix: "/dashboard/admin", Role: model.RoleAdmin},
		{Prefix: "/dashboard/provider", Role: model.RoleProvider},
		{Prefix: "/dashboard/client", Role: model.RoleClient},
		{Prefix: "/api/admin", Role: model.RoleAdmin},
		{Prefix: "/api/provider", Role: model.RoleProvider},
		{Prefix: "/api/client", Role: model.RoleClient},
	}
}

// RouteTable はパスから要求ロールを導出する静的テーブル。
// 照合はパスセグメント単位の最長一致で、大文字小文字を区別する。
// /dashboard/admin は /dashboard/admin/users に一致し、/dashboard/administrator には一致しない。
type RouteTable struct {
	rules []RouteRule // Prefixの長い順
}

// NewRouteTable はRouteTableを生成する。
// プレフィックスの重複、空のプレフィックス、閉じた集合外のロールはエラーになる。
func NewRouteTable(rules []RouteRule) (*RouteTable, error) {
	seen := make(map[string]struct{}, len(rules))
	sorted := make([]RouteRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Prefix == "" || !strings.HasPrefix(rule.Prefix, "/") {
			return nil, fmt.Errorf("invalid route prefix: %q", rule.Prefix)
		}
		if !rule.Role.Valid() {
			return nil, fmt.Errorf("route %s: %w: %q", rule.Prefix, model.ErrUnknownRole, rule.Role)
		}
		if _, dup := seen[rule.Prefix]; dup {
			return nil, fmt.Errorf("duplicate route prefix: %s", rule.Prefix)
		}
		seen[rule.Prefix] = struct{}{}
		sorted = append(sorted, rule)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	return &RouteTable{rules: sorted}, nil
}

// MustRouteTable はNewRouteTableのエラー時にpanicする版。
// パッケージ初期化や固定テーブルの構築で使用する。
func MustRouteTable(rules []RouteRule) *RouteTable {
	t, err := NewRouteTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}

// RequiredRole はパスに対する要求ロールを返す。
// どのプレフィックスにも一致しない場合はnil（認証済みであれば可）。
func (t *RouteTable) RequiredRole(path string) *model.Role {
	for _, rule := range t.rules {
		if matchesPrefix(path, rule.Prefix) {
			role := rule.Role
			return &role
		}
	}
	return nil
}

func matchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(path, prefix)
	}
	return strings.HasPrefix(path, prefix+"/")
}
