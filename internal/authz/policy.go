// Package authz はロールベースの認可判定を提供する。
// ここに置く型はすべてI/Oを持たない純粋な判定関数であり、構築後は不変のため
// 複数のgoroutineから同時に利用できる。
package authz

import "github.com/hitoshi/servicehub/internal/model"

// Policy はロールと要求ロールの対応を判定する。
type Policy struct {
	// AdminOverride がtrueの場合、ADMINはすべての要求ロールを満たす。
	AdminOverride bool
}

// NewPolicy はPolicyを生成する。
func NewPolicy(adminOverride bool) Policy {
	return Policy{AdminOverride: adminOverride}
}

// IsAllowed はroleがrequiredを満たすかを返す。
// requiredがnilの場合は有効なロールを持つことのみを要求する。
// roleがnil、または閉じた集合外の値の場合は常にfalse。
func (p Policy) IsAllowed(role *model.Role, required *model.Role) bool {
	if role == nil || !role.Valid() {
		return false
	}
	if required == nil {
		return true
	}
	if !required.Valid() {
		return false
	}
	if *role == *required {
		return true
	}
	return p.AdminOverride && *role == model.RoleAdmin
}
