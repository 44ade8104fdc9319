package model

import (
	"fmt"
	"strings"
)

// Role はユーザーの役割を表す閉じた列挙型。
// 有効な値は RoleAdmin、RoleProvider、RoleClient の3つのみ。
type Role string

const (
	// RoleAdmin は管理者。
	RoleAdmin Role = "ADMIN"
	// RoleProvider はサービス提供者。
	RoleProvider Role = "PROVIDER"
	// RoleClient はサービス利用者。
	RoleClient Role = "CLIENT"
)

// Roles は有効なロールの一覧を返す。
func Roles() []Role {
	return []Role{RoleAdmin, RoleProvider, RoleClient}
}

// Valid はロールが閉じた集合に含まれるかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleProvider, RoleClient:
		return true
	default:
		return false
	}
}

// SelfAssignable はユーザー自身がロール選択画面で選べるロールかを返す。
// ADMINは管理者による付与のみ。
func (r Role) SelfAssignable() bool {
	return r == RoleProvider || r == RoleClient
}

// String はロール名を返す。
func (r Role) String() string {
	return string(r)
}

// ParseRole は文字列をロールに変換する。
// 大文字小文字は区別しない（旧データの "admin" 等を受け付ける）。
// PROMOTER、MANAGEMENT などの旧ロールを含め、閉じた集合外の値はErrUnknownRoleを返す。
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// RolePtr はロールのポインタを返す。テストや任意ロールの組み立てで使用する。
func RolePtr(r Role) *Role {
	return &r
}
