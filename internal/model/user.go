// Package model はドメインモデルを定義する。
package model

import "time"

// AccountStatus はアカウントの状態を表す。
type AccountStatus string

const (
	// StatusPending は登録直後でロール未選択の状態。
	StatusPending AccountStatus = "PENDING"
	// StatusActive は利用可能な状態。
	StatusActive AccountStatus = "ACTIVE"
	// StatusSuspended は管理者により停止された状態。
	StatusSuspended AccountStatus = "SUSPENDED"
)

// Valid はアカウント状態が定義済みの値かを返す。
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	default:
		return false
	}
}

// User はサービス利用ユーザーを表す。
// Roleはロール選択が完了するまでnil。
type User struct {
	ID              string
	Email           string
	Name            string
	Role            *Role
	EmailVerifiedAt *time.Time
	Status          AccountStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Identity はセッションから解決された認証済みの主体を表す。
// 認可判定に必要な属性のみを持つ。
type Identity struct {
	ID              string
	Email           string
	Name            string
	Role            *Role
	EmailVerifiedAt *time.Time
	Status          AccountStatus
}

// HasRole はロールが割り当て済みかを返す。
func (i *Identity) HasRole() bool {
	return i != nil && i.Role != nil
}

// EmailVerified はメールアドレスが検証済みかを返す。
func (i *Identity) EmailVerified() bool {
	return i != nil && i.EmailVerifiedAt != nil
}

// IdentityOf はユーザーから認証主体を組み立てる。
func IdentityOf(u *User) *Identity {
	if u == nil {
		return nil
	}
	return &Identity{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		EmailVerifiedAt: u.EmailVerifiedAt,
		Status:          u.Status,
	}
}

// ExternalIdentity は外部IdPとの紐付け情報を表す。
type ExternalIdentity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが指定時刻の時点で期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
