package model

import (
	"errors"
	"fmt"
)

// 認可フローのエラー分類。
// ErrStoreUnavailable と ErrUnknownRole は運用エラーとしてログに記録する。
// それ以外は想定内の制御フローであり、対応するリダイレクトに変換される。
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrNoRoleAssigned   = errors.New("no role assigned")
	ErrRoleNotPermitted = errors.New("role not permitted")
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrUnknownRole      = errors.New("unknown role")
)

// IsOperational は運用監視の対象となるエラーかを返す。
func IsOperational(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrUnknownRole)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
	Location string // 遷移先（リダイレクト相当のレスポンスでのみ設定）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeRoleRequired       = "ROLE_REQUIRED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidRole        = "INVALID_ROLE"
	ErrCodeRoleAlreadyChosen  = "ROLE_ALREADY_ASSIGNED"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	ErrCodeSelfLockout        = "SELF_LOCKOUT"
)

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError(location string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "サインインしてから再度お試しください。",
		Location: location,
	}
}

// NewRoleRequiredError はロール未選択エラーを生成する。
func NewRoleRequiredError(location string) *APIError {
	return &APIError{
		Code:     ErrCodeRoleRequired,
		Message:  "ロールが選択されていません。",
		Category: "auth",
		Action:   "ロール選択画面で利用形態を選択してください。",
		Location: location,
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(location string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "このページへのアクセス権限がありません。",
		Category: "auth",
		Action:   "アカウントのロールを確認してください。",
		Location: location,
	}
}

// NewInvalidRoleError は無効なロール指定エラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "ロールには ADMIN、PROVIDER、CLIENT のいずれかを指定してください。",
	}
}

// NewRoleNotSelectableError は自己選択できないロールを指定した場合のエラーを生成する。
func NewRoleNotSelectableError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("このロールは選択できません: %s", role),
		Category: "validation",
		Action:   "PROVIDER または CLIENT を選択してください。",
	}
}

// NewRoleAlreadyAssignedError はロールが既に割り当て済みの場合のエラーを生成する。
func NewRoleAlreadyAssignedError() *APIError {
	return &APIError{
		Code:     ErrCodeRoleAlreadyChosen,
		Message:  "ロールは既に割り当てられています。",
		Category: "auth",
		Action:   "ロールの変更は管理者に依頼してください。",
	}
}

// NewInvalidStatusError は無効なアカウント状態指定エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効なアカウント状態です: %s", status),
		Category: "validation",
		Action:   "状態には ACTIVE または SUSPENDED を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewSelfLockoutError は管理者が自分自身の権限を失う操作をした場合のエラーを生成する。
func NewSelfLockoutError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfLockout,
		Message:  "自分自身のロール降格やアカウント停止はできません。",
		Category: "validation",
		Action:   "別の管理者に操作を依頼してください。",
	}
}

// NewInvalidRequestBodyError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequestBody,
		Message:  "リクエストボディの形式が不正です。",
		Category: "validation",
		Action:   "JSON形式で必要な項目を指定してください。",
	}
}
