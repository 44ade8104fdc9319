// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はIdPから受け取った表示名などのプロフィール文字列から
// マークアップを除去し、プレーンテキストとして保存できる形に整える。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength はusers.nameカラムに収まる最大文字数。
const MaxDisplayNameLength = 255

// ProfileSanitizerService はプロフィール文字列のサニタイズ機能のインターフェース。
type ProfileSanitizerService interface {
	// SanitizeDisplayName は全てのHTMLタグを除去し、空白を正規化した表示名を返す。
	SanitizeDisplayName(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのStrictPolicyは並行利用に対して安全。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はタグを一切許可しないポリシーでサニタイザーを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeDisplayName は表示名からタグを除去する。
// bluemondayがエスケープした文字実体はJSONで返すため元の文字に戻す。
func (s *profileSanitizer) SanitizeDisplayName(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	name := strings.Join(strings.Fields(stripped), " ")

	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
	}
	return name
}
