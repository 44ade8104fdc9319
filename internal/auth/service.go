// Package auth はOAuth認証フロー、セッションの発行と解決を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/servicehub/internal/model"
	"github.com/hitoshi/servicehub/internal/repository"
)

// ProviderGoogle はGoogle IdPの識別子。
const ProviderGoogle = "google"

// ErrAccountSuspended は停止中のアカウントでサインインしようとした場合のエラー。
var ErrAccountSuspended = errors.New("account is suspended")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// NameSanitizer はIdPから受け取った表示名を保存可能な形に整える。
type NameSanitizer interface {
	SanitizeDisplayName(raw string) string
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionTTL time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	sanitizer   NameSanitizer
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	sanitizer NameSanitizer,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		sanitizer:   sanitizer,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーはロール未割り当て(PENDING)で作成され、ガードによりロール選択へ誘導される。
// 停止中のユーザーにはセッションを発行しない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var userID string

	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
		}
		if user.Status == model.StatusSuspended {
			slog.Warn("suspended user attempted sign-in",
				slog.String("user_id", user.ID),
				slog.String("provider", userInfo.Provider),
			)
			return nil, ErrAccountSuspended
		}

		// 初回サインイン時に未検証だったメールアドレスをIdPの検証結果で更新する
		if user.EmailVerifiedAt == nil && userInfo.EmailVerified {
			if err := s.userRepo.MarkEmailVerified(ctx, user.ID, s.now()); err != nil {
				return nil, fmt.Errorf("failed to mark email verified: %w", err)
			}
		}

		userID = user.ID
		slog.Info("existing user logged in",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		newUser, newIdentity := s.newUser(userInfo)
		if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}

		userID = newUser.ID
		slog.Info("new user created",
			slog.String("user_id", userID),
			slog.String("provider", userInfo.Provider),
			slog.Bool("email_verified", userInfo.EmailVerified),
		)
	}

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// newUser はIdPのユーザー情報から未割り当てユーザーと外部identityを組み立てる。
func (s *Service) newUser(info *OAuthUserInfo) (*model.User, *model.ExternalIdentity) {
	now := s.now()

	name := s.sanitizer.SanitizeDisplayName(info.Name)
	if name == "" {
		name = emailLocalPart(info.Email)
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      name,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if info.EmailVerified {
		verifiedAt := now
		user.EmailVerifiedAt = &verifiedAt
	}

	identity := &model.ExternalIdentity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}
	return user, identity
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out")
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(s.config.SessionTTL),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
