// Package auth は認証フロー（パスワード認証、OAuth認証）とセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/importdash/internal/model"
	"github.com/hitoshi/importdash/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// MetricsRecorder は認証イベントのメトリクス記録インターフェース。
// metrics.Collectorが実装する。nilの場合は記録しない。
type MetricsRecorder interface {
	RecordSignIn(method string, success bool)
	RecordSessionRevoked()
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// SignUpInput はメール/パスワード登録の入力。
type SignUpInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Service は認証に関するビジネスロジックを提供する。
// ストアハンドルはリポジトリ経由で明示的に注入され、
// グローバル変数からの再取得は行わない。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	metrics     MetricsRecorder
	config      ServiceConfig
}

// NewService はServiceを生成する。
// oauthはプロバイダー未設定時にnilを許容する（Google関連エンドポイントは登録されない）。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		metrics:     metrics,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// SignUp はメール/パスワードで新規ユーザーを登録する。
// パスワードはbcryptハッシュとして保存する。平文は保存もログ出力もしない。
// メールアドレスが既に登録済みの場合はCONFLICTエラーを返す。
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (*model.User, error) {
	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        input.Email,
		Name:         input.FirstName + " " + input.LastName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("new user signed up",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)
	return user, nil
}

// AuthenticateCredentials はメール/パスワードを検証し、セッションを発行する。
// メールアドレス不明・パスワード未設定・パスワード不一致のいずれも
// 同一のINVALID_CREDENTIALSエラーを返し、どのケースかを区別させない。
// ユーザー不在時もダミーハッシュと比較し、応答時間を揃える。
func (s *Service) AuthenticateCredentials(ctx context.Context, email, password string) (*model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	if user == nil || !user.HasPassword() {
		compareDummyPassword(password)
		s.recordSignIn("credentials", false)
		return nil, model.NewInvalidCredentialsError()
	}

	if !VerifyPassword(user.PasswordHash, password) {
		s.recordSignIn("credentials", false)
		return nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recordSignIn("credentials", true)
	slog.Info("user logged in with credentials",
		slog.String("user_id", user.ID),
	)
	return session, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// ユーザー解決は3段階:
//  1. (provider, provider_user_id) のidentityが存在すればその所有ユーザー。
//  2. プロバイダーが主張するメールアドレスのユーザーが既に存在すれば、
//     追加検証なしでidentityを紐付けてそのユーザーを返す（自動リンク）。
//  3. いずれもなければユーザー（パスワードなし）とidentityを同時に新規作成。
//
// 手順2はプロバイダーのメールアドレス主張を信用する明示的なトレードオフであり、
// プロバイダー側でそのメールを支配する攻撃者が既存アカウントを
// 乗っ取れることを意味する。ポリシー変更はプロダクト/セキュリティ承認事項。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.recordSignIn("oauth", false)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.resolveProviderUser(ctx, userInfo)
	if err != nil {
		s.recordSignIn("oauth", false)
		return nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recordSignIn("oauth", true)
	return session, nil
}

// resolveProviderUser は外部IdPのユーザー情報をローカルユーザーに解決する。
func (s *Service) resolveProviderUser(ctx context.Context, userInfo *OAuthUserInfo) (*model.User, error) {
	// 1. identityで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		user, err := s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s refers to missing user %s", identity.ID, identity.UserID)
		}
		slog.Info("existing user logged in via provider",
			slog.String("user_id", user.ID),
			slog.String("provider", userInfo.Provider),
		)
		return user, nil
	}

	// 2. メールアドレス一致による自動リンク
	existing, err := s.userRepo.FindByEmail(ctx, userInfo.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		newIdentity := &model.Identity{
			ID:             uuid.New().String(),
			UserID:         existing.ID,
			Provider:       userInfo.Provider,
			ProviderUserID: userInfo.ProviderUserID,
			CreatedAt:      time.Now(),
		}
		if err := s.identRepo.Create(ctx, newIdentity); err != nil {
			return nil, fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Warn("linked provider identity to existing account by email claim",
			slog.String("user_id", existing.ID),
			slog.String("provider", userInfo.Provider),
			slog.String("provider_user_id", userInfo.ProviderUserID),
		)
		return existing, nil
	}

	// 3. 新規ユーザー: usersレコードとidentitiesレコードを同時に作成
	now := time.Now()
	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     userInfo.Email,
		Name:      userInfo.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       userInfo.Provider,
		ProviderUserID: userInfo.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created via provider",
		slog.String("user_id", newUser.ID),
		slog.String("email", userInfo.Email),
		slog.String("provider", userInfo.Provider),
	)
	return newUser, nil
}

// Logout はセッションを失効させる。
// 不明・失効済みトークンでもエラーにならない（冪等）。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordSessionRevoked()
	}
	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// ResolveSession はセッショントークンからユーザーを解決する。
// トークンが不明・期限切れ・失効済みの場合は(nil, nil)を返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

func (s *Service) recordSignIn(method string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordSignIn(method, success)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
