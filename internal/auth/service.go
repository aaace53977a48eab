// Package auth はOAuth認可コードフローとログイン・ログアウトのユースケースを提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/calendarbridge/internal/metrics"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// Identity はIDプロバイダーから取得した本人情報とリフレッシュ資格情報。
type Identity struct {
	Profile           model.Profile
	RefreshCredential string
}

// OAuthProvider はOAuth認可コードフローを提供するプロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL は認可エンドポイントのURLを生成する。副作用はない。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、本人情報を返す。
	ExchangeCode(ctx context.Context, code string) (*Identity, error)
}

// CredentialStore はログイン結果を永続化するストアのインターフェース。
type CredentialStore interface {
	SaveLogin(ctx context.Context, profile model.Profile, refreshCredential string) (*model.User, error)
	Revoke(ctx context.Context, email string) error
}

// TokenIssuer はセッション資格情報の発行・再発行を行う。
type TokenIssuer interface {
	Issue(profile model.Profile) (string, time.Time, error)
	Renew(token string) (model.Profile, string, time.Time, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	State string // 認可リクエストに付与するstateマーカー
}

// Session は発行済みのセッション資格情報。
type Session struct {
	Profile   model.Profile
	Token     string
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth   OAuthProvider
	store   CredentialStore
	tokens  TokenIssuer
	config  ServiceConfig
	metrics metrics.MetricsCollector
}

// NewService はServiceを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(
	oauth OAuthProvider,
	store CredentialStore,
	tokens TokenIssuer,
	config ServiceConfig,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		oauth:   oauth,
		store:   store,
		tokens:  tokens,
		config:  config,
		metrics: mc,
	}
}

// AuthorizationURL は認可URLを返す。
func (s *Service) AuthorizationURL() string {
	return s.oauth.AuthCodeURL(s.config.State)
}

// CompleteLogin は認可コードを交換してユーザーを保存し、セッション資格情報を発行する。
// stateが指定された場合は設定値と一致しなければならない。
func (s *Service) CompleteLogin(ctx context.Context, code, state string) (*Session, error) {
	if state != "" && state != s.config.State {
		s.metrics.RecordLogin(metrics.OutcomeRejected)
		return nil, model.NewAuthorizationError("state mismatch")
	}

	identity, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLogin(loginOutcome(err))
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	user, err := s.store.SaveLogin(ctx, identity.Profile, identity.RefreshCredential)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to save login: %w", err)
	}
	if !user.HasCredential() {
		slog.Warn("login completed without refresh credential",
			slog.String("email", user.Email),
		)
	}

	token, expiresAt, err := s.tokens.Issue(identity.Profile)
	if err != nil {
		s.metrics.RecordLogin(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.metrics.RecordLogin(metrics.OutcomeSuccess)
	slog.Info("user logged in", slog.String("email", user.Email))

	return &Session{Profile: identity.Profile, Token: token, ExpiresAt: expiresAt}, nil
}

// LoginStatus はセッション資格情報を検証し、有効なら再発行したものを返す。
// 無効な場合は理由を区別せずfalseを返す。
func (s *Service) LoginStatus(token string) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	profile, renewed, expiresAt, err := s.tokens.Renew(token)
	if err != nil {
		return nil, false
	}
	s.metrics.RecordSessionRenewal()
	return &Session{Profile: profile, Token: renewed, ExpiresAt: expiresAt}, true
}

// Logout はユーザーのリフレッシュ資格情報を破棄する。
// ユーザーやミラー済みイベントは削除しない。
func (s *Service) Logout(ctx context.Context, email string) error {
	if err := s.store.Revoke(ctx, email); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	slog.Info("user logged out", slog.String("email", email))
	return nil
}

func loginOutcome(err error) string {
	if model.HasCode(err, model.ErrCodeAuthorization) || model.HasCode(err, model.ErrCodeMissingCode) {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}
