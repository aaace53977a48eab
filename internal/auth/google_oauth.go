package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hitoshi/calendarbridge/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

const (
	googleIssuer  = "https://accounts.google.com"
	googleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// Scopes は認可リクエストで要求するスコープ。本人確認とカレンダーの読み書き。
var Scopes = []string{oidc.ScopeOpenID, "profile", "email", calendar.CalendarScope}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能な項目
	Endpoint   oauth2.Endpoint
	Issuer     string
	KeySet     oidc.KeySet
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogle OAuth 2.0の認可コードフローを提供する。
type GoogleOAuthProvider struct {
	oauth2     *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// IDトークンの署名はGoogleの公開鍵で検証する。鍵は初回検証時に取得する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := config.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	issuer := config.Issuer
	if issuer == "" {
		issuer = googleIssuer
	}

	keySet := config.KeySet
	if keySet == nil {
		ctx := context.Background()
		if config.HTTPClient != nil {
			ctx = oidc.ClientContext(ctx, config.HTTPClient)
		}
		keySet = oidc.NewRemoteKeySet(ctx, googleJWKSURL)
	}

	return &GoogleOAuthProvider{
		oauth2: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		verifier:   oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: config.ClientID}),
		httpClient: config.HTTPClient,
	}
}

// OAuth2Config は委任アクセスのトークン更新に使うoauth2設定を返す。
func (p *GoogleOAuthProvider) OAuth2Config() *oauth2.Config {
	return p.oauth2
}

// AuthCodeURL は認可エンドポイントのURLを生成する。
// リフレッシュ資格情報を得るためaccess_type=offlineとprompt=consentを付与する。
func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// idTokenClaims はIDトークンから取り出すクレーム。
type idTokenClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// ExchangeCode は認可コードをトークンに交換し、検証済みのIDトークンから本人情報を取り出す。
// アクセストークンは保持せず、リフレッシュ資格情報のみを返す。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*Identity, error) {
	if strings.TrimSpace(code) == "" {
		return nil, model.NewMissingCodeError()
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			slog.Warn("authorization code rejected",
				slog.String("error_code", retrieveErr.ErrorCode),
				slog.Int("status", responseStatus(retrieveErr)),
			)
			return nil, fmt.Errorf("token exchange rejected: %w", model.NewAuthorizationError("authorization code was rejected"))
		}
		return nil, fmt.Errorf("token exchange failed: %v: %w", err, model.NewUpstreamError())
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, model.NewAuthorizationError("no identity token in provider response")
	}

	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.client()), rawIDToken)
	if err != nil {
		slog.Warn("identity token verification failed", slog.String("error", err.Error()))
		return nil, model.NewAuthorizationError("identity token could not be verified")
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse identity claims: %v: %w", err, model.NewAuthorizationError("malformed identity token"))
	}
	if claims.Email == "" {
		return nil, model.NewAuthorizationError("identity token has no email")
	}

	return &Identity{
		Profile: model.Profile{
			Email:   claims.Email,
			Name:    claims.Name,
			Picture: claims.Picture,
		},
		RefreshCredential: token.RefreshToken,
	}, nil
}

func (p *GoogleOAuthProvider) client() *http.Client {
	if p.httpClient != nil {
		return p.httpClient
	}
	return http.DefaultClient
}

func responseStatus(err *oauth2.RetrieveError) int {
	if err.Response == nil {
		return 0
	}
	return err.Response.StatusCode
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
