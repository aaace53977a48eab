// Package session はセッション資格情報（署名付きトークン）の発行・検証とCookie操作を提供する。
// サーバー側にセッションテーブルは持たず、有効性は署名と有効期限のみで判定する。
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// ErrInvalid はトークンの署名不一致・期限切れ・形式不正を表す。
// 失敗理由は呼び出し元に区別させない。
var ErrInvalid = errors.New("invalid session token")

// Claims はセッショントークンのクレーム。
type Claims struct {
	User model.Profile `json:"user"`
	jwt.RegisteredClaims
}

// Codec はHS256でセッショントークンを発行・検証する。
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option はCodecの設定を変更する。
type Option func(*Codec)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// NewCodec はCodecを生成する。
func NewCodec(secret string, ttl time.Duration, opts ...Option) *Codec {
	c := &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL はトークンの有効期間を返す。
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue はプロフィールを埋め込んだトークンを発行し、有効期限とともに返す。
// 有効期限は秒単位に切り上げ、発行時点からttl未満にならないようにする。
func (c *Codec) Issue(profile model.Profile) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.ttl)
	if truncated := expiresAt.Truncate(time.Second); truncated.Before(expiresAt) {
		expiresAt = truncated.Add(time.Second)
	}

	claims := Claims{
		User: profile,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンを検証し、埋め込まれたプロフィールを返す。
// 失敗時は常にErrInvalidを返す。
func (c *Codec) Verify(token string) (model.Profile, error) {
	if token == "" {
		return model.Profile{}, ErrInvalid
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return model.Profile{}, ErrInvalid
	}
	if claims.User.Email == "" {
		return model.Profile{}, ErrInvalid
	}
	return claims.User, nil
}

// Renew はトークンを検証し、同じプロフィールで新しい有効期限のトークンを再発行する。
func (c *Codec) Renew(token string) (model.Profile, string, time.Time, error) {
	profile, err := c.Verify(token)
	if err != nil {
		return model.Profile{}, "", time.Time{}, err
	}
	renewed, expiresAt, err := c.Issue(profile)
	if err != nil {
		return model.Profile{}, "", time.Time{}, err
	}
	return profile, renewed, expiresAt, nil
}
