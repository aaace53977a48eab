// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/calendarbridge/internal/metrics"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// profileContextKey はリクエストコンテキストに認証済みプロフィールを格納するためのキー。
var profileContextKey = contextKey("profile")

// SessionRenewer はセッション資格情報の検証と再発行を行う。
type SessionRenewer interface {
	Renew(token string) (model.Profile, string, time.Time, error)
}

// SessionCookies はセッションCookieの読み書きを行う。
type SessionCookies interface {
	Read(r *http.Request) (string, bool)
	Set(w http.ResponseWriter, token string, expiresAt time.Time)
}

// NewSessionMiddleware はCookieのセッション資格情報を検証するミドルウェアを返す。
// 有効な場合は再発行した資格情報でCookieを上書きし、プロフィールをコンテキストに注入する。
// 欠落・改ざん・期限切れはいずれも区別せず401を返す。
func NewSessionMiddleware(renewer SessionRenewer, cookies SessionCookies, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := cookies.Read(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			profile, renewed, expiresAt, err := renewer.Renew(token)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			cookies.Set(w, renewed, expiresAt)
			mc.RecordSessionRenewal()
			recordEmail(r.Context(), profile.Email)

			next.ServeHTTP(w, r.WithContext(ContextWithProfile(r.Context(), profile)))
		})
	}
}

// ProfileFromContext はリクエストコンテキストから認証済みプロフィールを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func ProfileFromContext(ctx context.Context) (model.Profile, bool) {
	profile, ok := ctx.Value(profileContextKey).(model.Profile)
	if !ok || profile.Email == "" {
		return model.Profile{}, false
	}
	return profile, true
}

// EmailFromContext は認証済みユーザーのemailを返す。未認証の場合は空文字列。
func EmailFromContext(ctx context.Context) string {
	profile, _ := ProfileFromContext(ctx)
	return profile.Email
}

// ContextWithProfile はコンテキストにプロフィールを注入する。
func ContextWithProfile(ctx context.Context, profile model.Profile) context.Context {
	return context.WithValue(ctx, profileContextKey, profile)
}
