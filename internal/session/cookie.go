package session

import (
	"net/http"
	"time"
)

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	TTL    time.Duration
}

// Cookies はセッションCookieの読み書きを行う。
type Cookies struct {
	config CookieConfig
}

// NewCookies はCookiesを生成する。
func NewCookies(config CookieConfig) *Cookies {
	return &Cookies{config: config}
}

// Name はCookie名を返す。
func (c *Cookies) Name() string { return c.config.Name }

// Read はリクエストからセッショントークンを取り出す。
func (c *Cookies) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.config.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// Set はセッショントークンをHTTP Only Cookieとして設定する。
func (c *Cookies) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.config.Name,
		Value:    token,
		Path:     "/",
		Domain:   c.config.Domain,
		Expires:  expiresAt,
		MaxAge:   int(c.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: c.sameSite(),
	})
}

// Clear はセッションCookieを削除する。
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.config.Name,
		Value:    "",
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: c.sameSite(),
	})
}

// sameSite はクロスサイト送信にはSecure属性が必須のため、Secure時のみNoneを返す。
func (c *Cookies) sameSite() http.SameSite {
	if c.config.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
