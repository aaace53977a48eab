package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/calendarbridge/internal/auth"
	"github.com/hitoshi/calendarbridge/internal/middleware"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	AuthorizationURL() string
	CompleteLogin(ctx context.Context, code, state string) (*auth.Session, error)
	LoginStatus(token string) (*auth.Session, bool)
	Logout(ctx context.Context, email string) error
}

// SessionCookies はセッションCookieの読み書きを行う。
type SessionCookies interface {
	Read(r *http.Request) (string, bool)
	Set(w http.ResponseWriter, token string, expiresAt time.Time)
	Clear(w http.ResponseWriter)
}

// AuthHandler はOAuth認証とセッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies SessionCookies
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies SessionCookies) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
	}
}

type authURLResponse struct {
	URL string `json:"url"`
}

type tokenResponse struct {
	User model.Profile `json:"user"`
}

type loggedInResponse struct {
	LoggedIn bool           `json:"loggedIn"`
	User     *model.Profile `json:"user,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// AuthURL は認可URLを返す。
// GET /auth/url
func (h *AuthHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, authURLResponse{URL: h.service.AuthorizationURL()})
}

// Token は認可コードを交換してセッションCookieを設定する。
// GET /auth/token?code=xxx[&state=yyy]
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingCodeError())
		return
	}

	sess, err := h.service.CompleteLogin(r.Context(), code, q.Get("state"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.cookies.Set(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{User: sess.Profile})
}

// LoggedIn はログイン状態を返す。有効な場合はCookieを再発行したもので上書きする。
// 検証に失敗した場合も常に200でloggedIn:falseを返す。
// GET /auth/logged_in
func (h *AuthHandler) LoggedIn(w http.ResponseWriter, r *http.Request) {
	token, _ := h.cookies.Read(r)
	sess, ok := h.service.LoginStatus(token)
	if !ok {
		writeJSON(w, http.StatusOK, loggedInResponse{LoggedIn: false})
		return
	}

	h.cookies.Set(w, sess.Token, sess.ExpiresAt)
	writeJSON(w, http.StatusOK, loggedInResponse{LoggedIn: true, User: &sess.Profile})
}

// Logout はリフレッシュ資格情報を破棄し、セッションCookieを削除する。
// POST /auth/logout/{email}
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.EmailFromContext(r.Context())); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.cookies.Clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}
