package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/calendarbridge/internal/auth"
	"github.com/hitoshi/calendarbridge/internal/middleware"
	"github.com/hitoshi/calendarbridge/internal/model"
	"github.com/hitoshi/calendarbridge/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	authorizationURLFn func() string
	completeLoginFn    func(ctx context.Context, code, state string) (*auth.Session, error)
	loginStatusFn      func(token string) (*auth.Session, bool)
	logoutFn           func(ctx context.Context, email string) error
}

func (m *mockAuthService) AuthorizationURL() string { return m.authorizationURLFn() }
func (m *mockAuthService) CompleteLogin(ctx context.Context, code, state string) (*auth.Session, error) {
	return m.completeLoginFn(ctx, code, state)
}
func (m *mockAuthService) LoginStatus(token string) (*auth.Session, bool) {
	return m.loginStatusFn(token)
}
func (m *mockAuthService) Logout(ctx context.Context, email string) error {
	return m.logoutFn(ctx, email)
}

var _ AuthServiceInterface = (*mockAuthService)(nil)

var alice = model.Profile{Email: "alice@example.com", Name: "Alice", Picture: "https://example.com/a.png"}

func testCookies() *session.Cookies {
	return session.NewCookies(session.CookieConfig{Name: "token", TTL: time.Hour})
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_AuthURL_ReturnsURL(t *testing.T) {
	svc := &mockAuthService{
		authorizationURLFn: func() string { return "https://accounts.google.com/o/oauth2/auth?state=s" },
	}
	h := NewAuthHandler(svc, testCookies())

	rec := httptest.NewRecorder()
	h.AuthURL(rec, httptest.NewRequest(http.MethodGet, "/auth/url", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body authURLResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.URL != "https://accounts.google.com/o/oauth2/auth?state=s" {
		t.Errorf("unexpected url: %q", body.URL)
	}
}

func TestAuthHandler_Token_SetsCookieAndReturnsUser(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	var gotCode, gotState string
	svc := &mockAuthService{
		completeLoginFn: func(_ context.Context, code, state string) (*auth.Session, error) {
			gotCode, gotState = code, state
			return &auth.Session{Profile: alice, Token: "session-token", ExpiresAt: exp}, nil
		},
	}
	h := NewAuthHandler(svc, testCookies())

	rec := httptest.NewRecorder()
	h.Token(rec, httptest.NewRequest(http.MethodGet, "/auth/token?code=abc&state=xyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCode != "abc" || gotState != "xyz" {
		t.Errorf("code/state = %q/%q, want abc/xyz", gotCode, gotState)
	}

	cookie := findCookie(rec.Result(), "token")
	if cookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if cookie.Value != "session-token" {
		t.Errorf("cookie value = %q, want session-token", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	var body tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.User != alice {
		t.Errorf("user = %+v, want %+v", body.User, alice)
	}
}

func TestAuthHandler_Token_MissingCode(t *testing.T) {
	called := false
	svc := &mockAuthService{
		completeLoginFn: func(context.Context, string, string) (*auth.Session, error) {
			called = true
			return nil, nil
		},
	}
	h := NewAuthHandler(svc, testCookies())

	rec := httptest.NewRecorder()
	h.Token(rec, httptest.NewRequest(http.MethodGet, "/auth/token", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if called {
		t.Error("service must not be called without a code")
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Code != model.ErrCodeMissingCode {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeMissingCode)
	}
	if findCookie(rec.Result(), "token") != nil {
		t.Error("no cookie should be set on failure")
	}
}

func TestAuthHandler_Token_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rejected code", model.NewAuthorizationError("authorization code was rejected"), http.StatusBadRequest},
		{"upstream failure", model.NewUpstreamError(), http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				completeLoginFn: func(context.Context, string, string) (*auth.Session, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(svc, testCookies())

			rec := httptest.NewRecorder()
			h.Token(rec, httptest.NewRequest(http.MethodGet, "/auth/token?code=used", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if findCookie(rec.Result(), "token") != nil {
				t.Error("no cookie should be set on failure")
			}
		})
	}
}

func TestAuthHandler_LoggedIn(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	svc := &mockAuthService{
		loginStatusFn: func(token string) (*auth.Session, bool) {
			if token != "valid" {
				return nil, false
			}
			return &auth.Session{Profile: alice, Token: "renewed", ExpiresAt: exp}, true
		},
	}
	h := NewAuthHandler(svc, testCookies())

	tests := []struct {
		name       string
		cookie     string
		wantLogged bool
		wantCookie string
	}{
		{"valid session", "valid", true, "renewed"},
		{"tampered session", "tampered", false, ""},
		{"no cookie", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/logged_in", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.LoggedIn(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var body loggedInResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if body.LoggedIn != tt.wantLogged {
				t.Errorf("loggedIn = %v, want %v", body.LoggedIn, tt.wantLogged)
			}
			if tt.wantLogged && (body.User == nil || body.User.Email != alice.Email) {
				t.Errorf("user = %+v, want %s", body.User, alice.Email)
			}
			if !tt.wantLogged && body.User != nil {
				t.Errorf("user must be omitted when logged out, got %+v", body.User)
			}

			cookie := findCookie(rec.Result(), "token")
			switch {
			case tt.wantCookie == "" && cookie != nil:
				t.Errorf("unexpected cookie %q", cookie.Value)
			case tt.wantCookie != "" && (cookie == nil || cookie.Value != tt.wantCookie):
				t.Errorf("expected renewed cookie %q, got %+v", tt.wantCookie, cookie)
			}
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCleared bool
	}{
		{"success", nil, http.StatusOK, true},
		{"unknown user", model.NewUserNotFoundError(), http.StatusNotFound, false},
		{"store failure", errors.New("db down"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotEmail string
			svc := &mockAuthService{
				logoutFn: func(_ context.Context, email string) error {
					gotEmail = email
					return tt.err
				},
			}
			h := NewAuthHandler(svc, testCookies())

			r := chi.NewRouter()
			r.Use(asUser("alice@example.com"))
			r.Post("/auth/logout/{email}", h.Logout)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/logout/alice@example.com", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if gotEmail != "alice@example.com" {
				t.Errorf("email = %q", gotEmail)
			}
			cookie := findCookie(rec.Result(), "token")
			cleared := cookie != nil && cookie.MaxAge < 0
			if cleared != tt.wantCleared {
				t.Errorf("cookie cleared = %v, want %v", cleared, tt.wantCleared)
			}
			if tt.err == nil {
				var body messageResponse
				json.NewDecoder(rec.Body).Decode(&body)
				if body.Message != "Logged out successfully" {
					t.Errorf("message = %q", body.Message)
				}
			}
		})
	}
}
