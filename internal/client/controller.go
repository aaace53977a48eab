// Package client はブラウザ側のセッション状態を管理するコントローラーを提供する。
// バックエンドのHTTP APIを呼び出し、ログイン状態とイベント一覧をメモリ上に保持する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/calendarbridge/internal/model"
	"golang.org/x/net/publicsuffix"
)

// State はコントローラーの認証状態。
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// RouteHome はホーム画面のルート。未認証時はログイン画面を表示する。
const RouteHome = "/"

const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
)

// Navigator は画面遷移を行う。
type Navigator interface {
	// Redirect は外部URLへページ全体を遷移させる。
	Redirect(url string)
	// Navigate はアプリ内のルートへ遷移する。
	Navigate(route string)
}

// Config はControllerの設定。
type Config struct {
	BaseURL    string
	Navigator  Navigator
	HTTPClient *http.Client // nilの場合はCookieJar付きのクライアントを生成する
	Timeout    time.Duration
}

// Controller はログイン状態の遷移と保護されたAPI呼び出しを管理する。
// 曖昧な状態は常に未認証として扱う。
type Controller struct {
	base *url.URL
	http *http.Client
	nav  Navigator

	mu      sync.Mutex
	state   State
	profile *model.Profile
	events  []model.Event

	exchangeMu sync.Mutex
	exchanges  map[string]*exchange
}

// exchange は認可コード1つに対する1回限りのトークン交換。
type exchange struct {
	once sync.Once
	err  error
}

// New はControllerを生成する。
func New(cfg Config) (*Controller, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Navigator == nil {
		return nil, errors.New("navigator is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c := *httpClient
		c.Jar = jar
		httpClient = &c
	}

	return &Controller{
		base:      base,
		http:      httpClient,
		nav:       cfg.Navigator,
		state:     StateUnknown,
		exchanges: make(map[string]*exchange),
	}, nil
}

// State は現在の認証状態を返す。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Profile は認証済みユーザーのプロフィールを返す。
func (c *Controller) Profile() (model.Profile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return model.Profile{}, false
	}
	return *c.profile, true
}

// Events はメモリ上のイベント一覧のコピーを返す。
func (c *Controller) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

type loggedInBody struct {
	LoggedIn bool           `json:"loggedIn"`
	User     *model.Profile `json:"user"`
}

// CheckLogin はログイン状態を問い合わせて状態を更新する。
// 通信失敗を含むあらゆる失敗は未認証として扱う。
func (c *Controller) CheckLogin(ctx context.Context) State {
	var body loggedInBody
	if err := c.do(ctx, http.MethodGet, "/auth/logged_in", nil, &body); err != nil {
		slog.Debug("login status check failed", slog.String("error", err.Error()))
		c.becomeUnauthenticated()
		return StateUnauthenticated
	}
	if !body.LoggedIn || body.User == nil {
		c.becomeUnauthenticated()
		return StateUnauthenticated
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	profile := *body.User
	c.profile = &profile
	c.state = StateAuthenticated
	return StateAuthenticated
}

// Login は認可URLを取得し、認可画面へリダイレクトする。
func (c *Controller) Login(ctx context.Context) error {
	var body struct {
		URL string `json:"url"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/url", nil, &body); err != nil {
		return fmt.Errorf("failed to get authorization url: %w", err)
	}
	if body.URL == "" {
		return errors.New("empty authorization url")
	}
	c.nav.Redirect(body.URL)
	return nil
}

// HandleCallback は認可コールバックURLを処理する。
// 認証済みなら交換せずホームへ遷移する。未認証ならコードを1回だけ交換し、
// ログイン状態を再取得してからホームへ遷移する。同じコードで重複して呼ばれても交換は1回のみ。
func (c *Controller) HandleCallback(ctx context.Context, callbackURL string) error {
	if c.State() == StateAuthenticated {
		c.nav.Navigate(RouteHome)
		return nil
	}

	u, err := url.Parse(callbackURL)
	if err != nil {
		c.nav.Navigate(RouteHome)
		return fmt.Errorf("invalid callback url: %w", err)
	}
	q := u.Query()
	code := q.Get("code")
	if code == "" {
		c.nav.Navigate(RouteHome)
		return model.NewMissingCodeError()
	}

	ex, first := c.exchangeFor(code)
	ex.once.Do(func() {
		params := url.Values{"code": {code}}
		if state := q.Get("state"); state != "" {
			params.Set("state", state)
		}
		ex.err = c.do(ctx, http.MethodGet, "/auth/token?"+params.Encode(), nil, nil)
	})
	if !first {
		return ex.err
	}

	if ex.err == nil {
		c.CheckLogin(ctx)
	}
	c.nav.Navigate(RouteHome)
	return ex.err
}

// exchangeFor はコードに対応する交換を返す。最初の呼び出しかどうかも返す。
func (c *Controller) exchangeFor(code string) (*exchange, bool) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	if ex, ok := c.exchanges[code]; ok {
		return ex, false
	}
	ex := &exchange{}
	c.exchanges[code] = ex
	return ex, true
}

// LoadEvents は直近のイベントを取得してメモリ上の一覧を置き換える。
func (c *Controller) LoadEvents(ctx context.Context) ([]model.Event, error) {
	email, err := c.currentEmail()
	if err != nil {
		return nil, err
	}

	var events []model.Event
	if err := c.protected(ctx, http.MethodGet, "/calendar-events/"+url.PathEscape(email), nil, &events); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.events = events
	c.mu.Unlock()
	return slices.Clone(events), nil
}

// Schedule はイベントを登録し、メモリ上の一覧に追加する。
func (c *Controller) Schedule(ctx context.Context, draft model.EventDraft) (model.Event, error) {
	email, err := c.currentEmail()
	if err != nil {
		return model.Event{}, err
	}

	var created model.Event
	if err := c.protected(ctx, http.MethodPost, "/schedule-event/"+url.PathEscape(email), draft, &created); err != nil {
		return model.Event{}, err
	}

	c.mu.Lock()
	c.events = append(c.events, created)
	c.mu.Unlock()
	return created, nil
}

// DeleteEvent はイベントを削除し、メモリ上の一覧から取り除く。
// リモートに既に存在しない場合も削除済みとして扱う。
func (c *Controller) DeleteEvent(ctx context.Context, eventID string) error {
	email, err := c.currentEmail()
	if err != nil {
		return err
	}

	path := "/delete-event/" + url.PathEscape(eventID) + "/" + url.PathEscape(email)
	err = c.protected(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !model.HasCode(err, model.ErrCodeRemoteNotFound) {
		return err
	}

	c.mu.Lock()
	c.events = slices.DeleteFunc(c.events, func(e model.Event) bool { return e.ID == eventID })
	c.mu.Unlock()
	return nil
}

// Logout はバックエンドのログアウトを呼び出し、ローカルの状態を破棄する。
// バックエンド呼び出しが失敗してもローカルは未認証に遷移する。
func (c *Controller) Logout(ctx context.Context) error {
	email, err := c.currentEmail()
	if err != nil {
		c.becomeUnauthenticated()
		c.nav.Navigate(RouteHome)
		return nil
	}

	err = c.do(ctx, http.MethodPost, "/auth/logout/"+url.PathEscape(email), nil, nil)
	c.becomeUnauthenticated()
	c.nav.Navigate(RouteHome)
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

func (c *Controller) currentEmail() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated || c.profile == nil {
		return "", model.NewUnauthorizedError()
	}
	return c.profile.Email, nil
}

func (c *Controller) becomeUnauthenticated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateUnauthenticated
	c.profile = nil
	c.events = nil
}

// protected は保護されたAPIを呼び出す。
// セッション切れや委任アクセスの失効を受け取った場合は未認証に遷移してログイン画面へ戻す。
func (c *Controller) protected(ctx context.Context, method, path string, in, out any) error {
	err := c.do(ctx, method, path, in, out)
	if model.HasCode(err, model.ErrCodeUnauthorized) || model.HasCode(err, model.ErrCodeCredentialExpired) {
		c.becomeUnauthenticated()
		c.nav.Navigate(RouteHome)
	}
	return err
}

// errorBody はバックエンドの統一エラーフォーマット。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// do はJSONリクエストを送信し、2xx以外はAPIErrorとして返す。
func (c *Controller) do(ctx context.Context, method, path string, in, out any) error {
	target, err := c.base.Parse(path)
	if err != nil {
		return fmt.Errorf("invalid path %q: %w", path, err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		c.attachCSRF(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// attachCSRF はCookieJarにCSRFトークンがあればヘッダーに付与する。
func (c *Controller) attachCSRF(req *http.Request) {
	if c.http.Jar == nil {
		return
	}
	for _, cookie := range c.http.Jar.Cookies(req.URL) {
		if cookie.Name == csrfCookieName {
			req.Header.Set(csrfHeaderName, cookie.Value)
			return
		}
	}
}

func decodeError(resp *http.Response) error {
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Code == "" {
		if resp.StatusCode == http.StatusUnauthorized {
			return model.NewUnauthorizedError()
		}
		return fmt.Errorf("unexpected status %d: %w", resp.StatusCode, model.NewUpstreamError())
	}
	return &model.APIError{
		Code:     body.Code,
		Message:  body.Message,
		Category: body.Category,
		Action:   body.Action,
	}
}
