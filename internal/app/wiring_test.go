package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/calendarbridge/internal/config"
	"github.com/hitoshi/calendarbridge/internal/database"
	"github.com/hitoshi/calendarbridge/internal/gcal"
	"golang.org/x/oauth2"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	setTestEnv(t)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// newTestServer はDBに接続せずにルーターを組み立てる。sql.Openは接続を試行しない。
func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		t.Fatalf("failed to open database handle: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	router, stop := newRouter(cfg, db, newComponents(cfg, db))
	t.Cleanup(stop)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_AuthURLIsWired(t *testing.T) {
	cfg := testConfig(t)
	srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/auth/url")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	u, err := url.Parse(body.URL)
	if err != nil {
		t.Fatalf("invalid url %q: %v", body.URL, err)
	}
	q := u.Query()
	if q.Get("client_id") != "test-client-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != cfg.GoogleRedirectURL {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("state") != cfg.OAuthState {
		t.Errorf("state = %q, want %q", q.Get("state"), cfg.OAuthState)
	}
	if q.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", q.Get("access_type"))
	}
}

func TestRouter_HealthReportsUnreachableDatabase(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	// 1リクエスト分のステータスを記録させる
	if resp, err := http.Get(srv.URL + "/auth/logged_in"); err == nil {
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics: %v", err)
	}
	if !strings.Contains(string(body), "calendarbridge_http_status_total") {
		t.Error("expected calendarbridge_http_status_total in /metrics output")
	}
}

func TestRouter_ProtectedRouteRejectsAnonymous(t *testing.T) {
	srv := newTestServer(t, testConfig(t))

	resp, err := http.Get(srv.URL + "/calendar-events/alice@example.com")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRemoteFactory_BuildsIndependentClients(t *testing.T) {
	factory := remoteFactory(&oauth2.Config{ClientID: "id"}, gcal.Options{})

	a, err := factory(context.Background(), "cred-a")
	if err != nil {
		t.Fatalf("factory returned error: %v", err)
	}
	b, err := factory(context.Background(), "cred-b")
	if err != nil {
		t.Fatalf("factory returned error: %v", err)
	}
	if a == nil || b == nil || a == b {
		t.Error("each call must build a distinct client")
	}
}
