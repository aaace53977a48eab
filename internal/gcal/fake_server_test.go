package gcal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
)

// fakeGoogle はトークンエンドポイントとCalendar APIを模倣する。
type fakeGoogle struct {
	mu         sync.Mutex
	revoked    map[string]bool
	events     []*calendar.Event
	nextID     int
	tokenCalls int
	failStatus int // 0以外ならAPI呼び出しをこのステータスで失敗させる
	failReason string
	lastQuery  map[string]string
}

func newFakeGoogle() *fakeGoogle {
	return &fakeGoogle{revoked: make(map[string]bool)}
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/token" {
		f.serveToken(w, r)
		return
	}
	f.serveAPI(w, r)
}

func (f *fakeGoogle) serveToken(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenCalls++

	rt := r.PostForm.Get("refresh_token")
	if r.PostForm.Get("grant_type") != "refresh_token" || rt == "" || f.revoked[rt] {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": "access-" + rt,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func writeAPIError(w http.ResponseWriter, status int, reason string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": http.StatusText(status),
			"errors":  []map[string]string{{"reason": reason, "message": http.StatusText(status)}},
		},
	})
}

func (f *fakeGoogle) serveAPI(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer access-") {
		writeAPIError(w, http.StatusUnauthorized, "authError")
		return
	}
	if f.failStatus != 0 {
		writeAPIError(w, f.failStatus, f.failReason)
		return
	}

	const prefix = "/calendar/v3/calendars/primary/events"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeAPIError(w, http.StatusNotFound, "notFound")
		return
	}
	id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case r.Method == http.MethodGet && id == "":
		f.lastQuery = map[string]string{}
		for k := range r.URL.Query() {
			f.lastQuery[k] = r.URL.Query().Get(k)
		}
		json.NewEncoder(w).Encode(&calendar.Events{Items: f.events})
	case r.Method == http.MethodPost && id == "":
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid")
			return
		}
		f.nextID++
		ev.Id = fmt.Sprintf("evt-%d", f.nextID)
		f.events = append(f.events, &ev)
		json.NewEncoder(w).Encode(&ev)
	case r.Method == http.MethodDelete && id != "":
		for i, ev := range f.events {
			if ev.Id == id {
				f.events = append(f.events[:i], f.events[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		writeAPIError(w, http.StatusGone, "deleted")
	default:
		writeAPIError(w, http.StatusNotFound, "notFound")
	}
}

// startFakeGoogle はfakeGoogleを起動し、それに向けたoauth2設定とOptionsを返す。
func startFakeGoogle(t *testing.T) (*fakeGoogle, *oauth2.Config, Options) {
	t.Helper()
	fake := newFakeGoogle()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	conf := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return fake, conf, Options{Endpoint: srv.URL + "/calendar/v3/", HTTPClient: srv.Client()}
}
