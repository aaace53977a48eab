package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	OAuthState         string

	// Session
	SessionSecret     string
	SessionTTL        time.Duration
	SessionCookieName string

	// Calendar
	RemoteTimeout time.Duration
	EventPageSize int

	// Worker
	SyncInterval        time.Duration
	SyncMaxConcurrent   int
	MirrorRetentionDays int

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitSchedule int

	// Server
	ServerPort string
	ClientURL  string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CSRF
	CSRFEnabled bool

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.SessionSecret = required("SESSION_SECRET")
	cfg.ClientURL = required("CLIENT_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.OAuthState = getEnvString("OAUTH_STATE", "standard_oauth")
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 10*time.Hour)
	cfg.SessionCookieName = getEnvString("SESSION_COOKIE_NAME", "token")
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 10*time.Second)
	cfg.EventPageSize = getEnvInt("EVENT_PAGE_SIZE", 10)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 15*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 5)
	cfg.MirrorRetentionDays = getEnvInt("MIRROR_RETENTION_DAYS", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSchedule = getEnvInt("RATE_LIMIT_SCHEDULE", 20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "5000")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CSRFEnabled = getEnvBool("CSRF_ENABLED", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.ClientURL, "https://") ||
		strings.HasPrefix(cfg.GoogleRedirectURL, "https://")

	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive: %v", cfg.SessionTTL)
	}
	if cfg.EventPageSize <= 0 {
		return nil, fmt.Errorf("EVENT_PAGE_SIZE must be positive: %d", cfg.EventPageSize)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
