package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/calendarbridge/internal/auth"
	"github.com/hitoshi/calendarbridge/internal/calendar"
	"github.com/hitoshi/calendarbridge/internal/config"
	"github.com/hitoshi/calendarbridge/internal/credential"
	"github.com/hitoshi/calendarbridge/internal/database"
	"github.com/hitoshi/calendarbridge/internal/gcal"
	"github.com/hitoshi/calendarbridge/internal/handler"
	"github.com/hitoshi/calendarbridge/internal/logger"
	"github.com/hitoshi/calendarbridge/internal/metrics"
	"github.com/hitoshi/calendarbridge/internal/middleware"
	"github.com/hitoshi/calendarbridge/internal/repository"
	"github.com/hitoshi/calendarbridge/internal/security"
	"github.com/hitoshi/calendarbridge/internal/session"
	"github.com/hitoshi/calendarbridge/internal/worker/cleanup"
	"github.com/hitoshi/calendarbridge/internal/worker/mirrorsync"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば環境変数に読み込み、Configを構築してJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envの読み込み。存在しない場合は環境変数のみを使う
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("invalid LOG_LEVEL; using info", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "5000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("client_url", cfg.ClientURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, ParseMigrateDirection(args))
	default:
		return runServe(cfg)
	}
}

// components はserveとworkerで共有する依存関係。
type components struct {
	store    *credential.Store
	provider *auth.GoogleOAuthProvider
	gateway  *calendar.Gateway
	registry *prometheus.Registry
	metrics  *metrics.Collector
}

// newComponents はDB接続とConfigからドメインサービスを組み立てる。
func newComponents(cfg *config.Config, db *sql.DB) *components {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewCollector(registry)

	store := credential.NewStore(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresEventRepo(db),
	)
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	gateway := calendar.NewGateway(
		store,
		remoteFactory(provider.OAuth2Config(), gcal.Options{}),
		security.NewDescriptionSanitizer(),
		mc,
		calendar.GatewayConfig{
			PageSize: int64(cfg.EventPageSize),
			Timeout:  cfg.RemoteTimeout,
		},
	)

	return &components{
		store:    store,
		provider: provider,
		gateway:  gateway,
		registry: registry,
		metrics:  mc,
	}
}

// remoteFactory はリクエストごとに新しいCalendarクライアントを生成するファクトリを返す。
// クライアントは呼び出し元のリフレッシュ資格情報だけを保持し、共有しない。
func remoteFactory(conf *oauth2.Config, opts gcal.Options) calendar.RemoteFactory {
	return func(ctx context.Context, refreshCredential string) (calendar.RemoteCalendar, error) {
		client, err := gcal.NewClient(ctx, conf, refreshCredential, opts)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// newRouter はAPIサーバーのルーターを構築する。
// 戻り値のstop関数でレートリミッターのバックグラウンド処理を停止する。
func newRouter(cfg *config.Config, db *sql.DB, c *components) (http.Handler, func()) {
	codec := session.NewCodec(cfg.SessionSecret, cfg.SessionTTL)
	cookies := session.NewCookies(session.CookieConfig{
		Name:   cfg.SessionCookieName,
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		TTL:    cfg.SessionTTL,
	})

	authService := auth.NewService(
		c.provider, c.store, codec,
		auth.ServiceConfig{State: cfg.OAuthState},
		c.metrics,
	)

	rateLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral, cfg.RateLimitSchedule))

	var csrf *middleware.CSRFConfig
	if cfg.CSRFEnabled {
		csrf = &middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           c.metrics,
		CORSAllowedOrigin: cfg.ClientURL,
		SessionRenewer:    codec,
		RateLimiter:       rateLimiter,
		CSRF:              csrf,

		AuthService: authService,
		Cookies:     cookies,

		Calendar: c.gateway,

		DB:             db,
		MetricsHandler: metrics.Handler(c.registry),
	})
	return router, rateLimiter.Stop
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. 依存関係とルーターの構築
	c := newComponents(cfg, db)
	router, stopRouter := newRouter(cfg, db, c)
	defer stopRouter()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ミラー同期スケジューラとクリーンアップジョブを起動し、シグナル受信で停止する。
func runWorker(cfg *config.Config) error {
	db, err := database.Connect(context.Background(), cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	c := newComponents(cfg, db)

	scheduler := mirrorsync.NewScheduler(c.store, c.gateway, slog.Default(), cfg.SyncMaxConcurrent)
	cleanupJob := cleanup.NewCleanupJob(c.store, slog.Default())
	if cfg.MirrorRetentionDays > 0 {
		cleanupJob.RetentionDays = cfg.MirrorRetentionDays
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
		slog.Int("retention_days", cleanupJob.RetentionDays),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, 24*time.Hour)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
func runMigrate(cfg *config.Config, dir MigrateDirection) error {
	slog.Info("running database migrations",
		slog.String("direction", string(dir)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	var err error
	if dir == MigrateDown {
		err = database.RollbackMigration(cfg.DatabaseURL)
	} else {
		err = database.RunMigrations(cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
