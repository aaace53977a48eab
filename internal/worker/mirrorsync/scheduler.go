// Package mirrorsync は委任ユーザーのイベントミラーを定期的に更新するバックグラウンド処理を提供する。
package mirrorsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/calendarbridge/internal/model"
)

// UserLister は同期対象のユーザーを列挙する。
type UserLister interface {
	ListDelegated(ctx context.Context) ([]*model.User, error)
}

// EventSyncer はユーザーのリモートイベントを取得してミラーに反映する。
type EventSyncer interface {
	ListUpcoming(ctx context.Context, email string) ([]model.Event, error)
}

// Scheduler はミラー同期のスケジューリングと並列制御を行う。
// ティッカーで委任ユーザーを取得し、semaphoreパターンで最大並列数を制御しながら同期を実行する。
type Scheduler struct {
	users          UserLister
	syncer         EventSyncer
	logger         *slog.Logger
	maxConcurrency int
}

// Result は1サイクルの集計。
type Result struct {
	Users   int
	Synced  int
	Expired int
	Failed  int
}

// NewScheduler はSchedulerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(users UserLister, syncer EventSyncer, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		users:          users,
		syncer:         syncer,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はinterval間隔でスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("mirror sync scheduler started",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("mirror sync scheduler stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("mirror sync cycle failed", slog.String("error", err.Error()))
	}
}

// RunOnce は委任ユーザーを1回取得し、並列で同期を実行する。
// 個々のユーザーの失敗はログに記録してサイクルを継続する。
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	start := time.Now()

	users, err := s.users.ListDelegated(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(users) == 0 {
		s.logger.Debug("no delegated users to sync")
		return Result{}, nil
	}

	var (
		mu     sync.Mutex
		result = Result{Users: len(users)}
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}

		go func(email string) {
			defer wg.Done()
			defer func() { <-sem }()

			events, err := s.syncer.ListUpcoming(ctx, email)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Synced++
				s.logger.Debug("mirror synced", slog.String("email", email), slog.Int("events", len(events)))
			case model.HasCode(err, model.ErrCodeCredentialExpired):
				result.Expired++
				s.logger.Warn("delegation expired; user must log in again", slog.String("email", email))
			default:
				result.Failed++
				s.logger.Error("mirror sync failed",
					slog.String("email", email),
					slog.String("error", err.Error()),
				)
			}
		}(user.Email)
	}

	wg.Wait()

	s.logger.Info("mirror sync cycle completed",
		slog.Int("users", result.Users),
		slog.Int("synced", result.Synced),
		slog.Int("expired", result.Expired),
		slog.Int("failed", result.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return result, nil
}
