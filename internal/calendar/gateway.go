// Package calendar はユーザーに代わってリモートカレンダーを操作し、ローカルミラーを整合させる。
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/calendarbridge/internal/metrics"
	"github.com/hitoshi/calendarbridge/internal/model"
	"github.com/hitoshi/calendarbridge/internal/security"
)

// RemoteCalendar は1ユーザー分のリモートカレンダー操作。
type RemoteCalendar interface {
	List(ctx context.Context, from time.Time, max int64) ([]model.Event, error)
	Insert(ctx context.Context, draft model.EventDraft) (model.Event, error)
	Delete(ctx context.Context, eventID string) error
}

// RemoteFactory はリフレッシュ資格情報からリクエストスコープのRemoteCalendarを生成する。
type RemoteFactory func(ctx context.Context, refreshCredential string) (RemoteCalendar, error)

// CredentialStore はGatewayが必要とする資格情報とミラーの操作。
type CredentialStore interface {
	Delegation(ctx context.Context, email string) (userID, refreshCredential string, err error)
	MirrorEvents(ctx context.Context, userID string, window model.MirrorWindow, events []model.Event) (int64, error)
	MirrorEvent(ctx context.Context, userID string, event model.Event) error
	RemoveMirrored(ctx context.Context, userID, remoteID string) (bool, error)
}

// GatewayConfig はGatewayの設定。
type GatewayConfig struct {
	PageSize int64         // 一覧取得の最大件数
	Timeout  time.Duration // リモート呼び出し1回あたりのタイムアウト
}

const (
	opList   = "list"
	opInsert = "insert"
	opDelete = "delete"
)

// Gateway は委任アクセスでリモートカレンダーを操作する。
// 呼び出しごとに資格情報を読み込み、クライアントを生成する。
type Gateway struct {
	store     CredentialStore
	remote    RemoteFactory
	sanitizer security.Sanitizer
	metrics   metrics.MetricsCollector
	config    GatewayConfig
	now       func() time.Time
}

// NewGateway はGatewayを生成する。
func NewGateway(
	store CredentialStore,
	remote RemoteFactory,
	sanitizer security.Sanitizer,
	mc metrics.MetricsCollector,
	config GatewayConfig,
) *Gateway {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if config.PageSize <= 0 {
		config.PageSize = 10
	}
	return &Gateway{
		store:     store,
		remote:    remote,
		sanitizer: sanitizer,
		metrics:   mc,
		config:    config,
		now:       time.Now,
	}
}

// ListUpcoming は現在以降のイベントを開始時刻順に返し、ミラーに反映する。
func (g *Gateway) ListUpcoming(ctx context.Context, email string) ([]model.Event, error) {
	rctx, cancel := g.remoteContext(ctx)
	defer cancel()

	userID, remote, err := g.open(rctx, email)
	if err != nil {
		return nil, err
	}

	from := g.now()
	var events []model.Event
	err = g.call(opList, func() error {
		var err error
		events, err = remote.List(rctx, from, g.config.PageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	for i := range events {
		events[i].Description = g.sanitizer.Sanitize(events[i].Description)
	}

	removed, err := g.store.MirrorEvents(ctx, userID, listedWindow(from, events, g.config.PageSize), events)
	if err != nil {
		slog.Error("failed to mirror listed events",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return events, nil
	}
	g.metrics.RecordEventsMirrored(len(events))
	if removed > 0 {
		slog.Info("removed events deleted on remote from mirror",
			slog.String("email", email),
			slog.Int64("removed", removed),
		)
	}
	return events, nil
}

// listedWindow は一覧結果が網羅する開始時刻の範囲を返す。
// 件数が上限に達した場合、最後の開始時刻以降は取得されていないため範囲外とする。
func listedWindow(from time.Time, events []model.Event, pageSize int64) model.MirrorWindow {
	window := model.MirrorWindow{From: from}
	if int64(len(events)) < pageSize {
		return window
	}
	for _, e := range events {
		if at := e.Start.Time(); at.After(window.Until) {
			window.Until = at
		}
	}
	return window
}

// Schedule はイベントをリモートに作成し、ミラーに反映する。
// 入力が不正な場合はリモートを呼び出さずにエラーを返す。
func (g *Gateway) Schedule(ctx context.Context, email string, draft model.EventDraft) (model.Event, error) {
	if err := draft.Validate(); err != nil {
		return model.Event{}, err
	}

	rctx, cancel := g.remoteContext(ctx)
	defer cancel()

	userID, remote, err := g.open(rctx, email)
	if err != nil {
		return model.Event{}, err
	}

	var created model.Event
	err = g.call(opInsert, func() error {
		var err error
		created, err = remote.Insert(rctx, draft)
		return err
	})
	if err != nil {
		return model.Event{}, err
	}
	created.Description = g.sanitizer.Sanitize(created.Description)

	if err := g.store.MirrorEvent(ctx, userID, created); err != nil {
		slog.Error("failed to mirror scheduled event",
			slog.String("email", email),
			slog.String("event_id", created.ID),
			slog.String("error", err.Error()),
		)
	} else {
		g.metrics.RecordEventsMirrored(1)
	}

	slog.Info("event scheduled",
		slog.String("email", email),
		slog.String("event_id", created.ID),
	)
	return created, nil
}

// Delete はリモートのイベントを削除し、ミラーからも取り除く。
// ミラーに存在しなかった場合もエラーにしない。
// リモートに既に存在しない場合はミラーから取り除いた上でREMOTE_NOT_FOUNDを返す。
func (g *Gateway) Delete(ctx context.Context, email, eventID string) error {
	if eventID == "" {
		return model.NewInvalidEventError("missing event id")
	}

	rctx, cancel := g.remoteContext(ctx)
	defer cancel()

	userID, remote, err := g.open(rctx, email)
	if err != nil {
		return err
	}

	remoteErr := g.call(opDelete, func() error {
		return remote.Delete(rctx, eventID)
	})
	if remoteErr != nil && !model.HasCode(remoteErr, model.ErrCodeRemoteNotFound) {
		return remoteErr
	}

	removed, err := g.store.RemoveMirrored(ctx, userID, eventID)
	if err != nil {
		return err
	}
	if !removed {
		slog.Debug("deleted event was not mirrored",
			slog.String("email", email),
			slog.String("event_id", eventID),
		)
	}
	return remoteErr
}

// remoteContext はリモート呼び出し用のタイムアウト付きコンテキストを返す。
// ミラーへの書き込みは呼び出し元のコンテキストで行う。
func (g *Gateway) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.config.Timeout)
}

// open は資格情報を読み込み、リクエストスコープのリモートクライアントを生成する。
func (g *Gateway) open(ctx context.Context, email string) (string, RemoteCalendar, error) {
	userID, credential, err := g.store.Delegation(ctx, email)
	if err != nil {
		return "", nil, err
	}
	remote, err := g.remote(ctx, credential)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create remote client: %v: %w", err, model.NewUpstreamError())
	}
	return userID, remote, nil
}

// call はリモート呼び出しの結果とレイテンシを記録する。
func (g *Gateway) call(op string, fn func() error) error {
	start := g.now()
	err := fn()
	g.metrics.RecordRemoteLatency(op, g.now().Sub(start))
	g.metrics.RecordRemoteCall(op, outcome(err))
	if err != nil && outcome(err) == metrics.OutcomeError {
		slog.Error("remote call failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func outcome(err error) string {
	var apiErr *model.APIError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case !errors.As(err, &apiErr):
		return metrics.OutcomeError
	case apiErr.Code == model.ErrCodeCredentialExpired:
		return metrics.OutcomeCredentialExpired
	case apiErr.Code == model.ErrCodeRemoteNotFound:
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
