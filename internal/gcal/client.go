// Package gcal はユーザーのリフレッシュ資格情報で認可したGoogle Calendar APIクライアントを提供する。
// クライアントはリクエスト単位で生成し、ユーザー間で共有しない。
package gcal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/calendarbridge/internal/model"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// PrimaryCalendarID は操作対象のカレンダーID。
const PrimaryCalendarID = "primary"

// Options はクライアント生成時のオプション。
type Options struct {
	// Endpoint はCalendar APIのベースURL。空の場合は本番エンドポイント。
	Endpoint string
	// HTTPClient はトークン更新とAPI呼び出しの下位トランスポート。
	HTTPClient *http.Client
}

// Client は1ユーザー分のGoogle Calendar APIクライアント。
type Client struct {
	svc        *calendar.Service
	calendarID string
}

// NewClient はリフレッシュ資格情報からリクエストスコープのクライアントを生成する。
// アクセストークンは最初のAPI呼び出し時に取得し、保存しない。
func NewClient(ctx context.Context, conf *oauth2.Config, refreshCredential string, opts Options) (*Client, error) {
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshCredential})

	clientOpts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, ts))}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Client{svc: svc, calendarID: PrimaryCalendarID}, nil
}

// List はfrom以降のイベントを開始時刻順に最大max件返す。
// 繰り返しイベントは個別のインスタンスに展開する。
func (c *Client) List(ctx context.Context, from time.Time, max int64) ([]model.Event, error) {
	res, err := c.svc.Events.List(c.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		MaxResults(max).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, Classify(err)
	}

	events := make([]model.Event, 0, len(res.Items))
	for _, item := range res.Items {
		event, err := toEvent(item)
		if err != nil {
			slog.Warn("skipping unmappable remote event",
				slog.String("event_id", item.Id),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Insert はイベントを作成し、リモートが採番したIDを含むイベントを返す。
func (c *Client) Insert(ctx context.Context, draft model.EventDraft) (model.Event, error) {
	created, err := c.svc.Events.Insert(c.calendarID, fromDraft(draft)).Context(ctx).Do()
	if err != nil {
		return model.Event{}, Classify(err)
	}
	event, err := toEvent(created)
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to map created event: %v: %w", err, model.NewUpstreamError())
	}
	return event, nil
}

// Delete はイベントを削除する。
func (c *Client) Delete(ctx context.Context, eventID string) error {
	if err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do(); err != nil {
		err = Classify(err)
		if model.HasCode(err, model.ErrCodeRemoteNotFound) {
			return model.NewRemoteNotFoundError(eventID)
		}
		return err
	}
	return nil
}
