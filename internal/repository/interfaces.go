// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/calendarbridge/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Upsert はemailをキーにユーザーを作成または更新する。
	// RefreshCredentialが空の場合は保存済みの資格情報を維持する。
	// 永続化後のユーザー（ID・タイムスタンプ・有効な資格情報を含む）を返す。
	Upsert(ctx context.Context, user *model.User) (*model.User, error)

	// FindByEmail はemailでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ClearCredential はリフレッシュ資格情報を破棄する。
	// ユーザーが存在しない場合はfalseを返す。
	ClearCredential(ctx context.Context, email string) (bool, error)

	// ListWithCredential はリフレッシュ資格情報を保持する全ユーザーを返す。
	ListWithCredential(ctx context.Context) ([]*model.User, error)
}

// EventRepository はミラーイベントの永続化インターフェース。
// (user_id, remote_id) でイベントを一意に識別する。
type EventRepository interface {
	// Upsert はイベントを作成または更新する。
	Upsert(ctx context.Context, userID string, event model.Event) error

	// ReplaceWindow はeventsを同一トランザクションでUPSERTし、
	// 開始時刻がwindow内にありeventsに含まれない行を削除する。削除件数を返す。
	ReplaceWindow(ctx context.Context, userID string, window model.MirrorWindow, events []model.Event) (int64, error)

	// DeleteByRemoteID はリモートIDでイベントを削除する。存在しない場合はfalseを返す。
	DeleteByRemoteID(ctx context.Context, userID, remoteID string) (bool, error)

	// DeleteEndedBefore は終了時刻がcutoffより前のイベントを削除し、削除件数を返す。
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
