// Package credential はユーザーの委任アクセス資格情報とミラーイベントの唯一の書き込み経路を提供する。
package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/calendarbridge/internal/model"
	"github.com/hitoshi/calendarbridge/internal/repository"
)

// Store はユーザーとミラーイベントの永続化を仲介する。
// リフレッシュ資格情報を書き換えるのはこのStoreのみ。
type Store struct {
	users  repository.UserRepository
	events repository.EventRepository
}

// NewStore はStoreを生成する。
func NewStore(users repository.UserRepository, events repository.EventRepository) *Store {
	return &Store{users: users, events: events}
}

// SaveLogin はログイン結果でユーザーを作成または更新する。
// refreshCredentialが空の場合は保存済みの資格情報を維持する。
func (s *Store) SaveLogin(ctx context.Context, profile model.Profile, refreshCredential string) (*model.User, error) {
	user, err := s.users.Upsert(ctx, &model.User{
		Email:             profile.Email,
		Name:              profile.Name,
		Picture:           profile.Picture,
		RefreshCredential: refreshCredential,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// FindByEmail はユーザーを取得する。存在しない場合はUSER_NOT_FOUNDを返す。
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// Delegation はリモート呼び出しに必要なユーザーIDとリフレッシュ資格情報を返す。
// ユーザーが存在しないか資格情報が破棄済みの場合はUSER_NOT_FOUNDを返す。
func (s *Store) Delegation(ctx context.Context, email string) (userID, refreshCredential string, err error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return "", "", err
	}
	if !user.HasCredential() {
		return "", "", model.NewUserNotFoundError()
	}
	return user.ID, user.RefreshCredential, nil
}

// Revoke はリフレッシュ資格情報を破棄する。ユーザーとミラーは残す。
func (s *Store) Revoke(ctx context.Context, email string) error {
	found, err := s.users.ClearCredential(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	if !found {
		return model.NewUserNotFoundError()
	}
	return nil
}

// ListDelegated はリフレッシュ資格情報を保持する全ユーザーを返す。
func (s *Store) ListDelegated(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.ListWithCredential(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegated users: %w", err)
	}
	return users, nil
}

// MirrorEvents はリモートから取得したイベントでミラーのwindow内を置き換える。
// リモートに存在しなくなったイベントの削除件数を返す。
func (s *Store) MirrorEvents(ctx context.Context, userID string, window model.MirrorWindow, events []model.Event) (int64, error) {
	removed, err := s.events.ReplaceWindow(ctx, userID, window, events)
	if err != nil {
		return 0, fmt.Errorf("failed to mirror events: %w", err)
	}
	return removed, nil
}

// MirrorEvent は1件のイベントをミラーに反映する。
func (s *Store) MirrorEvent(ctx context.Context, userID string, event model.Event) error {
	if err := s.events.Upsert(ctx, userID, event); err != nil {
		return fmt.Errorf("failed to mirror event: %w", err)
	}
	return nil
}

// RemoveMirrored はミラーからイベントを削除する。ミラーに存在しなかった場合はfalseを返す。
func (s *Store) RemoveMirrored(ctx context.Context, userID, remoteID string) (bool, error) {
	removed, err := s.events.DeleteByRemoteID(ctx, userID, remoteID)
	if err != nil {
		return false, fmt.Errorf("failed to remove mirrored event: %w", err)
	}
	return removed, nil
}

// PruneMirror は終了時刻がcutoffより前のミラーイベントを削除する。
func (s *Store) PruneMirror(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := s.events.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune mirror: %w", err)
	}
	return deleted, nil
}
