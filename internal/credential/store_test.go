package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/calendarbridge/internal/model"
	"github.com/hitoshi/calendarbridge/internal/repository"
)

// memUserRepo はメモリ上のUserRepository実装。
type memUserRepo struct {
	users map[string]*model.User
	err   error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (m *memUserRepo) Upsert(_ context.Context, user *model.User) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	existing, ok := m.users[user.Email]
	if !ok {
		saved := *user
		saved.ID = "id-" + user.Email
		m.users[user.Email] = &saved
		copied := saved
		return &copied, nil
	}
	existing.Name = user.Name
	existing.Picture = user.Picture
	if user.RefreshCredential != "" {
		existing.RefreshCredential = user.RefreshCredential
	}
	copied := *existing
	return &copied, nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.users[email]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (m *memUserRepo) ClearCredential(_ context.Context, email string) (bool, error) {
	u, ok := m.users[email]
	if !ok {
		return false, nil
	}
	u.RefreshCredential = ""
	return true, nil
}

func (m *memUserRepo) ListWithCredential(_ context.Context) ([]*model.User, error) {
	var out []*model.User
	for _, u := range m.users {
		if u.HasCredential() {
			copied := *u
			out = append(out, &copied)
		}
	}
	return out, nil
}

type mockEventRepo struct {
	upsertFn            func(ctx context.Context, userID string, event model.Event) error
	replaceWindowFn     func(ctx context.Context, userID string, window model.MirrorWindow, events []model.Event) (int64, error)
	deleteByRemoteIDFn  func(ctx context.Context, userID, remoteID string) (bool, error)
	deleteEndedBeforeFn func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockEventRepo) Upsert(ctx context.Context, userID string, event model.Event) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, userID, event)
	}
	return nil
}

func (m *mockEventRepo) ReplaceWindow(ctx context.Context, userID string, window model.MirrorWindow, events []model.Event) (int64, error) {
	if m.replaceWindowFn != nil {
		return m.replaceWindowFn(ctx, userID, window, events)
	}
	return 0, nil
}

func (m *mockEventRepo) DeleteByRemoteID(ctx context.Context, userID, remoteID string) (bool, error) {
	if m.deleteByRemoteIDFn != nil {
		return m.deleteByRemoteIDFn(ctx, userID, remoteID)
	}
	return false, nil
}

func (m *mockEventRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.deleteEndedBeforeFn != nil {
		return m.deleteEndedBeforeFn(ctx, cutoff)
	}
	return 0, nil
}

var (
	_ repository.UserRepository  = (*memUserRepo)(nil)
	_ repository.EventRepository = (*mockEventRepo)(nil)
)

func TestSaveLogin_LatestCredentialWins(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemUserRepo(), &mockEventRepo{})
	profile := model.Profile{Email: "alice@example.com", Name: "Alice"}

	if _, err := store.SaveLogin(ctx, profile, "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.SaveLogin(ctx, profile, "second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, credential, err := store.Delegation(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credential != "second" {
		t.Errorf("credential = %q, want %q", credential, "second")
	}
}

func TestSaveLogin_EmptyCredentialKeepsStored(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemUserRepo(), &mockEventRepo{})
	profile := model.Profile{Email: "alice@example.com", Name: "Alice"}

	store.SaveLogin(ctx, profile, "stored")
	user, err := store.SaveLogin(ctx, model.Profile{Email: "alice@example.com", Name: "Alice B."}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.RefreshCredential != "stored" || user.Name != "Alice B." {
		t.Errorf("user = %+v", user)
	}
}

func TestSaveLogin_RepositoryError(t *testing.T) {
	users := newMemUserRepo()
	users.err = errors.New("db down")
	store := NewStore(users, &mockEventRepo{})

	if _, err := store.SaveLogin(context.Background(), model.Profile{Email: "a@example.com"}, "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelegation(t *testing.T) {
	ctx := context.Background()
	users := newMemUserRepo()
	store := NewStore(users, &mockEventRepo{})
	store.SaveLogin(ctx, model.Profile{Email: "alice@example.com"}, "refresh")
	store.SaveLogin(ctx, model.Profile{Email: "bob@example.com"}, "refresh-bob")
	store.Revoke(ctx, "bob@example.com")

	tests := []struct {
		name     string
		email    string
		wantErr  bool
		wantCred string
	}{
		{"delegated user", "alice@example.com", false, "refresh"},
		{"logged out user", "bob@example.com", true, ""},
		{"unknown user", "ghost@example.com", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, credential, err := store.Delegation(ctx, tt.email)
			if tt.wantErr {
				if !model.HasCode(err, model.ErrCodeUserNotFound) {
					t.Errorf("expected USER_NOT_FOUND, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if userID == "" || credential != tt.wantCred {
				t.Errorf("Delegation() = %q, %q", userID, credential)
			}
		})
	}
}

func TestRevoke_KeepsUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemUserRepo(), &mockEventRepo{})
	store.SaveLogin(ctx, model.Profile{Email: "alice@example.com", Name: "Alice"}, "refresh")

	if err := store.Revoke(ctx, "alice@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, err := store.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("user must survive logout: %v", err)
	}
	if user.HasCredential() {
		t.Error("credential must be cleared")
	}

	if err := store.Revoke(ctx, "ghost@example.com"); !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestListDelegated_ExcludesLoggedOut(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newMemUserRepo(), &mockEventRepo{})
	store.SaveLogin(ctx, model.Profile{Email: "alice@example.com"}, "a")
	store.SaveLogin(ctx, model.Profile{Email: "bob@example.com"}, "b")
	store.Revoke(ctx, "bob@example.com")

	users, err := store.ListDelegated(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].Email != "alice@example.com" {
		t.Errorf("ListDelegated() = %+v", users)
	}
}

func TestMirrorOperations_DelegateToRepository(t *testing.T) {
	ctx := context.Background()
	var batchUser string
	var batchLen int
	var batchWindow model.MirrorWindow
	var deleted [2]string
	var cutoffSeen time.Time
	events := &mockEventRepo{
		replaceWindowFn: func(_ context.Context, userID string, window model.MirrorWindow, evs []model.Event) (int64, error) {
			batchUser, batchLen, batchWindow = userID, len(evs), window
			return 1, nil
		},
		deleteByRemoteIDFn: func(_ context.Context, userID, remoteID string) (bool, error) {
			deleted = [2]string{userID, remoteID}
			return true, nil
		},
		deleteEndedBeforeFn: func(_ context.Context, cutoff time.Time) (int64, error) {
			cutoffSeen = cutoff
			return 3, nil
		},
	}
	store := NewStore(newMemUserRepo(), events)

	window := model.MirrorWindow{From: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	stale, err := store.MirrorEvents(ctx, "user-1", window, make([]model.Event, 2))
	if err != nil {
		t.Fatalf("MirrorEvents: %v", err)
	}
	if batchUser != "user-1" || batchLen != 2 || batchWindow != window || stale != 1 {
		t.Errorf("batch = %q/%d window=%+v stale=%d", batchUser, batchLen, batchWindow, stale)
	}

	removed, err := store.RemoveMirrored(ctx, "user-1", "evt-1")
	if err != nil || !removed {
		t.Errorf("RemoveMirrored() = %v, %v", removed, err)
	}
	if deleted != [2]string{"user-1", "evt-1"} {
		t.Errorf("deleted = %v", deleted)
	}

	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	n, err := store.PruneMirror(ctx, cutoff)
	if err != nil || n != 3 || !cutoffSeen.Equal(cutoff) {
		t.Errorf("PruneMirror() = %d, %v (cutoff %v)", n, err, cutoffSeen)
	}
}

func TestMirrorEvent_RepositoryError(t *testing.T) {
	events := &mockEventRepo{
		upsertFn: func(context.Context, string, model.Event) error { return errors.New("constraint") },
	}
	store := NewStore(newMemUserRepo(), events)

	if err := store.MirrorEvent(context.Background(), "user-1", model.Event{ID: "x"}); err == nil {
		t.Fatal("expected error")
	}
}
