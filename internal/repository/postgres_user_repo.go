package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/calendarbridge/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, email, name, picture, refresh_credential, created_at, updated_at`

// Upsert はemailをキーにユーザーを作成または更新する。
// UNIQUE(email)制約を利用したINSERT ON CONFLICTで実装する。
func (r *PostgresUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	now := time.Now().UTC()

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, picture, refresh_credential, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $6)
		 ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			picture = EXCLUDED.picture,
			refresh_credential = COALESCE(EXCLUDED.refresh_credential, users.refresh_credential),
			updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		uuid.New().String(), user.Email, user.Name, user.Picture, user.RefreshCredential, now,
	)

	saved, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return saved, nil
}

// FindByEmail はemailでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)

	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// ClearCredential はリフレッシュ資格情報をNULLにする。
func (r *PostgresUserRepo) ClearCredential(ctx context.Context, email string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_credential = NULL, updated_at = $2 WHERE email = $1`,
		email, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear credential: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListWithCredential はリフレッシュ資格情報を保持する全ユーザーを返す。
func (r *PostgresUserRepo) ListWithCredential(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE refresh_credential IS NOT NULL ORDER BY email`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with credential: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*model.User, error) {
	user := &model.User{}
	var credential sql.NullString
	if err := s.Scan(
		&user.ID, &user.Email, &user.Name, &user.Picture,
		&credential, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.RefreshCredential = credential.String
	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
