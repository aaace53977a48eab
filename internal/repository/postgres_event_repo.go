package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/calendarbridge/internal/model"
	"github.com/lib/pq"
)

// PostgresEventRepo はPostgreSQLを使用したミラーイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

const upsertEventSQL = `INSERT INTO events (
		id, user_id, remote_id, summary, description,
		start_kind, start_at, start_tz, end_kind, end_at, end_tz,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	ON CONFLICT (user_id, remote_id) DO UPDATE SET
		summary = EXCLUDED.summary,
		description = EXCLUDED.description,
		start_kind = EXCLUDED.start_kind,
		start_at = EXCLUDED.start_at,
		start_tz = EXCLUDED.start_tz,
		end_kind = EXCLUDED.end_kind,
		end_at = EXCLUDED.end_at,
		end_tz = EXCLUDED.end_tz,
		updated_at = EXCLUDED.updated_at`

// execer は*sql.DBと*sql.Txの共通インターフェース。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert はイベントを作成または更新する。
func (r *PostgresEventRepo) Upsert(ctx context.Context, userID string, event model.Event) error {
	return upsertEvent(ctx, r.db, userID, event, time.Now().UTC())
}

// ReplaceWindow はeventsを同一トランザクションでUPSERTし、
// 開始時刻がwindow内にありeventsに含まれない行を削除する。
func (r *PostgresEventRepo) ReplaceWindow(ctx context.Context, userID string, window model.MirrorWindow, events []model.Event) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if err := upsertEvent(ctx, tx, userID, e, now); err != nil {
			return 0, err
		}
		ids = append(ids, e.ID)
	}

	var until sql.NullTime
	if !window.Until.IsZero() {
		until = sql.NullTime{Time: window.Until, Valid: true}
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM events
		 WHERE user_id = $1
		   AND start_at >= $2
		   AND ($3::timestamptz IS NULL OR start_at < $3)
		   AND NOT (remote_id = ANY($4::text[]))`,
		userID, window.From, until, pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale events: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return removed, nil
}

// DeleteByRemoteID はリモートIDでイベントを削除する。
func (r *PostgresEventRepo) DeleteByRemoteID(ctx context.Context, userID, remoteID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE user_id = $1 AND remote_id = $2`,
		userID, remoteID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteEndedBefore は終了時刻がcutoffより前のイベントを削除する。
func (r *PostgresEventRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE end_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ended events: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

func upsertEvent(ctx context.Context, db execer, userID string, e model.Event, now time.Time) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, upsertEventSQL,
		uuid.New().String(), userID, e.ID, e.Summary, e.Description,
		e.Start.Kind().String(), e.Start.Time(), e.Start.TimeZone(),
		e.End.Kind().String(), e.End.Time(), e.End.TimeZone(),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", e.ID, err)
	}
	return nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
