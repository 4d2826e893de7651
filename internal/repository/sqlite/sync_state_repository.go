package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type syncStateRepository struct {
	db *sqlx.DB
}

func NewSyncStateRepository(db *sqlx.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

func (r *syncStateRepository) GetWatermark(ctx context.Context, accountID, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetWatermark")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var lastUID int64
	if err := r.db.GetContext(ctx, &lastUID,
		"SELECT COALESCE(MAX(last_uid), 0) FROM sync_states WHERE account_id = ? AND folder_id = ?",
		accountID, folderID); err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to get sync state: %w", err)
	}
	return uint32(lastUID), nil
}

func (r *syncStateRepository) SetWatermark(ctx context.Context, accountID, folderID string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SetWatermark")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("watermark", uid)

	now := utils.Now()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_states (account_id, folder_id, last_uid, last_sync, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id) DO UPDATE SET
			last_uid = MAX(sync_states.last_uid, excluded.last_uid),
			last_sync = excluded.last_sync,
			updated_at = excluded.updated_at`,
		accountID, folderID, int64(uid), now, now, now); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

func (r *syncStateRepository) ListByAccount(ctx context.Context, accountID string) (map[string]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.ListByAccount")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	rows := []struct {
		FolderID string `db:"folder_id"`
		LastUID  int64  `db:"last_uid"`
	}{}
	if err := r.db.SelectContext(ctx, &rows,
		"SELECT folder_id, last_uid FROM sync_states WHERE account_id = ?", accountID); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account sync states: %w", err)
	}

	result := make(map[string]uint32, len(rows))
	for _, row := range rows {
		result[row.FolderID] = uint32(row.LastUID)
	}
	return result, nil
}

func (r *syncStateRepository) Delete(ctx context.Context, accountID, folderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM sync_states WHERE account_id = ? AND folder_id = ?", accountID, folderID); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	return nil
}

func (r *syncStateRepository) GetUIDValidity(ctx context.Context, accountID, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetUIDValidity")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var validity int64
	if err := r.db.GetContext(ctx, &validity,
		"SELECT COALESCE(MAX(uid_validity), 0) FROM sync_states WHERE account_id = ? AND folder_id = ?",
		accountID, folderID); err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to get uid validity: %w", err)
	}
	return uint32(validity), nil
}

func (r *syncStateRepository) SetUIDValidity(ctx context.Context, accountID, folderID string, uidValidity uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SetUIDValidity")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("uid_validity", uidValidity)

	now := utils.Now()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_states (account_id, folder_id, last_uid, uid_validity, last_sync, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id) DO UPDATE SET
			uid_validity = excluded.uid_validity,
			updated_at = excluded.updated_at`,
		accountID, folderID, int64(uidValidity), now, now, now); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to save uid validity: %w", err)
	}
	return nil
}

func (r *syncStateRepository) ResetFolder(ctx context.Context, accountID, folderID string, uidValidity uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.ResetFolder")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("uid_validity", uidValidity)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM emails WHERE account_id = ? AND folder_id = ?", accountID, folderID); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to drop folder emails: %w", err)
	}
	now := utils.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_states (account_id, folder_id, last_uid, uid_validity, last_sync, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT(account_id, folder_id) DO UPDATE SET
			last_uid = 0,
			uid_validity = excluded.uid_validity,
			updated_at = excluded.updated_at`,
		accountID, folderID, int64(uidValidity), now, now, now); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reset sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reset folder: %w", err)
	}
	return nil
}
