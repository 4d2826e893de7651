package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type folderRepository struct {
	db *sqlx.DB
}

func NewFolderRepository(db *sqlx.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) Create(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Create")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, folder.AccountID)
	tracing.TagFolder(span, folder.FullName)

	folder.EnsureID()
	const query = `
		INSERT INTO folders (
			id, account_id, full_name, name, delimiter, parent_id,
			total_count, unread_count, subscribed, attributes,
			sync_state, last_sync_at, created_at, updated_at
		) VALUES (
			:id, :account_id, :full_name, :name, :delimiter, :parent_id,
			:total_count, :unread_count, :subscribed, :attributes,
			:sync_state, :last_sync_at, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, folder); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

func (r *folderRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var folder models.Folder
	if err := r.db.GetContext(ctx, &folder, "SELECT * FROM folders WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return &folder, nil
}

func (r *folderRepository) GetByFullName(ctx context.Context, accountID, fullName string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByFullName")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, fullName)

	var folder models.Folder
	if err := r.db.GetContext(ctx, &folder,
		"SELECT * FROM folders WHERE account_id = ? AND full_name = ?", accountID, fullName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get folder by name: %w", err)
	}
	return &folder, nil
}

func (r *folderRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.ListByAccount")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	if err := r.db.SelectContext(ctx, &folders,
		"SELECT * FROM folders WHERE account_id = ? ORDER BY full_name ASC", accountID); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) Update(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Update")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagFolder(span, folder.FullName)

	folder.UpdatedAt = utils.Now()
	const query = `
		UPDATE folders SET
			name = :name, delimiter = :delimiter,
			total_count = :total_count, unread_count = :unread_count,
			subscribed = :subscribed, attributes = :attributes,
			updated_at = :updated_at
		WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update folder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrFolderNotFound
	}
	return nil
}

func (r *folderRepository) UpdateParent(ctx context.Context, id string, parentID *string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.UpdateParent")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if _, err := r.db.ExecContext(ctx,
		"UPDATE folders SET parent_id = ?, updated_at = ? WHERE id = ?", parentID, utils.Now(), id); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update folder parent: %w", err)
	}
	return nil
}

func (r *folderRepository) UpdateSyncState(ctx context.Context, id string, state enum.FolderSyncState, syncedAt *time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.UpdateSyncState")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)
	span.SetTag("sync.state", state.String())

	if _, err := r.db.ExecContext(ctx, `
		UPDATE folders SET
			sync_state = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE id = ?`,
		string(state), syncedAt, utils.Now(), id); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update folder sync state: %w", err)
	}
	return nil
}

// Delete relies on ON DELETE CASCADE for emails and sync state, and SET NULL for children.
func (r *folderRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if _, err := r.db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}
