package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type folderRepository struct {
	db *gorm.DB
}

func NewFolderRepository(db *gorm.DB) interfaces.FolderRepository {
	return &folderRepository{db: db}
}

func (r *folderRepository) Create(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Create")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, folder.AccountID)
	tracing.TagFolder(span, folder.FullName)

	if err := r.db.WithContext(ctx).Create(folder).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create folder: %w", err)
	}
	return nil
}

func (r *folderRepository) GetByID(ctx context.Context, id string) (*models.Folder, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var folder models.Folder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
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
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	tracing.TagFolder(span, fullName)

	var folder models.Folder
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND full_name = ?", accountID, fullName).
		First(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
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
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var folders []*models.Folder
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("full_name ASC").
		Find(&folders).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

func (r *folderRepository) Update(ctx context.Context, folder *models.Folder) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Update")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagFolder(span, folder.FullName)

	folder.UpdatedAt = utils.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Folder{}).
		Where("id = ?", folder.ID).
		Updates(map[string]interface{}{
			"name":         folder.Name,
			"delimiter":    folder.Delimiter,
			"total_count":  folder.TotalCount,
			"unread_count": folder.UnreadCount,
			"subscribed":   folder.Subscribed,
			"attributes":   folder.Attributes,
			"updated_at":   folder.UpdatedAt,
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrFolderNotFound
	}
	return nil
}

func (r *folderRepository) UpdateParent(ctx context.Context, id string, parentID *string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.UpdateParent")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.Folder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"parent_id":  parentID,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder parent: %w", result.Error)
	}
	return nil
}

func (r *folderRepository) UpdateSyncState(ctx context.Context, id string, state enum.FolderSyncState, syncedAt *time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.UpdateSyncState")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)
	span.SetTag("sync.state", state.String())

	updates := map[string]interface{}{
		"sync_state": state,
		"updated_at": utils.Now(),
	}
	if syncedAt != nil {
		updates["last_sync_at"] = *syncedAt
	}
	result := r.db.WithContext(ctx).Model(&models.Folder{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to update folder sync state: %w", result.Error)
	}
	return nil
}

func (r *folderRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "folderRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("folder_id = ?", id).Delete(&models.Email{}).Error; err != nil {
			return err
		}
		if err := tx.Where("folder_id = ?", id).Delete(&models.SyncState{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Folder{}).Where("parent_id = ?", id).Update("parent_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Folder{}).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}
