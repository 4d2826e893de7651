package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type syncStateRepository struct {
	db *gorm.DB
}

func NewSyncStateRepository(db *gorm.DB) interfaces.SyncStateRepository {
	return &syncStateRepository{db: db}
}

// GetWatermark returns the last persisted uid of a folder, 0 when the folder was never synced
func (r *syncStateRepository) GetWatermark(ctx context.Context, accountID, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetWatermark")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var state models.SyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ?", accountID, folderID).
		First(&state)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to get sync state: %w", result.Error)
	}
	return state.LastUID, nil
}

func (r *syncStateRepository) SetWatermark(ctx context.Context, accountID, folderID string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SetWatermark")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("watermark", uid)

	now := utils.Now()
	state := &models.SyncState{
		AccountID: accountID,
		FolderID:  folderID,
		LastUID:   uid,
		LastSync:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "folder_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_uid":   gorm.Expr("GREATEST(sync_states.last_uid, EXCLUDED.last_uid)"),
			"last_sync":  now,
			"updated_at": now,
		}),
	}).Create(state)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save sync state: %w", result.Error)
	}
	return nil
}

func (r *syncStateRepository) ListByAccount(ctx context.Context, accountID string) (map[string]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.ListByAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var states []models.SyncState
	if err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Find(&states).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account sync states: %w", err)
	}

	result := make(map[string]uint32)
	for _, state := range states {
		result[state.FolderID] = state.LastUID
	}
	return result, nil
}

func (r *syncStateRepository) Delete(ctx context.Context, accountID, folderID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ?", accountID, folderID).
		Delete(&models.SyncState{})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete sync state: %w", result.Error)
	}
	return nil
}

func (r *syncStateRepository) GetUIDValidity(ctx context.Context, accountID, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.GetUIDValidity")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var state models.SyncState
	result := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ?", accountID, folderID).
		First(&state)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		tracing.TraceErr(span, result.Error)
		return 0, fmt.Errorf("failed to get uid validity: %w", result.Error)
	}
	return state.UIDValidity, nil
}

func (r *syncStateRepository) SetUIDValidity(ctx context.Context, accountID, folderID string, uidValidity uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.SetUIDValidity")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("uid_validity", uidValidity)

	now := utils.Now()
	state := &models.SyncState{
		AccountID:   accountID,
		FolderID:    folderID,
		UIDValidity: uidValidity,
		LastSync:    now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "folder_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"uid_validity": uidValidity,
			"updated_at":   now,
		}),
	}).Create(state)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save uid validity: %w", result.Error)
	}
	return nil
}

func (r *syncStateRepository) ResetFolder(ctx context.Context, accountID, folderID string, uidValidity uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "syncStateRepository.ResetFolder")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("uid_validity", uidValidity)

	now := utils.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ? AND folder_id = ?", accountID, folderID).Delete(&models.Email{}).Error; err != nil {
			return err
		}
		state := &models.SyncState{
			AccountID:   accountID,
			FolderID:    folderID,
			UIDValidity: uidValidity,
			LastSync:    now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "folder_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_uid":     0,
				"uid_validity": uidValidity,
				"updated_at":   now,
			}),
		}).Create(state).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to reset folder: %w", err)
	}
	return nil
}
