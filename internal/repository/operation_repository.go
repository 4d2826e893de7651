package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

type operationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) interfaces.OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) Append(ctx context.Context, op *models.PendingOperation) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.Append")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, op.AccountID)
	tracing.TagEntity(span, op.ID)

	if err := r.db.WithContext(ctx).Create(op).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

func (r *operationRepository) GetByID(ctx context.Context, id string) (*models.PendingOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var op models.PendingOperation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return &op, nil
}

func (r *operationRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.PendingOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.ListByAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var ops []*models.PendingOperation
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("sequence ASC").
		Find(&ops).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

func (r *operationRepository) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.CountByAccount")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Where("account_id = ?", accountID).
		Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return count, nil
}

func (r *operationRepository) ListAccountsWithPending(ctx context.Context) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.ListAccountsWithPending")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var accountIDs []string
	if err := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Distinct("account_id").
		Order("account_id").
		Pluck("account_id", &accountIDs).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts with pending operations: %w", err)
	}
	return accountIDs, nil
}

func (r *operationRepository) LastSequence(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.LastSequence")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var last int64
	if err := r.db.WithContext(ctx).
		Model(&models.PendingOperation{}).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return last, nil
}

func (r *operationRepository) IncrementRetry(ctx context.Context, id, lastError string) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.IncrementRetry")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var op models.PendingOperation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.PendingOperation{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"retry_count": gorm.Expr("retry_count + 1"),
				"last_error":  lastError,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrOperationNotFound
		}
		return tx.Select("retry_count").Where("id = ?", id).First(&op).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return op.RetryCount, nil
}

func (r *operationRepository) Remove(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.Remove")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PendingOperation{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}
