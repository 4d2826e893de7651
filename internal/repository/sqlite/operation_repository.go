package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
)

type operationRepository struct {
	db *sqlx.DB
}

func NewOperationRepository(db *sqlx.DB) interfaces.OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) Append(ctx context.Context, op *models.PendingOperation) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.Append")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, op.AccountID)
	tracing.TagEntity(span, op.ID)

	const query = `
		INSERT INTO pending_operations (
			id, account_id, type, payload, sequence, enqueued_at, retry_count, last_error
		) VALUES (
			:id, :account_id, :type, :payload, :sequence, :enqueued_at, :retry_count, :last_error
		)`
	if _, err := r.db.NamedExecContext(ctx, query, op); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

func (r *operationRepository) GetByID(ctx context.Context, id string) (*models.PendingOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var op models.PendingOperation
	if err := r.db.GetContext(ctx, &op, "SELECT * FROM pending_operations WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var ops []*models.PendingOperation
	if err := r.db.SelectContext(ctx, &ops,
		"SELECT * FROM pending_operations WHERE account_id = ? ORDER BY sequence ASC", accountID); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

func (r *operationRepository) CountByAccount(ctx context.Context, accountID string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.CountByAccount")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var count int64
	if err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM pending_operations WHERE account_id = ?", accountID); err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return count, nil
}

func (r *operationRepository) ListAccountsWithPending(ctx context.Context) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.ListAccountsWithPending")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)

	var accountIDs []string
	if err := r.db.SelectContext(ctx, &accountIDs,
		"SELECT DISTINCT account_id FROM pending_operations ORDER BY account_id"); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts with pending operations: %w", err)
	}
	return accountIDs, nil
}

func (r *operationRepository) LastSequence(ctx context.Context) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.LastSequence")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)

	var last int64
	if err := r.db.GetContext(ctx, &last, "SELECT COALESCE(MAX(sequence), 0) FROM pending_operations"); err != nil {
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to read last sequence: %w", err)
	}
	return last, nil
}

func (r *operationRepository) IncrementRetry(ctx context.Context, id, lastError string) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.IncrementRetry")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var retryCount int
	err := r.db.GetContext(ctx, &retryCount, `
		UPDATE pending_operations SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
		RETURNING retry_count`, lastError, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrOperationNotFound
		}
		tracing.TraceErr(span, err)
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}
	return retryCount, nil
}

func (r *operationRepository) Remove(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "operationRepository.Remove")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if _, err := r.db.ExecContext(ctx, "DELETE FROM pending_operations WHERE id = ?", id); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}
