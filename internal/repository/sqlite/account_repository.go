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
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type accountRepository struct {
	db *sqlx.DB
}

func NewAccountRepository(db *sqlx.DB) interfaces.AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Create")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)

	account.EnsureID()
	tracing.TagAccount(span, account.ID)

	const query = `
		INSERT INTO accounts (
			id, email_address, display_name,
			imap_server, imap_port, imap_security,
			smtp_server, smtp_port, smtp_security,
			username, auth_mode, enabled, sync_enabled,
			last_sync_at, sync_status, error_message, created_at, updated_at
		) VALUES (
			:id, :email_address, :display_name,
			:imap_server, :imap_port, :imap_security,
			:smtp_server, :smtp_port, :smtp_security,
			:username, :auth_mode, :enabled, :sync_enabled,
			:last_sync_at, :sync_status, :error_message, :created_at, :updated_at
		)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)

	var account models.Account
	if err := r.db.GetContext(ctx, &account, "SELECT * FROM accounts WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *accountRepository) List(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.List")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)

	var accounts []*models.Account
	if err := r.db.SelectContext(ctx, &accounts, "SELECT * FROM accounts ORDER BY created_at ASC"); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) ListSyncEnabled(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.ListSyncEnabled")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)

	var accounts []*models.Account
	if err := r.db.SelectContext(ctx, &accounts,
		"SELECT * FROM accounts WHERE enabled = 1 AND sync_enabled = 1 ORDER BY created_at ASC"); err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list sync enabled accounts: %w", err)
	}
	return accounts, nil
}

func (r *accountRepository) Update(ctx context.Context, account *models.Account) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Update")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	account.UpdatedAt = utils.Now()
	const query = `
		UPDATE accounts SET
			email_address = :email_address, display_name = :display_name,
			imap_server = :imap_server, imap_port = :imap_port, imap_security = :imap_security,
			smtp_server = :smtp_server, smtp_port = :smtp_port, smtp_security = :smtp_security,
			username = :username, auth_mode = :auth_mode,
			enabled = :enabled, sync_enabled = :sync_enabled,
			last_sync_at = :last_sync_at, sync_status = :sync_status, error_message = :error_message,
			updated_at = :updated_at
		WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) UpdateSyncStatus(ctx context.Context, id, status, errorMessage string, syncedAt *time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.UpdateSyncStatus")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)
	span.SetTag("sync.status", status)

	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			sync_status = ?, error_message = ?,
			last_sync_at = COALESCE(?, last_sync_at),
			updated_at = ?
		WHERE id = ?`,
		status, errorMessage, syncedAt, utils.Now(), id)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to update account sync status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

// Delete relies on ON DELETE CASCADE for folders, emails, sync states and operations.
func (r *accountRepository) Delete(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "accountRepository.Delete")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, id)

	if _, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
