package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

// The existing id survives a conflict, RETURNING hands it back to the caller.
const upsertEmailQuery = `
	INSERT INTO emails (
		id, account_id, folder_id, uid, message_number, thread_id,
		message_id, in_reply_to, "references",
		subject, from_address, from_name, reply_to,
		to_addresses, cc_addresses, bcc_addresses,
		sent_at, received_at, body_text, body_html, preview, has_attachment,
		is_read, is_starred, is_flagged, is_draft, is_answered,
		sync_state, raw_headers, classification, classification_reason, created_at, updated_at
	) VALUES (
		:id, :account_id, :folder_id, :uid, :message_number, :thread_id,
		:message_id, :in_reply_to, :references,
		:subject, :from_address, :from_name, :reply_to,
		:to_addresses, :cc_addresses, :bcc_addresses,
		:sent_at, :received_at, :body_text, :body_html, :preview, :has_attachment,
		:is_read, :is_starred, :is_flagged, :is_draft, :is_answered,
		:sync_state, :raw_headers, :classification, :classification_reason, :created_at, :updated_at
	)
	ON CONFLICT(account_id, folder_id, uid) DO UPDATE SET
		message_number = excluded.message_number,
		thread_id = excluded.thread_id,
		message_id = excluded.message_id,
		in_reply_to = excluded.in_reply_to,
		"references" = excluded."references",
		subject = excluded.subject,
		from_address = excluded.from_address,
		from_name = excluded.from_name,
		reply_to = excluded.reply_to,
		to_addresses = excluded.to_addresses,
		cc_addresses = excluded.cc_addresses,
		bcc_addresses = excluded.bcc_addresses,
		sent_at = excluded.sent_at,
		received_at = excluded.received_at,
		body_text = excluded.body_text,
		body_html = excluded.body_html,
		preview = excluded.preview,
		has_attachment = excluded.has_attachment,
		is_read = excluded.is_read,
		is_starred = excluded.is_starred,
		is_flagged = excluded.is_flagged,
		is_draft = excluded.is_draft,
		is_answered = excluded.is_answered,
		sync_state = excluded.sync_state,
		raw_headers = excluded.raw_headers,
		classification = excluded.classification,
		classification_reason = excluded.classification_reason,
		updated_at = excluded.updated_at
	RETURNING id`

type emailRepository struct {
	db *sqlx.DB
}

func NewEmailRepository(db *sqlx.DB) interfaces.EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) UpsertBatch(ctx context.Context, emails []*models.Email) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.UpsertBatch")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	span.LogFields(log.Int("batch.size", len(emails)))

	if len(emails) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, upsertEmailQuery)
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, email := range emails {
		email.EnsureID()
		var id string
		if err := stmt.GetContext(ctx, &id, email); err != nil {
			tracing.TraceErr(span, err)
			return fmt.Errorf("upserting email uid %d: %w", email.UID, err)
		}
		email.ID = id
	}

	if err := tx.Commit(); err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to upsert emails: %w", err)
	}
	return nil
}

func (r *emailRepository) GetByID(ctx context.Context, id string) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var email models.Email
	if err := r.db.GetContext(ctx, &email, "SELECT * FROM emails WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) GetByUID(ctx context.Context, accountID, folderID string, uid uint32) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByUID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var email models.Email
	if err := r.db.GetContext(ctx, &email,
		"SELECT * FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?",
		accountID, folderID, uid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) ListByFolder(ctx context.Context, accountID, folderID string, limit, offset int) ([]*models.Email, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ListByFolder")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var count int64
	if err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM emails WHERE account_id = ? AND folder_id = ?", accountID, folderID); err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	if limit <= 0 {
		limit = -1
	}
	var emails []*models.Email
	if err := r.db.SelectContext(ctx, &emails,
		"SELECT * FROM emails WHERE account_id = ? AND folder_id = ? ORDER BY uid DESC LIMIT ? OFFSET ?",
		accountID, folderID, limit, offset); err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return emails, count, nil
}

func (r *emailRepository) ListByThread(ctx context.Context, accountID, threadID string) ([]*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ListByThread")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var emails []*models.Email
	if err := r.db.SelectContext(ctx, &emails,
		"SELECT * FROM emails WHERE account_id = ? AND thread_id = ? ORDER BY sent_at ASC",
		accountID, threadID); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) MaxUID(ctx context.Context, accountID, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.MaxUID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)

	var maxUID int64
	if err := r.db.GetContext(ctx, &maxUID,
		"SELECT COALESCE(MAX(uid), 0) FROM emails WHERE account_id = ? AND folder_id = ?",
		accountID, folderID); err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return uint32(maxUID), nil
}

func (r *emailRepository) UpdateFlags(ctx context.Context, id string, isRead, isStarred bool, state enum.EmailSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.UpdateFlags")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	result, err := r.db.ExecContext(ctx, `
		UPDATE emails SET is_read = ?, is_starred = ?, is_flagged = ?, sync_state = ?, updated_at = ?
		WHERE id = ?`,
		isRead, isStarred, isStarred, string(state), utils.Now(), id)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrEmailNotFound
	}
	return nil
}

func (r *emailRepository) DeleteByID(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.DeleteByID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if _, err := r.db.ExecContext(ctx, "DELETE FROM emails WHERE id = ?", id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *emailRepository) DeleteByUID(ctx context.Context, accountID, folderID string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.DeleteByUID")
	defer span.Finish()
	tracing.SetDefaultSqliteRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?",
		accountID, folderID, uid); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
