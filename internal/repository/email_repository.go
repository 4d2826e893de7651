package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

// emailUpsertColumns are refreshed when a message is delivered again.
var emailUpsertColumns = []string{
	"message_number", "thread_id", "message_id", "in_reply_to", "references",
	"subject", "from_address", "from_name", "reply_to", "to_addresses", "cc_addresses", "bcc_addresses",
	"sent_at", "received_at", "body_text", "body_html", "preview", "has_attachment",
	"is_read", "is_starred", "is_flagged", "is_draft", "is_answered", "sync_state", "raw_headers",
	"classification", "classification_reason", "updated_at",
}

type emailRepository struct {
	db *gorm.DB
}

func NewEmailRepository(db *gorm.DB) interfaces.EmailRepository {
	return &emailRepository{
		db: db,
	}
}

func (r *emailRepository) UpsertBatch(ctx context.Context, emails []*models.Email) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.UpsertBatch")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	span.LogFields(log.Int("batch.size", len(emails)))

	if len(emails) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.assignExistingIDs(tx, emails); err != nil {
			return err
		}
		for _, email := range emails {
			email.EnsureID()
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "folder_id"}, {Name: "uid"}},
			DoUpdates: clause.AssignmentColumns(emailUpsertColumns),
		}).Create(&emails).Error
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to upsert emails: %w", err)
	}
	return nil
}

// assignExistingIDs copies stored ids onto re-delivered messages so callers see the persisted id.
func (r *emailRepository) assignExistingIDs(tx *gorm.DB, emails []*models.Email) error {
	type key struct {
		folderID string
		uid      uint32
	}
	byFolder := make(map[string][]uint32)
	accountID := emails[0].AccountID
	for _, email := range emails {
		byFolder[email.FolderID] = append(byFolder[email.FolderID], email.UID)
	}

	existing := make(map[key]string)
	for folderID, uids := range byFolder {
		var rows []models.Email
		if err := tx.Select("id", "folder_id", "uid").
			Where("account_id = ? AND folder_id = ? AND uid IN ?", accountID, folderID, uids).
			Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			existing[key{row.FolderID, row.UID}] = row.ID
		}
	}
	for _, email := range emails {
		if id, ok := existing[key{email.FolderID, email.UID}]; ok {
			email.ID = id
		}
	}
	return nil
}

// GetByID retrieves an email by its ID
func (r *emailRepository) GetByID(ctx context.Context, id string) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	var email models.Email
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &email, nil
}

// GetByUID retrieves an email by its UID within a specific account and folder
func (r *emailRepository) GetByUID(ctx context.Context, accountID, folderID string, uid uint32) (*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.GetByUID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var email models.Email
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ? AND uid = ?", accountID, folderID, uid).
		First(&email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
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
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var emails []*models.Email
	var count int64

	query := r.db.WithContext(ctx).Model(&models.Email{}).Where("account_id = ? AND folder_id = ?", accountID, folderID)
	if err := query.Count(&count).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	if err := query.Order("uid DESC").Limit(limit).Offset(offset).Find(&emails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return emails, count, nil
}

func (r *emailRepository) ListByThread(ctx context.Context, accountID, threadID string) ([]*models.Email, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.ListByThread")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	var emails []*models.Email
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND thread_id = ?", accountID, threadID).
		Order("sent_at ASC").
		Find(&emails).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return emails, nil
}

func (r *emailRepository) MaxUID(ctx context.Context, accountID, folderID string) (uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.MaxUID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	var maxUID int64
	if err := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("account_id = ? AND folder_id = ?", accountID, folderID).
		Select("COALESCE(MAX(uid), 0)").
		Scan(&maxUID).Error; err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	return uint32(maxUID), nil
}

func (r *emailRepository) UpdateFlags(ctx context.Context, id string, isRead, isStarred bool, state enum.EmailSyncState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.UpdateFlags")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	result := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_read":    isRead,
			"is_starred": isStarred,
			"is_flagged": isStarred,
			"sync_state": state,
			"updated_at": utils.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEmailNotFound
	}
	return nil
}

func (r *emailRepository) DeleteByID(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.DeleteByID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagEntity(span, id)

	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Email{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *emailRepository) DeleteByUID(ctx context.Context, accountID, folderID string, uid uint32) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "emailRepository.DeleteByUID")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND folder_id = ? AND uid = ?", accountID, folderID, uid).
		Delete(&models.Email{}).Error; err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}
