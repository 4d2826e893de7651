package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

// Lookups return nil, nil when the row does not exist.

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	ListSyncEnabled(ctx context.Context) ([]*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	UpdateSyncStatus(ctx context.Context, id, status, errorMessage string, syncedAt *time.Time) error
	// Delete removes the account with its folders, emails, sync states and queued operations.
	Delete(ctx context.Context, id string) error
}

type FolderRepository interface {
	Create(ctx context.Context, folder *models.Folder) error
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	GetByFullName(ctx context.Context, accountID, fullName string) (*models.Folder, error)
	ListByAccount(ctx context.Context, accountID string) ([]*models.Folder, error)
	Update(ctx context.Context, folder *models.Folder) error
	UpdateParent(ctx context.Context, id string, parentID *string) error
	UpdateSyncState(ctx context.Context, id string, state enum.FolderSyncState, syncedAt *time.Time) error
	// Delete removes the folder with its emails and sync state.
	Delete(ctx context.Context, id string) error
}

type EmailRepository interface {
	// UpsertBatch inserts or updates by (account, folder, uid) in one transaction. Existing ids are kept.
	UpsertBatch(ctx context.Context, emails []*models.Email) error
	GetByID(ctx context.Context, id string) (*models.Email, error)
	GetByUID(ctx context.Context, accountID, folderID string, uid uint32) (*models.Email, error)
	ListByFolder(ctx context.Context, accountID, folderID string, limit, offset int) ([]*models.Email, int64, error)
	ListByThread(ctx context.Context, accountID, threadID string) ([]*models.Email, error)
	MaxUID(ctx context.Context, accountID, folderID string) (uint32, error)
	UpdateFlags(ctx context.Context, id string, isRead, isStarred bool, state enum.EmailSyncState) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByUID(ctx context.Context, accountID, folderID string, uid uint32) error
}

type SyncStateRepository interface {
	GetWatermark(ctx context.Context, accountID, folderID string) (uint32, error)
	// SetWatermark never lowers a stored watermark.
	SetWatermark(ctx context.Context, accountID, folderID string, uid uint32) error
	ListByAccount(ctx context.Context, accountID string) (map[string]uint32, error)
	Delete(ctx context.Context, accountID, folderID string) error
	// GetUIDValidity returns 0 when none was recorded.
	GetUIDValidity(ctx context.Context, accountID, folderID string) (uint32, error)
	// SetUIDValidity records uidValidity without moving the watermark.
	SetUIDValidity(ctx context.Context, accountID, folderID string, uidValidity uint32) error
	// ResetFolder drops the folder's stored emails and restarts its watermark at 0 under
	// uidValidity, in one transaction.
	ResetFolder(ctx context.Context, accountID, folderID string, uidValidity uint32) error
}

type OperationRepository interface {
	Append(ctx context.Context, op *models.PendingOperation) error
	GetByID(ctx context.Context, id string) (*models.PendingOperation, error)
	// ListByAccount returns the queue in ascending sequence order.
	ListByAccount(ctx context.Context, accountID string) ([]*models.PendingOperation, error)
	CountByAccount(ctx context.Context, accountID string) (int64, error)
	ListAccountsWithPending(ctx context.Context) ([]string, error)
	LastSequence(ctx context.Context) (int64, error)
	IncrementRetry(ctx context.Context, id, lastError string) (int, error)
	Remove(ctx context.Context, id string) error
}
