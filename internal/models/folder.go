package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// Folder is the local copy of a remote mailbox. FullName is always "/"-separated.
type Folder struct {
	ID          string               `gorm:"column:id;type:varchar(50);primaryKey" db:"id" json:"id"`
	AccountID   string               `gorm:"column:account_id;type:varchar(50);uniqueIndex:uq_folder_account_name;not null" db:"account_id" json:"accountId"`
	FullName    string               `gorm:"column:full_name;type:varchar(1000);uniqueIndex:uq_folder_account_name;not null" db:"full_name" json:"fullName"`
	Name        string               `gorm:"column:name;type:varchar(255);not null" db:"name" json:"name"`
	Delimiter   string               `gorm:"column:delimiter;type:varchar(4)" db:"delimiter" json:"delimiter"`
	ParentID    *string              `gorm:"column:parent_id;type:varchar(50);index" db:"parent_id" json:"parentId,omitempty"`
	TotalCount  uint32               `gorm:"column:total_count;type:bigint;not null;default:0" db:"total_count" json:"totalCount"`
	UnreadCount uint32               `gorm:"column:unread_count;type:bigint;not null;default:0" db:"unread_count" json:"unreadCount"`
	Subscribed  bool                 `gorm:"column:subscribed;not null;default:false" db:"subscribed" json:"subscribed"`
	Attributes  pq.StringArray       `gorm:"column:attributes;type:text[]" db:"attributes" json:"attributes"`
	SyncState   enum.FolderSyncState `gorm:"column:sync_state;type:varchar(20);not null;default:'PENDING'" db:"sync_state" json:"syncState"`
	LastSyncAt  *time.Time           `gorm:"column:last_sync_at;type:timestamp" db:"last_sync_at" json:"lastSyncAt"`
	CreatedAt   time.Time            `gorm:"column:created_at;type:timestamp;default:current_timestamp" db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;type:timestamp;default:current_timestamp" db:"updated_at" json:"updatedAt"`
}

func (Folder) TableName() string {
	return "folders"
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	f.EnsureID()
	return nil
}

func (f *Folder) EnsureID() {
	if f.ID == "" {
		f.ID = utils.GenerateNanoIDWithPrefix("fold", 16)
	}
	now := utils.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	if f.SyncState == "" {
		f.SyncState = enum.FolderSyncPending
	}
}

// Selectable is false for \Noselect containers, which hold no messages.
func (f *Folder) Selectable() bool {
	for _, attr := range f.Attributes {
		if strings.EqualFold(attr, `\Noselect`) || strings.EqualFold(attr, `\NonExistent`) {
			return false
		}
	}
	return true
}
