package models

import (
	"time"
)

// SyncState is the persisted UID watermark of one folder. The watermark is only
// meaningful under the UIDVALIDITY it was recorded with; 0 means not yet known.
type SyncState struct {
	AccountID   string    `gorm:"column:account_id;type:varchar(50);primaryKey" db:"account_id"`
	FolderID    string    `gorm:"column:folder_id;type:varchar(50);primaryKey" db:"folder_id"`
	LastUID     uint32    `gorm:"column:last_uid;type:bigint;not null" db:"last_uid"`
	UIDValidity uint32    `gorm:"column:uid_validity;type:bigint;not null;default:0" db:"uid_validity"`
	LastSync    time.Time `gorm:"column:last_sync;type:timestamp;not null" db:"last_sync"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" db:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" db:"updated_at"`
}

func (SyncState) TableName() string {
	return "sync_states"
}
