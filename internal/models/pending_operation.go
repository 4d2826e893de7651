package models

import (
	"time"

	"github.com/customeros/mailsync/internal/enum"
)

// Payload keys understood by the operation executor.
const (
	PayloadEmailID      = "emailId"
	PayloadFolder       = "folder"
	PayloadUID          = "uid"
	PayloadTargetFolder = "targetFolder"
	PayloadTo           = "to"
	PayloadCc           = "cc"
	PayloadBcc          = "bcc"
	PayloadSubject      = "subject"
	PayloadBodyText     = "bodyText"
	PayloadBodyHTML     = "bodyHtml"
	PayloadInReplyTo    = "inReplyTo"
	PayloadReferences   = "references"
)

// PendingOperation is a user mutation waiting to be replayed against the server.
// Only RetryCount and LastError change after it is enqueued.
type PendingOperation struct {
	ID         string             `gorm:"column:id;type:varchar(64);primaryKey" db:"id" json:"id"`
	AccountID  string             `gorm:"column:account_id;type:varchar(50);index;not null" db:"account_id" json:"accountId"`
	Type       enum.OperationType `gorm:"column:type;type:varchar(30);not null" db:"type" json:"type"`
	Payload    JSONMap            `gorm:"column:payload;type:jsonb" db:"payload" json:"payload"`
	Sequence   int64              `gorm:"column:sequence;uniqueIndex;not null" db:"sequence" json:"sequence"`
	EnqueuedAt time.Time          `gorm:"column:enqueued_at;type:timestamp;not null" db:"enqueued_at" json:"enqueuedAt"`
	RetryCount int                `gorm:"column:retry_count;not null;default:0" db:"retry_count" json:"retryCount"`
	LastError  string             `gorm:"column:last_error;type:text" db:"last_error" json:"lastError,omitempty"`
}

func (PendingOperation) TableName() string {
	return "pending_operations"
}
