package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// Email is a message cached from a remote folder. UID is only meaningful within its folder.
type Email struct {
	ID            string         `gorm:"column:id;type:varchar(50);primaryKey" db:"id" json:"id"`
	AccountID     string         `gorm:"column:account_id;type:varchar(50);uniqueIndex:uq_email_account_folder_uid;not null" db:"account_id" json:"accountId"`
	FolderID      string         `gorm:"column:folder_id;type:varchar(50);uniqueIndex:uq_email_account_folder_uid;not null" db:"folder_id" json:"folderId"`
	UID           uint32         `gorm:"column:uid;type:bigint;uniqueIndex:uq_email_account_folder_uid;not null" db:"uid" json:"uid"`
	MessageNumber uint32         `gorm:"column:message_number;type:bigint" db:"message_number" json:"messageNumber"`
	ThreadID      *string        `gorm:"column:thread_id;type:varchar(255);index" db:"thread_id" json:"threadId,omitempty"`
	MessageID     string         `gorm:"column:message_id;type:varchar(255);index" db:"message_id" json:"messageId"`
	InReplyTo     string         `gorm:"column:in_reply_to;type:varchar(255)" db:"in_reply_to" json:"inReplyTo"`
	References    pq.StringArray `gorm:"column:references;type:text[]" db:"references" json:"references"`

	// Core email metadata
	Subject      string         `gorm:"column:subject;type:varchar(1000)" db:"subject" json:"subject"`
	FromAddress  string         `gorm:"column:from_address;type:varchar(255);index" db:"from_address" json:"fromAddress"`
	FromName     string         `gorm:"column:from_name;type:varchar(255)" db:"from_name" json:"fromName"`
	ReplyTo      string         `gorm:"column:reply_to;type:varchar(255)" db:"reply_to" json:"replyTo"`
	ToAddresses  pq.StringArray `gorm:"column:to_addresses;type:text[]" db:"to_addresses" json:"to"`
	CcAddresses  pq.StringArray `gorm:"column:cc_addresses;type:text[]" db:"cc_addresses" json:"cc"`
	BccAddresses pq.StringArray `gorm:"column:bcc_addresses;type:text[]" db:"bcc_addresses" json:"bcc"`

	// Time information
	SentAt     *time.Time `gorm:"column:sent_at;type:timestamp;index" db:"sent_at" json:"sentAt"`
	ReceivedAt *time.Time `gorm:"column:received_at;type:timestamp;index" db:"received_at" json:"receivedAt"`

	// Content
	BodyText      string `gorm:"column:body_text;type:text" db:"body_text" json:"bodyText"`
	BodyHTML      string `gorm:"column:body_html;type:text" db:"body_html" json:"bodyHtml"`
	Preview       string `gorm:"column:preview;type:varchar(500)" db:"preview" json:"preview"`
	HasAttachment bool   `gorm:"column:has_attachment;default:false" db:"has_attachment" json:"hasAttachment"`

	// Flags
	IsRead     bool `gorm:"column:is_read;default:false" db:"is_read" json:"isRead"`
	IsStarred  bool `gorm:"column:is_starred;default:false" db:"is_starred" json:"isStarred"`
	IsFlagged  bool `gorm:"column:is_flagged;default:false" db:"is_flagged" json:"isFlagged"`
	IsDraft    bool `gorm:"column:is_draft;default:false" db:"is_draft" json:"isDraft"`
	IsAnswered bool `gorm:"column:is_answered;default:false" db:"is_answered" json:"isAnswered"`

	SyncState  enum.EmailSyncState `gorm:"column:sync_state;type:varchar(20);default:'synced'" db:"sync_state" json:"syncState"`
	RawHeaders JSONMap             `gorm:"column:raw_headers;type:jsonb" db:"raw_headers" json:"-"`

	Classification       enum.EmailClassification `gorm:"column:classification;type:varchar(30);default:'ok'" db:"classification" json:"classification"`
	ClassificationReason string                   `gorm:"column:classification_reason;type:varchar(255)" db:"classification_reason" json:"classificationReason,omitempty"`

	// Standard timestamps
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" db:"updated_at" json:"updatedAt"`
}

func (Email) TableName() string {
	return "emails"
}

func (e *Email) BeforeCreate(tx *gorm.DB) error {
	e.EnsureID()
	return nil
}

func (e *Email) EnsureID() {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("email", 24)
	}
	now := utils.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.SyncState == "" {
		e.SyncState = enum.EmailSyncStateSynced
	}
	if e.Classification == "" {
		e.Classification = enum.EmailClassificationOK
	}
}

// ApplyFlags maps IMAP system flags onto the boolean columns.
func (e *Email) ApplyFlags(flags []string) {
	e.IsRead, e.IsStarred, e.IsFlagged, e.IsDraft, e.IsAnswered = false, false, false, false, false
	for _, flag := range flags {
		switch flag {
		case `\Seen`:
			e.IsRead = true
		case `\Flagged`:
			e.IsFlagged = true
			e.IsStarred = true
		case `\Draft`:
			e.IsDraft = true
		case `\Answered`:
			e.IsAnswered = true
		}
	}
}
