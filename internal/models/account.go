package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/utils"
)

// Account is a mailbox the service keeps in sync. The secret lives in the credential provider.
type Account struct {
	ID           string `gorm:"column:id;type:varchar(50);primaryKey" db:"id" json:"id"`
	EmailAddress string `gorm:"column:email_address;type:varchar(255);uniqueIndex;not null" db:"email_address" json:"emailAddress"`
	DisplayName  string `gorm:"column:display_name;type:varchar(255)" db:"display_name" json:"displayName"`
	// IMAP Configuration
	ImapServer   string             `gorm:"column:imap_server;type:varchar(255);not null" db:"imap_server" json:"imapServer"`
	ImapPort     int                `gorm:"column:imap_port;not null" db:"imap_port" json:"imapPort"`
	ImapSecurity enum.EmailSecurity `gorm:"column:imap_security;type:varchar(20);not null;default:'tls'" db:"imap_security" json:"imapSecurity"`
	// SMTP Configuration
	SmtpServer   string             `gorm:"column:smtp_server;type:varchar(255)" db:"smtp_server" json:"smtpServer"`
	SmtpPort     int                `gorm:"column:smtp_port" db:"smtp_port" json:"smtpPort"`
	SmtpSecurity enum.EmailSecurity `gorm:"column:smtp_security;type:varchar(20);default:'startTLS'" db:"smtp_security" json:"smtpSecurity"`
	// Authentication
	Username string        `gorm:"column:username;type:varchar(255);not null" db:"username" json:"username"`
	AuthMode enum.AuthMode `gorm:"column:auth_mode;type:varchar(20);not null;default:'password'" db:"auth_mode" json:"authMode"`
	// Flags
	Enabled     bool `gorm:"column:enabled;not null" db:"enabled" json:"enabled"`
	SyncEnabled bool `gorm:"column:sync_enabled;not null" db:"sync_enabled" json:"syncEnabled"`
	// Status Information
	LastSyncAt   *time.Time `gorm:"column:last_sync_at;type:timestamp" db:"last_sync_at" json:"lastSyncAt"`
	SyncStatus   string     `gorm:"column:sync_status;type:varchar(50)" db:"sync_status" json:"syncStatus"`
	ErrorMessage string     `gorm:"column:error_message;type:text" db:"error_message" json:"errorMessage"`
	// Standard timestamps
	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" db:"updated_at" json:"updatedAt"`
}

// TableName sets the table name
func (Account) TableName() string {
	return "accounts"
}

func (a *Account) BeforeCreate(tx *gorm.DB) error {
	a.EnsureID()
	return nil
}

// EnsureID assigns an id for backends without gorm hooks.
func (a *Account) EnsureID() {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("acct", 16)
	}
	now := utils.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// CanSync reports whether the orchestrator may run passes for the account.
func (a *Account) CanSync() bool {
	return a != nil && a.Enabled && a.SyncEnabled
}
