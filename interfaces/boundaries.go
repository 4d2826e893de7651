package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type CredentialProvider interface {
	GetSecret(ctx context.Context, accountID string) (string, error)
	SetSecret(ctx context.Context, accountID, secret string) error
	DeleteSecret(ctx context.Context, accountID string) error
}

type ConnectivityEvent struct {
	Type enum.ConnectivityEventType
	Kind string
	At   time.Time
}

type ConnectivityMonitor interface {
	Start(ctx context.Context)
	Stop()
	IsOnline() bool
	// Subscribe returns an event channel and a func that unsubscribes and closes it.
	Subscribe() (<-chan ConnectivityEvent, func())
}

// Notifier failures are logged by callers and never abort a sync pass.
type Notifier interface {
	NotifyNewMessages(ctx context.Context, accountID string, emails []*models.Email) error
	NotifySyncStatus(ctx context.Context, accountID string, success bool, message string) error
	NotifyQueueProgress(ctx context.Context, accountID string, processed, total int) error
	NotifyOperationDropped(ctx context.Context, op *models.PendingOperation, reason string) error
}

type OutgoingEmail struct {
	MessageID  string
	From       string
	FromName   string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	BodyText   string
	BodyHTML   string
	InReplyTo  string
	References []string
}

// MailSender delivers a message and returns the raw bytes that were sent.
type MailSender interface {
	Send(ctx context.Context, account *models.Account, secret string, email *OutgoingEmail) ([]byte, error)
}
