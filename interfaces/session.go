package interfaces

import (
	"context"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

// FolderInfo is one remote mailbox as reported by LIST and STATUS, with a normalized path.
type FolderInfo struct {
	FullName    string
	Delimiter   string
	Attributes  []string
	TotalCount  uint32
	UnreadCount uint32
	Subscribed  bool
}

type FetchOptions struct {
	// Limit keeps only the newest N candidates. Zero means no limit.
	Limit int
	// BatchSize bounds the number of messages per FETCH round trip.
	BatchSize int
}

type PushEvent struct {
	Folder string
	Kind   enum.PushEventKind
	SeqNum uint32
}

// MailSession is a single authenticated connection to an account's mail server.
// Folder arguments are normalized "/"-separated paths.
type MailSession interface {
	Connect(ctx context.Context, account *models.Account, secret string) error
	State() enum.ConnectionState
	ListFolders(ctx context.Context) ([]FolderInfo, error)
	HighestUID(ctx context.Context, folder string) (uint32, error)
	// UIDValidity is 0 when the server does not report one.
	UIDValidity(ctx context.Context, folder string) (uint32, error)
	FetchNewMessages(ctx context.Context, folder string, sinceUID uint32, opts FetchOptions) ([]*models.Email, error)
	// EnterPushWait returns a channel that is closed when the wait ends for any reason.
	EnterPushWait(ctx context.Context, folder string) (<-chan PushEvent, error)
	ExitPushWait()
	Disconnect()

	SetFlags(ctx context.Context, folder string, uid uint32, flags []string, add bool) error
	Move(ctx context.Context, folder string, uid uint32, target string) error
	Delete(ctx context.Context, folder string, uid uint32) error
	CreateFolder(ctx context.Context, path string) error
	DeleteFolder(ctx context.Context, path string) error
	Append(ctx context.Context, folder string, flags []string, message []byte) error
}

// SessionProvider hands out the connected session of an account, connecting if needed.
type SessionProvider interface {
	Acquire(ctx context.Context, accountID string) (MailSession, error)
}
