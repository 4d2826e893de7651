package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type AccountSyncStatus struct {
	AccountID      string            `json:"accountId"`
	State          enum.SessionState `json:"state"`
	Reason         string            `json:"reason,omitempty"`
	Running        bool              `json:"running"`
	LastPassAt     *time.Time        `json:"lastPassAt,omitempty"`
	LastPassError  string            `json:"lastPassError,omitempty"`
	QueueDepth     int64             `json:"queueDepth"`
	ExhaustedCount int64             `json:"exhaustedCount"`
}

type SyncService interface {
	StartSync(ctx context.Context, accountID string) error
	StopSync(accountID string)
	StopAll()
	IsRunning(accountID string) bool
	Status(ctx context.Context, accountID string) AccountSyncStatus
	HandleConnectivityEvent(ctx context.Context, event ConnectivityEvent)
	// DrainAll replays the offline queue of every account with pending operations.
	DrainAll(ctx context.Context)
}

type DrainResult struct {
	AccountID string `json:"accountId"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Dropped   int    `json:"dropped"`
	Total     int    `json:"total"`
}

type OfflineQueue interface {
	Enqueue(ctx context.Context, op *models.PendingOperation) (*models.PendingOperation, error)
	Drain(ctx context.Context, accountID string) (DrainResult, error)
	Pending(ctx context.Context, accountID string) ([]*models.PendingOperation, error)
	ExhaustedCount(accountID string) int64
}

// OperationExecutor runs one queued mutation against the server.
type OperationExecutor interface {
	Execute(ctx context.Context, session MailSession, op *models.PendingOperation) error
}

type SyncOptimizer interface {
	RecordSyncPerformance(accountID string, duration time.Duration, success bool, messageCount int)
	ChooseStrategy(accountID string) enum.SyncStrategy
	ChooseBatchSize(accountID string) int
}
