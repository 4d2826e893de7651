package dto

import (
	"time"

	"github.com/customeros/mailsync/internal/enum"
)

// MessageSummary is the part of a new message that subscribers need to render a notification.
type MessageSummary struct {
	EmailID     string     `json:"emailId"`
	FolderID    string     `json:"folderId"`
	UID         uint32     `json:"uid"`
	ThreadID    string     `json:"threadId,omitempty"`
	Subject     string     `json:"subject"`
	FromAddress string     `json:"fromAddress"`
	FromName    string     `json:"fromName,omitempty"`
	Preview     string     `json:"preview,omitempty"`
	ReceivedAt  *time.Time `json:"receivedAt,omitempty"`
}

type NewMessages struct {
	AccountID string           `json:"accountId"`
	Count     int              `json:"count"`
	Messages  []MessageSummary `json:"messages"`
}

type SyncStatus struct {
	AccountID string `json:"accountId"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

type QueueProgress struct {
	AccountID string `json:"accountId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

type OperationDropped struct {
	AccountID   string             `json:"accountId"`
	OperationID string             `json:"operationId"`
	Type        enum.OperationType `json:"type"`
	RetryCount  int                `json:"retryCount"`
	LastError   string             `json:"lastError,omitempty"`
	Reason      string             `json:"reason"`
}

// OperationRequested asks the service to queue a mutation for an account and replay the queue.
type OperationRequested struct {
	AccountID string                 `json:"accountId"`
	Type      enum.OperationType     `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
}
