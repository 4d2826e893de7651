package events

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

// RabbitMQNotifier publishes sync notifications to the fanout exchange.
type RabbitMQNotifier struct {
	publisher interfaces.EventPublisher
	log       logger.Logger
}

var _ interfaces.Notifier = (*RabbitMQNotifier)(nil)

func NewRabbitMQNotifier(publisher interfaces.EventPublisher, log logger.Logger) *RabbitMQNotifier {
	return &RabbitMQNotifier{publisher: publisher, log: log}
}

func (n *RabbitMQNotifier) NotifyNewMessages(ctx context.Context, accountID string, emails []*models.Email) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQNotifier.NotifyNewMessages")
	defer span.Finish()
	tracing.TagAccount(span, accountID)
	span.LogKV("count", len(emails))

	if len(emails) == 0 {
		return nil
	}

	event := dto.NewMessages{
		AccountID: accountID,
		Count:     len(emails),
		Messages:  make([]dto.MessageSummary, 0, len(emails)),
	}
	for _, email := range emails {
		event.Messages = append(event.Messages, Summarize(email))
	}

	err := n.publisher.PublishFanoutEvent(utils.SetAccountIDInContext(ctx, accountID), accountID, enum.ACCOUNT, event)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (n *RabbitMQNotifier) NotifySyncStatus(ctx context.Context, accountID string, success bool, message string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQNotifier.NotifySyncStatus")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	err := n.publisher.PublishFanoutEvent(utils.SetAccountIDInContext(ctx, accountID), accountID, enum.ACCOUNT, dto.SyncStatus{
		AccountID: accountID,
		Success:   success,
		Message:   message,
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (n *RabbitMQNotifier) NotifyQueueProgress(ctx context.Context, accountID string, processed, total int) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQNotifier.NotifyQueueProgress")
	defer span.Finish()
	tracing.TagAccount(span, accountID)

	err := n.publisher.PublishFanoutEvent(utils.SetAccountIDInContext(ctx, accountID), accountID, enum.ACCOUNT, dto.QueueProgress{
		AccountID: accountID,
		Processed: processed,
		Total:     total,
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (n *RabbitMQNotifier) NotifyOperationDropped(ctx context.Context, op *models.PendingOperation, reason string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQNotifier.NotifyOperationDropped")
	defer span.Finish()
	tracing.TagAccount(span, op.AccountID)
	tracing.TagEntity(span, op.ID)

	err := n.publisher.PublishFanoutEvent(utils.SetAccountIDInContext(ctx, op.AccountID), op.ID, enum.OPERATION, dto.OperationDropped{
		AccountID:   op.AccountID,
		OperationID: op.ID,
		Type:        op.Type,
		RetryCount:  op.RetryCount,
		LastError:   op.LastError,
		Reason:      reason,
	})
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func Summarize(email *models.Email) dto.MessageSummary {
	return dto.MessageSummary{
		EmailID:     email.ID,
		FolderID:    email.FolderID,
		UID:         email.UID,
		ThreadID:    utils.GetOrDefault(email.ThreadID, ""),
		Subject:     email.Subject,
		FromAddress: email.FromAddress,
		FromName:    email.FromName,
		Preview:     email.Preview,
		ReceivedAt:  email.ReceivedAt,
	}
}

// LoggingNotifier writes notifications to the application log. Used when no broker is configured.
type LoggingNotifier struct {
	log logger.Logger
}

var _ interfaces.Notifier = (*LoggingNotifier)(nil)

func NewLoggingNotifier(log logger.Logger) *LoggingNotifier {
	return &LoggingNotifier{log: log}
}

func (n *LoggingNotifier) NotifyNewMessages(ctx context.Context, accountID string, emails []*models.Email) error {
	for _, email := range emails {
		n.log.Infof("[%s] New message uid=%d from %s: %s", accountID, email.UID, email.FromAddress, utils.Truncate(email.Subject, 80))
	}
	return nil
}

func (n *LoggingNotifier) NotifySyncStatus(ctx context.Context, accountID string, success bool, message string) error {
	if success {
		n.log.Infof("[%s] Sync status: %s", accountID, message)
	} else {
		n.log.Warnf("[%s] Sync failed: %s", accountID, message)
	}
	return nil
}

func (n *LoggingNotifier) NotifyQueueProgress(ctx context.Context, accountID string, processed, total int) error {
	n.log.Debugf("[%s] Offline queue progress %d/%d", accountID, processed, total)
	return nil
}

func (n *LoggingNotifier) NotifyOperationDropped(ctx context.Context, op *models.PendingOperation, reason string) error {
	n.log.Warnf("[%s] Dropped %s operation %s after %d attempts: %s", op.AccountID, op.Type, op.ID, op.RetryCount, reason)
	return nil
}
