package listeners

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/services/events"
)

// OperationRequestedListener queues mutations arriving over the broker and replays the account's queue when online.
type OperationRequestedListener struct {
	events.BaseEventListener
	queue        interfaces.OfflineQueue
	connectivity interfaces.ConnectivityMonitor
}

func NewOperationRequestedListener(
	logger logger.Logger, queue interfaces.OfflineQueue, connectivity interfaces.ConnectivityMonitor,
) interfaces.EventListener {
	return &OperationRequestedListener{
		BaseEventListener: events.NewBaseEventListener(
			logger,
			events.GetEventType[dto.OperationRequested](),
			events.QueueOperations,
		),
		queue:        queue,
		connectivity: connectivity,
	}
}

// Handle returns an error only when the operation could not be queued, so the message is dead-lettered.
func (l *OperationRequestedListener) Handle(ctx context.Context, baseEvent any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "OperationRequestedListener.Handle")
	defer span.Finish()
	tracing.SetDefaultListenerSpanTags(ctx, span)
	tracing.LogObjectAsJson(span, "event", baseEvent)

	validatedEvent, err := l.ValidateBaseEvent(ctx, baseEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	request, err := events.DecodeEventData[dto.OperationRequested](ctx, validatedEvent)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if request.AccountID == "" {
		request.AccountID = validatedEvent.Event.AccountId
	}
	tracing.TagAccount(span, request.AccountID)

	op, err := l.queue.Enqueue(ctx, &models.PendingOperation{
		AccountID: request.AccountID,
		Type:      request.Type,
		Payload:   models.JSONMap(request.Payload),
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "queueing %s for %s", request.Type, request.AccountID)
	}
	tracing.TagEntity(span, op.ID)
	l.Logger().Infof("[%s] Queued %s operation %s from broker", op.AccountID, op.Type, op.ID)

	if l.connectivity != nil && !l.connectivity.IsOnline() {
		return nil
	}

	result, err := l.queue.Drain(ctx, op.AccountID)
	if err != nil {
		l.Logger().Warnf("[%s] Drain after broker request stopped: %v", op.AccountID, err)
		return nil
	}
	l.Logger().Infof("[%s] Drained %d/%d queued operations", op.AccountID, result.Succeeded, result.Total)
	return nil
}
