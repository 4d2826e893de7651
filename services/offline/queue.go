package offline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

// Queue stores user mutations durably and replays them in sequence order.
type Queue struct {
	repositories *repository.Repositories
	sessions     interfaces.SessionProvider
	executor     interfaces.OperationExecutor
	notifier     interfaces.Notifier
	cfg          *config.OfflineConfig
	log          logger.Logger

	drains singleflight.Group

	seqMu     sync.Mutex
	lastSeq   int64
	seqLoaded bool

	exhaustedMu sync.Mutex
	exhausted   map[string]int64
}

var _ interfaces.OfflineQueue = (*Queue)(nil)

func NewQueue(
	repos *repository.Repositories,
	sessions interfaces.SessionProvider,
	executor interfaces.OperationExecutor,
	notifier interfaces.Notifier,
	cfg *config.OfflineConfig,
	log logger.Logger,
) *Queue {
	return &Queue{
		repositories: repos,
		sessions:     sessions,
		executor:     executor,
		notifier:     notifier,
		cfg:          cfg,
		log:          log,
		exhausted:    make(map[string]int64),
	}
}

// Enqueue validates the operation, assigns its id, timestamp and sequence and appends it.
func (q *Queue) Enqueue(ctx context.Context, op *models.PendingOperation) (*models.PendingOperation, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Queue.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if err := validate(op); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.TagAccount(span, op.AccountID)
	span.SetTag("operation.type", op.Type.String())

	account, err := q.repositories.AccountRepository.GetByID(ctx, op.AccountID)
	if err != nil {
		err = mailsync_errors.Storage("queue.account", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	if account == nil {
		tracing.TraceErr(span, mailsync_errors.ErrAccountNotFound)
		return nil, mailsync_errors.ErrAccountNotFound
	}

	seq, err := q.nextSequence(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	op.ID = uuid.New().String()
	op.Sequence = seq
	op.EnqueuedAt = utils.Now()
	op.RetryCount = 0
	op.LastError = ""
	if op.Payload == nil {
		op.Payload = models.JSONMap{}
	}

	if err := q.repositories.OperationRepository.Append(ctx, op); err != nil {
		err = mailsync_errors.Storage("queue.append", err)
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.TagEntity(span, op.ID)

	q.applyOptimistic(ctx, op)
	q.log.Infof("[%s] Queued %s operation %s (sequence %d)", op.AccountID, op.Type, op.ID, op.Sequence)
	return op, nil
}

func validate(op *models.PendingOperation) error {
	if op == nil {
		return errors.Wrap(mailsync_errors.ErrInvalidOperation, "operation is nil")
	}
	if op.AccountID == "" {
		return errors.Wrap(mailsync_errors.ErrInvalidOperation, "account id is required")
	}
	if !op.Type.IsValid() {
		return errors.Wrapf(mailsync_errors.ErrInvalidOperation, "unknown operation type %q", op.Type)
	}

	switch op.Type {
	case enum.OperationCreateFolder, enum.OperationDeleteFolder:
		if op.Payload.GetString(models.PayloadFolder) == "" {
			return errors.Wrapf(mailsync_errors.ErrInvalidOperation, "%s requires %q", op.Type, models.PayloadFolder)
		}
	case enum.OperationSend:
		if len(op.Payload.GetStrings(models.PayloadTo))+len(op.Payload.GetStrings(models.PayloadCc))+len(op.Payload.GetStrings(models.PayloadBcc)) == 0 {
			return errors.Wrap(mailsync_errors.ErrInvalidOperation, "send requires at least one recipient")
		}
	default:
		_, hasUID := op.Payload.GetUint32(models.PayloadUID)
		if op.Payload.GetString(models.PayloadEmailID) == "" && (op.Payload.GetString(models.PayloadFolder) == "" || !hasUID) {
			return errors.Wrapf(mailsync_errors.ErrInvalidOperation, "%s requires %q or %q with %q",
				op.Type, models.PayloadEmailID, models.PayloadFolder, models.PayloadUID)
		}
		if op.Type == enum.OperationMove && op.Payload.GetString(models.PayloadTargetFolder) == "" {
			return errors.Wrapf(mailsync_errors.ErrInvalidOperation, "move requires %q", models.PayloadTargetFolder)
		}
	}
	return nil
}

// nextSequence is strictly increasing across restarts: it never falls below the stored
// maximum and tracks wall-clock nanoseconds otherwise.
func (q *Queue) nextSequence(ctx context.Context) (int64, error) {
	q.seqMu.Lock()
	defer q.seqMu.Unlock()

	if !q.seqLoaded {
		last, err := q.repositories.OperationRepository.LastSequence(ctx)
		if err != nil {
			return 0, mailsync_errors.Storage("queue.sequence", err)
		}
		q.lastSeq = last
		q.seqLoaded = true
	}

	next := time.Now().UnixNano()
	if next <= q.lastSeq {
		next = q.lastSeq + 1
	}
	q.lastSeq = next
	return next, nil
}

// applyOptimistic mirrors flag changes locally as pending writes until the replay lands.
func (q *Queue) applyOptimistic(ctx context.Context, op *models.PendingOperation) {
	emailID := op.Payload.GetString(models.PayloadEmailID)
	if emailID == "" {
		return
	}
	email, err := q.repositories.EmailRepository.GetByID(ctx, emailID)
	if err != nil || email == nil {
		return
	}

	isRead, isStarred := email.IsRead, email.IsStarred
	switch op.Type {
	case enum.OperationMarkRead:
		isRead = true
	case enum.OperationMarkUnread:
		isRead = false
	case enum.OperationStar:
		isStarred = true
	case enum.OperationUnstar:
		isStarred = false
	default:
		return
	}
	if err := q.repositories.EmailRepository.UpdateFlags(ctx, email.ID, isRead, isStarred, enum.EmailSyncStatePendingWrite); err != nil {
		q.log.Warnf("[%s] Optimistic flag update failed for %s: %v", op.AccountID, email.ID, err)
	}
}

func (q *Queue) Pending(ctx context.Context, accountID string) ([]*models.PendingOperation, error) {
	ops, err := q.repositories.OperationRepository.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, mailsync_errors.Storage("queue.list", err)
	}
	return ops, nil
}

func (q *Queue) ExhaustedCount(accountID string) int64 {
	q.exhaustedMu.Lock()
	defer q.exhaustedMu.Unlock()
	return q.exhausted[accountID]
}

// Drain replays the account's queue. Concurrent calls for one account join the drain
// already in flight and share its result.
func (q *Queue) Drain(ctx context.Context, accountID string) (interfaces.DrainResult, error) {
	result, err, shared := q.drains.Do(accountID, func() (interface{}, error) {
		return q.drain(ctx, accountID)
	})
	if shared {
		q.log.Debugf("[%s] Joined in-flight drain", accountID)
	}
	return result.(interfaces.DrainResult), err
}

func (q *Queue) drain(ctx context.Context, accountID string) (interfaces.DrainResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Queue.Drain")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	result := interfaces.DrainResult{AccountID: accountID}

	ops, err := q.repositories.OperationRepository.ListByAccount(ctx, accountID)
	if err != nil {
		err = mailsync_errors.Storage("queue.list", err)
		tracing.TraceErr(span, err)
		return result, err
	}
	result.Total = len(ops)
	if len(ops) == 0 {
		return result, nil
	}

	session, err := q.sessions.Acquire(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}

	q.log.Infof("[%s] Draining %d queued operation(s)", accountID, len(ops))
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		opCtx, cancel := context.WithTimeout(ctx, q.cfg.OperationTimeout)
		execErr := q.executor.Execute(opCtx, session, op)
		cancel()
		result.Processed++

		if execErr == nil {
			if err := q.repositories.OperationRepository.Remove(ctx, op.ID); err != nil {
				err = mailsync_errors.Storage("queue.remove", err)
				tracing.TraceErr(span, err)
				return result, err
			}
			result.Succeeded++
		} else {
			result.Failed++
			dropped, err := q.recordFailure(ctx, op, execErr)
			if err != nil {
				tracing.TraceErr(span, err)
				return result, err
			}
			if dropped {
				result.Dropped++
			}
		}
		q.reportProgress(ctx, accountID, result.Processed, result.Total)

		// the rest of the queue would fail the same way on a dead connection
		if execErr != nil && mailsync_errors.IsConnectionError(execErr) {
			err := mailsync_errors.Network("queue.drain", execErr)
			tracing.TraceErr(span, err)
			return result, err
		}
	}

	span.LogKV("processed", result.Processed, "succeeded", result.Succeeded,
		"failed", result.Failed, "dropped", result.Dropped)
	q.log.Infof("[%s] Drain finished: %d succeeded, %d failed, %d dropped",
		accountID, result.Succeeded, result.Failed, result.Dropped)
	return result, nil
}

// recordFailure bumps the retry count and drops the operation at the ceiling.
func (q *Queue) recordFailure(ctx context.Context, op *models.PendingOperation, execErr error) (bool, error) {
	retries, err := q.repositories.OperationRepository.IncrementRetry(ctx, op.ID, execErr.Error())
	if err != nil {
		return false, mailsync_errors.Storage("queue.retry", err)
	}
	op.RetryCount = retries
	op.LastError = execErr.Error()
	q.log.Warnf("[%s] Operation %s (%s) failed, attempt %d/%d: %v",
		op.AccountID, op.ID, op.Type, retries, q.cfg.MaxRetries, execErr)

	if retries < q.cfg.MaxRetries {
		return false, nil
	}

	if err := q.repositories.OperationRepository.Remove(ctx, op.ID); err != nil {
		return false, mailsync_errors.Storage("queue.remove", err)
	}
	q.exhaustedMu.Lock()
	q.exhausted[op.AccountID]++
	q.exhaustedMu.Unlock()

	reason := mailsync_errors.QueueExhausted("queue.drain", execErr).Error()
	q.log.Errorf("[%s] Dropped operation %s (%s) after %d attempts: %v",
		op.AccountID, op.ID, op.Type, retries, execErr)
	if err := q.notifier.NotifyOperationDropped(ctx, op, reason); err != nil {
		q.log.Warnf("[%s] Failed to notify dropped operation %s: %v", op.AccountID, op.ID, err)
	}
	return true, nil
}

func (q *Queue) reportProgress(ctx context.Context, accountID string, processed, total int) {
	if err := q.notifier.NotifyQueueProgress(ctx, accountID, processed, total); err != nil {
		q.log.Warnf("[%s] Failed to report queue progress: %v", accountID, err)
	}
}
