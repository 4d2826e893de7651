package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	syncStatusSynced  = "synced"
	syncStatusPartial = "partial"
	syncStatusFailed  = "failed"
)

// runPass connects, reconciles the folder list and fetches new mail for the folders the
// optimizer's strategy selects. The returned session is non-nil once connected, even
// when a later step failed.
func (o *Orchestrator) runPass(ctx context.Context, t *task) (interfaces.MailSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.runPass")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.accountID)

	started := time.Now()
	t.setState(enum.SessionConnecting, "")
	session, err := o.sessions.Acquire(ctx, t.accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		o.failPass(ctx, t, started, 0, err)
		return nil, err
	}

	t.setState(enum.SessionReconciling, "")
	remote, err := session.ListFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		o.failPass(ctx, t, started, 0, err)
		return session, err
	}
	result, err := o.reconciler.Reconcile(ctx, t.accountID, remote)
	if err != nil {
		tracing.TraceErr(span, err)
		o.failPass(ctx, t, started, 0, err)
		return session, err
	}

	strategy := o.optimizer.ChooseStrategy(t.accountID)
	batchSize := o.optimizer.ChooseBatchSize(t.accountID)
	targets := SelectFolders(strategy, result.Folders(), result.Changed, o.cfg.PrimaryFolder)
	span.LogKV("strategy", string(strategy), "batchSize", batchSize, "folders", len(targets))
	o.log.Infof("[%s] %s pass over %d folder(s), batch size %d", t.accountID, strategy, len(targets), batchSize)

	t.setState(enum.SessionFetching, "")
	partial := &mailsync_errors.PartialSuccess{}
	fetched := 0
	for _, folder := range targets {
		if err := ctx.Err(); err != nil {
			return session, err
		}

		n, err := o.syncFolder(ctx, t, session, folder, batchSize)
		fetched += n
		if err == nil {
			partial.Add(nil)
			continue
		}
		if ctx.Err() != nil {
			return session, ctx.Err()
		}
		if mailsync_errors.IsConnectionError(err) || mailsync_errors.IsAuth(err) {
			if mailsync_errors.KindOf(err) == mailsync_errors.KindUnknown {
				err = mailsync_errors.Network("orchestrator.fetch", err)
			}
			tracing.TraceErr(span, err)
			o.failPass(ctx, t, started, fetched, err)
			return session, err
		}

		o.log.Warnf("[%s][%s] Folder sync failed, continuing: %v", t.accountID, folder.FullName, err)
		o.markFolder(ctx, t.accountID, folder, enum.FolderSyncFailed)
		partial.Add(errors.Wrapf(err, "folder %s", folder.FullName))
	}

	o.completePass(ctx, t, started, fetched, partial)
	return session, nil
}

// syncFolder fetches everything above the folder's watermark. The watermark only moves
// after each batch is stored.
func (o *Orchestrator) syncFolder(ctx context.Context, t *task, session interfaces.MailSession, folder *models.Folder, batchSize int) (int, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.syncFolder")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, t.accountID)
	tracing.TagFolder(span, folder.FullName)

	remoteCtx := ctx
	if o.cfg.FolderTimeout > 0 {
		var cancel context.CancelFunc
		remoteCtx, cancel = context.WithTimeout(ctx, o.cfg.FolderTimeout)
		defer cancel()
	}

	watermark, err := o.repositories.SyncStateRepository.GetWatermark(ctx, t.accountID, folder.ID)
	if err != nil {
		err = mailsync_errors.Storage("orchestrator.watermark", err)
		tracing.TraceErr(span, err)
		return 0, err
	}
	highest, err := session.HighestUID(remoteCtx, folder.FullName)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	validity, err := session.UIDValidity(remoteCtx, folder.FullName)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if watermark, err = o.checkUIDValidity(ctx, t.accountID, folder, validity, watermark); err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	span.LogKV("watermark", watermark, "highestUid", highest, "uidValidity", validity)

	if highest <= watermark {
		o.markFolder(ctx, t.accountID, folder, enum.FolderSyncSynced)
		return 0, nil
	}

	opts := interfaces.FetchOptions{BatchSize: batchSize}
	if watermark == 0 {
		opts.Limit = o.cfg.InitialFetchLimit
	}
	emails, err := session.FetchNewMessages(remoteCtx, folder.FullName, watermark, opts)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	stored, err := o.persist(ctx, t.accountID, folder, emails, batchSize)
	if err != nil {
		tracing.TraceErr(span, err)
		return len(stored), err
	}
	o.markFolder(ctx, t.accountID, folder, enum.FolderSyncSynced)
	o.log.Infof("[%s][%s] Stored %d new message(s) above uid %d", t.accountID, folder.FullName, len(stored), watermark)

	// the first fetch of a folder is history, not news
	if watermark > 0 {
		o.notifyNew(ctx, t.accountID, stored)
	}
	return len(stored), nil
}

// checkUIDValidity returns the watermark to fetch above. When the server renumbered the
// folder the stored copy is dropped and the folder starts over from uid 0.
func (o *Orchestrator) checkUIDValidity(ctx context.Context, accountID string, folder *models.Folder, validity, watermark uint32) (uint32, error) {
	if validity == 0 {
		return watermark, nil
	}
	stored, err := o.repositories.SyncStateRepository.GetUIDValidity(ctx, accountID, folder.ID)
	if err != nil {
		return 0, mailsync_errors.Storage("orchestrator.uid_validity", err)
	}
	if stored == validity {
		return watermark, nil
	}
	if stored == 0 {
		if err := o.repositories.SyncStateRepository.SetUIDValidity(ctx, accountID, folder.ID, validity); err != nil {
			return 0, mailsync_errors.Storage("orchestrator.uid_validity", err)
		}
		return watermark, nil
	}

	o.log.Warnf("[%s][%s] UIDVALIDITY changed from %d to %d, resyncing folder from scratch", accountID, folder.FullName, stored, validity)
	if err := o.repositories.SyncStateRepository.ResetFolder(ctx, accountID, folder.ID, validity); err != nil {
		return 0, mailsync_errors.Storage("orchestrator.uid_validity", err)
	}
	return 0, nil
}

func (o *Orchestrator) syncFolderByPath(ctx context.Context, t *task, session interfaces.MailSession, path string) (int, error) {
	folder, err := o.repositories.FolderRepository.GetByFullName(ctx, t.accountID, path)
	if err != nil {
		return 0, mailsync_errors.Storage("orchestrator.folder", err)
	}
	if folder == nil {
		o.log.Warnf("[%s][%s] Folder is not known locally, skipping re-sync", t.accountID, path)
		return 0, nil
	}
	return o.syncFolder(ctx, t, session, folder, o.optimizer.ChooseBatchSize(t.accountID))
}

// persist stores emails in batches, then removes any that were deleted locally while
// the fetch was in flight. It returns the emails that remain stored.
func (o *Orchestrator) persist(ctx context.Context, accountID string, folder *models.Folder, emails []*models.Email, batchSize int) ([]*models.Email, error) {
	if batchSize < 1 {
		batchSize = len(emails)
	}

	stored := make([]*models.Email, 0, len(emails))
	for start := 0; start < len(emails); start += batchSize {
		end := start + batchSize
		if end > len(emails) {
			end = len(emails)
		}
		batch := emails[start:end]

		var maxUID uint32
		for _, email := range batch {
			email.AccountID = accountID
			email.FolderID = folder.ID
			if email.UID > maxUID {
				maxUID = email.UID
			}
		}
		if err := o.repositories.EmailRepository.UpsertBatch(ctx, batch); err != nil {
			return stored, mailsync_errors.Storage("orchestrator.persist", err)
		}

		for _, email := range batch {
			if o.tombstones.Contains(accountID, folder.ID, email.UID) {
				if err := o.repositories.EmailRepository.DeleteByUID(ctx, accountID, folder.ID, email.UID); err != nil {
					o.log.Warnf("[%s][%s] Failed to drop deleted uid %d: %v", accountID, folder.FullName, email.UID, err)
				}
				continue
			}
			stored = append(stored, email)
		}

		if err := o.repositories.SyncStateRepository.SetWatermark(ctx, accountID, folder.ID, maxUID); err != nil {
			return stored, mailsync_errors.Storage("orchestrator.watermark", err)
		}
	}
	return stored, nil
}

func (o *Orchestrator) markFolder(ctx context.Context, accountID string, folder *models.Folder, state enum.FolderSyncState) {
	var syncedAt *time.Time
	if state == enum.FolderSyncSynced {
		now := utils.Now()
		syncedAt = &now
	}
	if err := o.repositories.FolderRepository.UpdateSyncState(ctx, folder.ID, state, syncedAt); err != nil {
		o.log.Warnf("[%s][%s] Failed to mark folder %s: %v", accountID, folder.FullName, state, err)
		return
	}
	folder.SyncState = state
	if syncedAt != nil {
		folder.LastSyncAt = syncedAt
	}
}

func (o *Orchestrator) notifyNew(ctx context.Context, accountID string, emails []*models.Email) {
	unread := make([]*models.Email, 0, len(emails))
	for _, email := range emails {
		if !email.IsRead {
			unread = append(unread, email)
		}
	}
	if len(unread) == 0 {
		return
	}
	if err := o.notifier.NotifyNewMessages(ctx, accountID, unread); err != nil {
		o.log.Warnf("[%s] Failed to notify %d new message(s): %v", accountID, len(unread), err)
	}
}

func (o *Orchestrator) failPass(ctx context.Context, t *task, started time.Time, fetched int, err error) {
	t.setState(enum.SessionFailed, err.Error())
	t.recordPass(err)
	o.optimizer.RecordSyncPerformance(t.accountID, time.Since(started), false, fetched)
	o.log.Errorf("[%s] Sync pass failed: %v", t.accountID, err)

	if storeErr := o.repositories.AccountRepository.UpdateSyncStatus(ctx, t.accountID, syncStatusFailed, err.Error(), nil); storeErr != nil {
		o.log.Warnf("[%s] Failed to store sync status: %v", t.accountID, storeErr)
	}
	if notifyErr := o.notifier.NotifySyncStatus(ctx, t.accountID, false, err.Error()); notifyErr != nil {
		o.log.Warnf("[%s] Failed to notify sync status: %v", t.accountID, notifyErr)
	}
}

func (o *Orchestrator) completePass(ctx context.Context, t *task, started time.Time, fetched int, partial *mailsync_errors.PartialSuccess) {
	passErr := partial.Err()
	t.recordPass(passErr)
	o.optimizer.RecordSyncPerformance(t.accountID, time.Since(started), passErr == nil, fetched)

	status, message := syncStatusSynced, fmt.Sprintf("%d folder(s) synced, %d new message(s)", partial.SuccessCount, fetched)
	if passErr != nil {
		status, message = syncStatusPartial, passErr.Error()
	}
	o.log.Infof("[%s] Sync pass finished in %s: %s", t.accountID, time.Since(started).Round(time.Millisecond), message)

	now := utils.Now()
	errorMessage := ""
	if passErr != nil {
		errorMessage = passErr.Error()
	}
	if err := o.repositories.AccountRepository.UpdateSyncStatus(ctx, t.accountID, status, errorMessage, &now); err != nil {
		o.log.Warnf("[%s] Failed to store sync status: %v", t.accountID, err)
	}
	if err := o.notifier.NotifySyncStatus(ctx, t.accountID, passErr == nil, message); err != nil {
		o.log.Warnf("[%s] Failed to notify sync status: %v", t.accountID, err)
	}
}
