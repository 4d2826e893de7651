package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/tombstone"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
	"github.com/customeros/mailsync/services/reconciler"
)

var ErrStopped = errors.New("sync orchestrator is stopped")

const stopWait = 30 * time.Second

// task is the single goroutine that keeps one account in sync.
type task struct {
	accountID string
	cancel    context.CancelFunc
	done      chan struct{}
	wake      chan struct{}

	mu          sync.RWMutex
	state       enum.SessionState
	reason      string
	lastPassAt  *time.Time
	lastPassErr string
}

func newTask(accountID string, cancel context.CancelFunc) *task {
	return &task{
		accountID: accountID,
		cancel:    cancel,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		state:     enum.SessionIdle,
	}
}

func (t *task) setState(state enum.SessionState, reason string) {
	t.mu.Lock()
	t.state = state
	t.reason = reason
	t.mu.Unlock()
}

func (t *task) recordPass(err error) {
	now := utils.Now()
	t.mu.Lock()
	t.lastPassAt = &now
	t.lastPassErr = ""
	if err != nil {
		t.lastPassErr = err.Error()
	}
	t.mu.Unlock()
}

func (t *task) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// nudge cuts a reconnect backoff short.
func (t *task) nudge() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Orchestrator runs one sync task per account: connect, reconcile folders, fetch new
// mail past each folder's watermark and then wait for pushes on the primary folder.
type Orchestrator struct {
	repositories *repository.Repositories
	sessions     *Registry
	reconciler   *reconciler.Reconciler
	optimizer    interfaces.SyncOptimizer
	queue        interfaces.OfflineQueue
	notifier     interfaces.Notifier
	tombstones   *tombstone.Cache
	cfg          *config.SyncConfig
	offlineCfg   *config.OfflineConfig
	log          logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool

	settleMu  sync.Mutex
	settle    *time.Timer
	settleGen uint64
}

var _ interfaces.SyncService = (*Orchestrator)(nil)

func NewOrchestrator(
	repos *repository.Repositories,
	sessions *Registry,
	reconciler *reconciler.Reconciler,
	optimizer interfaces.SyncOptimizer,
	queue interfaces.OfflineQueue,
	notifier interfaces.Notifier,
	tombstones *tombstone.Cache,
	cfg *config.Config,
	log logger.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		repositories: repos,
		sessions:     sessions,
		reconciler:   reconciler,
		optimizer:    optimizer,
		queue:        queue,
		notifier:     notifier,
		tombstones:   tombstones,
		cfg:          cfg.SyncConfig,
		offlineCfg:   cfg.OfflineConfig,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		tasks:        make(map[string]*task),
	}
}

// StartSync launches the account's sync task and returns immediately. Starting an
// account that is already running is a no-op.
func (o *Orchestrator) StartSync(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.StartSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := o.repositories.AccountRepository.GetByID(ctx, accountID)
	if err != nil {
		err = mailsync_errors.Storage("orchestrator.account", err)
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		tracing.TraceErr(span, mailsync_errors.ErrAccountNotFound)
		return mailsync_errors.ErrAccountNotFound
	}
	if !account.Enabled || !account.SyncEnabled {
		tracing.TraceErr(span, mailsync_errors.ErrAccountDisabled)
		return mailsync_errors.ErrAccountDisabled
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return ErrStopped
	}
	if existing, ok := o.tasks[accountID]; ok && existing.running() {
		span.LogKV("already_running", true)
		return nil
	}

	taskCtx, cancel := context.WithCancel(o.ctx)
	t := newTask(accountID, cancel)
	o.tasks[accountID] = t
	go o.run(taskCtx, t)

	o.log.Infof("[%s] Sync started", accountID)
	return nil
}

// StopSync cancels the account's task and waits for it to disconnect. Idempotent.
func (o *Orchestrator) StopSync(accountID string) {
	o.mu.Lock()
	t, ok := o.tasks[accountID]
	o.mu.Unlock()

	if ok {
		t.cancel()
		select {
		case <-t.done:
		case <-time.After(stopWait):
			o.log.Warnf("[%s] Sync task did not stop within %s", accountID, stopWait)
		}
		t.setState(enum.SessionIdle, "")
	}
	// the session may have been opened by a drain without a running task
	o.sessions.Release(accountID)
	o.log.Infof("[%s] Sync stopped", accountID)
}

// StopAll stops every task and refuses new ones.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	o.stopped = true
	ids := make([]string, 0, len(o.tasks))
	for id := range o.tasks {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	o.settleMu.Lock()
	if o.settle != nil {
		o.settle.Stop()
	}
	o.settleGen++
	o.settleMu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			o.StopSync(accountID)
		}(id)
	}
	wg.Wait()

	o.cancel()
	o.sessions.CloseAll()
}

func (o *Orchestrator) IsRunning(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[accountID]
	return ok && t.running()
}

// RunningAccounts lists the accounts with a live sync task.
func (o *Orchestrator) RunningAccounts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.tasks))
	for id, t := range o.tasks {
		if t.running() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (o *Orchestrator) Status(ctx context.Context, accountID string) interfaces.AccountSyncStatus {
	status := interfaces.AccountSyncStatus{
		AccountID:      accountID,
		State:          enum.SessionIdle,
		ExhaustedCount: o.queue.ExhaustedCount(accountID),
	}

	o.mu.Lock()
	t, ok := o.tasks[accountID]
	o.mu.Unlock()
	if ok {
		t.mu.RLock()
		status.State = t.state
		status.Reason = t.reason
		status.LastPassAt = t.lastPassAt
		status.LastPassError = t.lastPassErr
		t.mu.RUnlock()
		status.Running = t.running()
	}

	depth, err := o.repositories.OperationRepository.CountByAccount(ctx, accountID)
	if err != nil {
		o.log.Warnf("[%s] Failed to count queued operations: %v", accountID, err)
	}
	status.QueueDepth = depth
	return status
}

// run is the task loop. The first connection failure ends the task; after a successful
// pass, dropped connections are retried with backoff.
func (o *Orchestrator) run(ctx context.Context, t *task) {
	defer close(t.done)
	defer o.sessions.Release(t.accountID)
	defer tracing.RecoverAndLogToJaeger(o.log)

	boff := &backoff.Backoff{
		Min:    o.cfg.ReconnectMin,
		Max:    o.cfg.ReconnectMax,
		Factor: o.cfg.ReconnectFactor,
		Jitter: true,
	}
	connectedOnce := false

	for {
		session, err := o.runPass(ctx, t)
		if ctx.Err() != nil {
			return
		}
		if session != nil {
			connectedOnce = true
		}

		if err == nil {
			boff.Reset()
			err = o.watch(ctx, t, session)
			if ctx.Err() != nil {
				return
			}
		}

		if err != nil && !o.shouldRetry(t, err, connectedOnce, boff) {
			return
		}

		wait := boff.Duration()
		o.log.Infof("[%s] Reconnecting in %s (attempt %d)", t.accountID, wait, int(boff.Attempt()))
		select {
		case <-ctx.Done():
			return
		case <-t.wake:
		case <-time.After(wait):
		}
	}
}

func (o *Orchestrator) shouldRetry(t *task, err error, connectedOnce bool, boff *backoff.Backoff) bool {
	if !connectedOnce {
		o.log.Errorf("[%s] Initial sync failed, stopping: %v", t.accountID, err)
		return false
	}
	if !mailsync_errors.IsRetryable(err) {
		o.log.Errorf("[%s] Sync failed with a non-retryable error, stopping: %v", t.accountID, err)
		return false
	}
	if o.cfg.ReconnectAttempts > 0 && int(boff.Attempt()) >= o.cfg.ReconnectAttempts {
		o.log.Errorf("[%s] Giving up after %d reconnect attempts: %v", t.accountID, o.cfg.ReconnectAttempts, err)
		t.setState(enum.SessionFailed, err.Error())
		return false
	}
	return true
}

// watch keeps a push-wait open on the primary folder and re-syncs it whenever the wait
// ends. It returns when the connection is gone or ctx is done.
func (o *Orchestrator) watch(ctx context.Context, t *task, session interfaces.MailSession) error {
	primary := o.cfg.PrimaryFolder
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if session.State() == enum.ConnectionDisconnected {
			return mailsync_errors.Network("orchestrator.watch", mailsync_errors.ErrNotConnected)
		}

		t.setState(enum.SessionWatching, "")
		events, err := session.EnterPushWait(ctx, primary)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if mailsync_errors.IsConnectionError(err) {
				return mailsync_errors.Network("orchestrator.watch", err)
			}
			o.log.Warnf("[%s][%s] Could not enter push-wait: %v", t.accountID, primary, err)
			return err
		}

		for event := range events {
			o.log.Debugf("[%s][%s] Push event %s (seq %d)", t.accountID, event.Folder, event.Kind, event.SeqNum)
			// any change ends the wait; the folder is re-synced below
			session.ExitPushWait()
		}
		if ctx.Err() != nil {
			return nil
		}

		// a quiet close (cap or a queued command) still re-checks the watermark so mail
		// arriving between IDLE sessions is not missed
		t.setState(enum.SessionFetching, "")
		if _, err := o.syncFolderByPath(ctx, t, session, primary); err != nil {
			if mailsync_errors.IsConnectionError(err) {
				return mailsync_errors.Network("orchestrator.watch", err)
			}
			o.log.Warnf("[%s][%s] Re-sync after push-wait failed: %v", t.accountID, primary, err)
		}
	}
}

// HandleConnectivityEvent drains queued operations once the network has been back for
// the settle delay. A disconnect inside the delay cancels the pending drain.
func (o *Orchestrator) HandleConnectivityEvent(ctx context.Context, event interfaces.ConnectivityEvent) {
	o.settleMu.Lock()
	defer o.settleMu.Unlock()

	if o.settle != nil {
		o.settle.Stop()
		o.settle = nil
	}
	o.settleGen++

	switch event.Type {
	case enum.ConnectivityDisconnected:
		o.log.Warnf("Network is offline")
		return
	case enum.ConnectivityConnected, enum.ConnectivityTypeChanged:
		o.log.Infof("Network is online (%s), settling for %s", event.Kind, o.offlineCfg.SettleDelay)
	default:
		return
	}

	gen := o.settleGen
	o.settle = time.AfterFunc(o.offlineCfg.SettleDelay, func() {
		o.settleMu.Lock()
		current := gen == o.settleGen
		if current {
			o.settle = nil
		}
		o.settleMu.Unlock()
		if current {
			o.onlineRestored()
		}
	})
}

func (o *Orchestrator) onlineRestored() {
	span, ctx := opentracing.StartSpanFromContext(o.ctx, "Orchestrator.onlineRestored")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	o.mu.Lock()
	for _, t := range o.tasks {
		if t.running() {
			t.nudge()
		}
	}
	o.mu.Unlock()

	o.DrainAll(ctx)
}

// DrainAll drains every account that has queued operations, one goroutine per account.
func (o *Orchestrator) DrainAll(ctx context.Context) {
	accountIDs, err := o.repositories.OperationRepository.ListAccountsWithPending(ctx)
	if err != nil {
		o.log.Errorf("Failed to list accounts with queued operations: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, accountID := range accountIDs {
		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			result, err := o.queue.Drain(ctx, accountID)
			if err != nil {
				o.log.Warnf("[%s] Queue drain stopped early: %v", accountID, err)
				return
			}
			o.log.Infof("[%s] Queue drained: %d/%d succeeded", accountID, result.Succeeded, result.Total)
		}(accountID)
	}
	wg.Wait()
}
