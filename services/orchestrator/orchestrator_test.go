package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/testutil"
	"github.com/customeros/mailsync/internal/tombstone"
	"github.com/customeros/mailsync/services/optimizer"
	"github.com/customeros/mailsync/services/reconciler"
)

type fixture struct {
	orchestrator *Orchestrator
	repos        *repository.Repositories
	session      *mockSession
	credentials  *mockCredentials
	notifier     *mockNotifier
	queue        *mockQueue
	optimizer    *optimizer.Optimizer
	tombstones   *tombstone.Cache
	account      *models.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Defaults()
	cfg.SyncConfig.ReconnectMin = 10 * time.Millisecond
	cfg.SyncConfig.ReconnectMax = 20 * time.Millisecond
	cfg.SyncConfig.InitialFetchLimit = 200
	cfg.OfflineConfig.SettleDelay = 30 * time.Millisecond

	log := testutil.NewTestLogger()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	session := newMockSession()
	credentials := &mockCredentials{}
	credentials.On("GetSecret", mock.Anything, account.ID).Return("password", nil).Maybe()
	notifier := &mockNotifier{}
	notifier.On("NotifySyncStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	queue := &mockQueue{}
	tombstones, err := tombstone.New(100)
	require.NoError(t, err)
	opt := optimizer.NewOptimizer(cfg.OptimizerConfig)

	registry := NewRegistry(repos, credentials, func() interfaces.MailSession { return session }, cfg.SyncConfig, log)
	o := NewOrchestrator(repos, registry, reconciler.NewReconciler(repos.FolderRepository, log),
		opt, queue, notifier, tombstones, cfg, log)
	t.Cleanup(o.StopAll)

	return &fixture{
		orchestrator: o,
		repos:        repos,
		session:      session,
		credentials:  credentials,
		notifier:     notifier,
		queue:        queue,
		optimizer:    opt,
		tombstones:   tombstones,
		account:      account,
	}
}

func (f *fixture) task() *task {
	return newTask(f.account.ID, func() {})
}

func (f *fixture) expectConnect() {
	f.session.On("Connect", mock.Anything, mock.Anything, "password").Return(nil)
}

func newEmails(from, to uint32) []*models.Email {
	emails := make([]*models.Email, 0, to-from+1)
	for uid := from; uid <= to; uid++ {
		emails = append(emails, &models.Email{
			UID:       uid,
			MessageID: fmt.Sprintf("<%d@example.org>", uid),
			Subject:   fmt.Sprintf("message %d", uid),
		})
	}
	return emails
}

func folderInfo(path string, total uint32) interfaces.FolderInfo {
	return interfaces.FolderInfo{FullName: path, Delimiter: "/", TotalCount: total, Subscribed: true}
}

func TestRunPass_FetchesAboveWatermark(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	inbox := testutil.CreateTestFolder(t, f.repos, f.account.ID, "INBOX")
	require.NoError(t, f.repos.SyncStateRepository.SetWatermark(ctx, f.account.ID, inbox.ID, 100))

	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 120)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(120), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(100), mock.MatchedBy(func(opts interfaces.FetchOptions) bool {
		return opts.Limit == 0 && opts.BatchSize == 50
	})).Return(newEmails(101, 120), nil)
	f.notifier.On("NotifyNewMessages", mock.Anything, f.account.ID, mock.MatchedBy(func(emails []*models.Email) bool {
		return len(emails) == 20
	})).Return(nil)

	// Act
	session, err := f.orchestrator.runPass(ctx, f.task())

	// Assert
	require.NoError(t, err)
	assert.NotNil(t, session)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), watermark)

	stored, total, err := f.repos.EmailRepository.ListByFolder(ctx, f.account.ID, inbox.ID, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
	assert.Len(t, stored, 20)
	f.session.AssertExpectations(t)
	f.notifier.AssertExpectations(t)

	history := f.optimizer.History(f.account.ID)
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, 20, history[0].MessageCount)
}

func TestRunPass_InitialFetchIsLimitedAndSilent(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 3)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(3), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(0), mock.MatchedBy(func(opts interfaces.FetchOptions) bool {
		return opts.Limit == 200
	})).Return(newEmails(1, 3), nil)

	// Act
	_, err := f.orchestrator.runPass(ctx, f.task())

	// Assert
	require.NoError(t, err)
	f.notifier.AssertNotCalled(t, "NotifyNewMessages", mock.Anything, mock.Anything, mock.Anything)
	inbox, err := f.repos.FolderRepository.GetByFullName(ctx, f.account.ID, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, inbox)
	assert.Equal(t, enum.FolderSyncSynced, inbox.SyncState)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), watermark)
}

func TestRunPass_FolderFailureIsIsolated(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{
		folderInfo("INBOX", 1),
		folderInfo("Work", 1),
	}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(1), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(0), mock.Anything).Return(newEmails(1, 1), nil)
	f.session.On("HighestUID", mock.Anything, "Work").
		Return(uint32(0), mailsync_errors.Protocol("imap.select", errors.New("NO mailbox is locked")))
	tsk := f.task()

	// Act
	_, err := f.orchestrator.runPass(ctx, tsk)

	// Assert
	require.NoError(t, err)
	folders, err := f.repos.FolderRepository.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	states := map[string]enum.FolderSyncState{}
	for _, folder := range folders {
		states[folder.FullName] = folder.SyncState
	}
	assert.Equal(t, enum.FolderSyncSynced, states["INBOX"])
	assert.Equal(t, enum.FolderSyncFailed, states["Work"])
	assert.Contains(t, tsk.lastPassErr, "Work")
	assert.Equal(t, enum.SyncStrategyRetryFailed, f.optimizer.ChooseStrategy(f.account.ID))
	f.notifier.AssertCalled(t, "NotifySyncStatus", mock.Anything, f.account.ID, false, mock.Anything)
}

func TestRunPass_NetworkErrorAbortsWithoutDeletingFolders(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestFolder(t, f.repos, f.account.ID, "INBOX")
	testutil.CreateTestFolder(t, f.repos, f.account.ID, "Archive")
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).
		Return(nil, mailsync_errors.Network("imap.list", errors.New("connection reset by peer")))
	tsk := f.task()

	// Act
	_, err := f.orchestrator.runPass(ctx, tsk)

	// Assert
	require.Error(t, err)
	assert.True(t, mailsync_errors.IsNetwork(err))
	folders, err := f.repos.FolderRepository.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Len(t, folders, 2)
	assert.Equal(t, enum.SessionFailed, tsk.state)
	f.notifier.AssertCalled(t, "NotifySyncStatus", mock.Anything, f.account.ID, false, mock.Anything)
}

func TestRunPass_NotifierFailureDoesNotAbort(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	inbox := testutil.CreateTestFolder(t, f.repos, f.account.ID, "INBOX")
	require.NoError(t, f.repos.SyncStateRepository.SetWatermark(ctx, f.account.ID, inbox.ID, 10))
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 12)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(12), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(10), mock.Anything).Return(newEmails(11, 12), nil)
	f.notifier.On("NotifyNewMessages", mock.Anything, f.account.ID, mock.Anything).Return(errors.New("broker unavailable"))

	// Act
	_, err := f.orchestrator.runPass(ctx, f.task())

	// Assert
	require.NoError(t, err)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), watermark)
}

func TestRunPass_LocalDeleteWinsOverInFlightFetch(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	inbox := testutil.CreateTestFolder(t, f.repos, f.account.ID, "INBOX")
	require.NoError(t, f.repos.SyncStateRepository.SetWatermark(ctx, f.account.ID, inbox.ID, 100))
	f.tombstones.Add(f.account.ID, inbox.ID, 105)

	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 110)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(110), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(100), mock.Anything).Return(newEmails(101, 110), nil)
	f.notifier.On("NotifyNewMessages", mock.Anything, f.account.ID, mock.MatchedBy(func(emails []*models.Email) bool {
		return len(emails) == 9
	})).Return(nil)

	// Act
	_, err := f.orchestrator.runPass(ctx, f.task())

	// Assert
	require.NoError(t, err)
	deleted, err := f.repos.EmailRepository.GetByUID(ctx, f.account.ID, inbox.ID, 105)
	require.NoError(t, err)
	assert.Nil(t, deleted)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(110), watermark)
	f.notifier.AssertExpectations(t)
}

func TestRunPass_UIDValidityChangeRestartsFolder(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	inbox := testutil.CreateTestFolder(t, f.repos, f.account.ID, "INBOX")
	require.NoError(t, f.repos.SyncStateRepository.SetWatermark(ctx, f.account.ID, inbox.ID, 100))
	require.NoError(t, f.repos.SyncStateRepository.SetUIDValidity(ctx, f.account.ID, inbox.ID, 1))
	require.NoError(t, f.repos.EmailRepository.UpsertBatch(ctx, []*models.Email{
		{AccountID: f.account.ID, FolderID: inbox.ID, UID: 50, Subject: "before renumbering"},
	}))
	f.session.uidValidity.Store(2)

	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 3)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(3), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(0), mock.MatchedBy(func(opts interfaces.FetchOptions) bool {
		return opts.Limit == 200
	})).Return(newEmails(1, 3), nil)

	// Act
	_, err := f.orchestrator.runPass(ctx, f.task())

	// Assert
	require.NoError(t, err)
	f.session.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "NotifyNewMessages", mock.Anything, mock.Anything, mock.Anything)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), watermark)
	validity, err := f.repos.SyncStateRepository.GetUIDValidity(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), validity)
	stale, err := f.repos.EmailRepository.GetByUID(ctx, f.account.ID, inbox.ID, 50)
	require.NoError(t, err)
	assert.Nil(t, stale)
	_, total, err := f.repos.EmailRepository.ListByFolder(ctx, f.account.ID, inbox.ID, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestRunPass_FirstUIDValidityKeepsWatermark(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	inbox := testutil.CreateTestFolder(t, f.repos, f.account.ID, "INBOX")
	require.NoError(t, f.repos.SyncStateRepository.SetWatermark(ctx, f.account.ID, inbox.ID, 100))
	f.session.uidValidity.Store(7)

	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 100)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(100), nil)

	// Act
	_, err := f.orchestrator.runPass(ctx, f.task())

	// Assert
	require.NoError(t, err)
	f.session.AssertNotCalled(t, "FetchNewMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), watermark)
	validity, err := f.repos.SyncStateRepository.GetUIDValidity(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), validity)
}

func TestStartSync_RunsUntilStopped(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 0)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(0), nil)
	f.session.On("EnterPushWait", mock.Anything, "INBOX").Return(nil)

	// Act
	require.NoError(t, f.orchestrator.StartSync(context.Background(), f.account.ID))
	require.Eventually(t, func() bool {
		return f.orchestrator.Status(context.Background(), f.account.ID).State == enum.SessionWatching
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.orchestrator.StartSync(context.Background(), f.account.ID))
	f.orchestrator.StopSync(f.account.ID)
	f.orchestrator.StopSync(f.account.ID)

	// Assert
	assert.False(t, f.orchestrator.IsRunning(f.account.ID))
	assert.GreaterOrEqual(t, f.session.disconnects.Load(), int32(1))
	f.session.AssertNumberOfCalls(t, "Connect", 1)
	status := f.orchestrator.Status(context.Background(), f.account.ID)
	assert.Equal(t, enum.SessionIdle, status.State)
	assert.NotNil(t, status.LastPassAt)
}

func TestWatch_PushEventResyncsPrimaryFolder(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 5)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(5), nil).Once()
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(0), mock.Anything).Return(newEmails(1, 5), nil).Once()
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(7), nil)
	f.session.On("FetchNewMessages", mock.Anything, "INBOX", uint32(5), mock.Anything).Return(newEmails(6, 7), nil).Once()
	f.session.On("EnterPushWait", mock.Anything, "INBOX").Return(nil)
	f.session.scriptPushWait(pushScript{events: []interfaces.PushEvent{
		{Folder: "INBOX", Kind: enum.PushEventNewMail, SeqNum: 7},
	}})
	notified := make(chan []*models.Email, 1)
	f.notifier.On("NotifyNewMessages", mock.Anything, f.account.ID, mock.Anything).
		Run(func(args mock.Arguments) { notified <- args.Get(2).([]*models.Email) }).
		Return(nil)

	// Act
	require.NoError(t, f.orchestrator.StartSync(ctx, f.account.ID))

	// Assert
	require.Eventually(t, func() bool {
		return f.session.pushWaits.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	select {
	case emails := <-notified:
		require.Len(t, emails, 2)
		assert.Equal(t, uint32(6), emails[0].UID)
	case <-time.After(2 * time.Second):
		t.Fatal("new mail from the push event was not announced")
	}
	inbox, err := f.repos.FolderRepository.GetByFullName(ctx, f.account.ID, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, inbox)
	watermark, err := f.repos.SyncStateRepository.GetWatermark(ctx, f.account.ID, inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), watermark)
	f.session.AssertNumberOfCalls(t, "FetchNewMessages", 2)
	f.session.AssertNumberOfCalls(t, "Connect", 1)
	assert.Equal(t, enum.SessionWatching, f.orchestrator.Status(ctx, f.account.ID).State)
}

func TestWatch_DroppedConnectionReconnects(t *testing.T) {
	// Arrange
	f := newFixture(t)
	ctx := context.Background()
	f.expectConnect()
	f.session.On("ListFolders", mock.Anything).Return([]interfaces.FolderInfo{folderInfo("INBOX", 0)}, nil)
	f.session.On("HighestUID", mock.Anything, "INBOX").Return(uint32(0), nil)
	f.session.On("EnterPushWait", mock.Anything, "INBOX").Return(nil)
	f.session.scriptPushWait(pushScript{drop: true})

	// Act
	require.NoError(t, f.orchestrator.StartSync(ctx, f.account.ID))

	// Assert
	require.Eventually(t, func() bool {
		return f.session.connects.Load() == 2 && f.session.pushWaits.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.orchestrator.IsRunning(f.account.ID))
	f.session.AssertNumberOfCalls(t, "ListFolders", 2)
}

func TestStartSync_AuthFailureStopsTask(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.session.On("Connect", mock.Anything, mock.Anything, "password").
		Return(mailsync_errors.Auth("imap.login", errors.New("AUTHENTICATIONFAILED invalid credentials")))

	// Act
	require.NoError(t, f.orchestrator.StartSync(context.Background(), f.account.ID))

	// Assert
	require.Eventually(t, func() bool {
		return !f.orchestrator.IsRunning(f.account.ID)
	}, 2*time.Second, 10*time.Millisecond)
	status := f.orchestrator.Status(context.Background(), f.account.ID)
	assert.Equal(t, enum.SessionFailed, status.State)
	assert.Contains(t, status.Reason, "invalid credentials")
	f.notifier.AssertCalled(t, "NotifySyncStatus", mock.Anything, f.account.ID, false, mock.Anything)
	f.session.AssertNumberOfCalls(t, "Connect", 1)
}

func TestStartSync_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	err := f.orchestrator.StartSync(context.Background(), "acct_missing")

	assert.ErrorIs(t, err, mailsync_errors.ErrAccountNotFound)
}

func TestHandleConnectivityEvent_DrainsAfterSettleDelay(t *testing.T) {
	// Arrange
	f := newFixture(t)
	require.NoError(t, f.repos.OperationRepository.Append(context.Background(), &models.PendingOperation{
		ID:        "op-1",
		AccountID: f.account.ID,
		Type:      enum.OperationMarkRead,
		Sequence:  1,
		Payload:   models.JSONMap{models.PayloadFolder: "INBOX", models.PayloadUID: 1},
	}))
	drained := make(chan struct{}, 1)
	f.queue.On("Drain", mock.Anything, f.account.ID).
		Run(func(args mock.Arguments) { drained <- struct{}{} }).
		Return(interfaces.DrainResult{AccountID: f.account.ID, Total: 1, Succeeded: 1}, nil)

	// Act
	f.orchestrator.HandleConnectivityEvent(context.Background(), interfaces.ConnectivityEvent{
		Type: enum.ConnectivityConnected,
		Kind: "wifi",
		At:   time.Now(),
	})

	// Assert
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("queue was not drained after the settle delay")
	}
}

func TestHandleConnectivityEvent_DisconnectCancelsPendingDrain(t *testing.T) {
	// Arrange
	f := newFixture(t)
	require.NoError(t, f.repos.OperationRepository.Append(context.Background(), &models.PendingOperation{
		ID:        "op-1",
		AccountID: f.account.ID,
		Type:      enum.OperationStar,
		Sequence:  1,
		Payload:   models.JSONMap{models.PayloadFolder: "INBOX", models.PayloadUID: 1},
	}))

	// Act
	f.orchestrator.HandleConnectivityEvent(context.Background(), interfaces.ConnectivityEvent{Type: enum.ConnectivityConnected})
	f.orchestrator.HandleConnectivityEvent(context.Background(), interfaces.ConnectivityEvent{Type: enum.ConnectivityDisconnected})
	time.Sleep(100 * time.Millisecond)

	// Assert
	f.queue.AssertNotCalled(t, "Drain", mock.Anything, mock.Anything)
}
