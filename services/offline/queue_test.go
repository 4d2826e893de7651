package offline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/testutil"
)

type queueFixture struct {
	queue     *Queue
	repos     *repository.Repositories
	session   *mockSession
	sessions  *mockSessionProvider
	executor  *mockExecutor
	notifier  *mockNotifier
	accountID string
}

func newQueueFixture(t *testing.T, maxRetries int) *queueFixture {
	t.Helper()

	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	session := &mockSession{}
	sessions := &mockSessionProvider{}
	sessions.On("Acquire", mock.Anything, account.ID).Return(session, nil)
	executor := &mockExecutor{}
	notifier := newQuietNotifier()

	cfg := &config.OfflineConfig{
		MaxRetries:       maxRetries,
		OperationTimeout: 5 * time.Second,
	}
	return &queueFixture{
		queue:     NewQueue(repos, sessions, executor, notifier, cfg, testutil.NewTestLogger()),
		repos:     repos,
		session:   session,
		sessions:  sessions,
		executor:  executor,
		notifier:  notifier,
		accountID: account.ID,
	}
}

func (f *queueFixture) enqueue(t *testing.T, opType enum.OperationType, uid uint32) *models.PendingOperation {
	t.Helper()
	op, err := f.queue.Enqueue(context.Background(), &models.PendingOperation{
		AccountID: f.accountID,
		Type:      opType,
		Payload:   models.JSONMap{models.PayloadFolder: "INBOX", models.PayloadUID: uid},
	})
	require.NoError(t, err)
	return op
}

func matchOp(id string) interface{} {
	return mock.MatchedBy(func(op *models.PendingOperation) bool { return op.ID == id })
}

func TestEnqueue_AssignsIdentityAndIncreasingSequence(t *testing.T) {
	// Arrange
	f := newQueueFixture(t, 5)

	// Act
	first := f.enqueue(t, enum.OperationMarkRead, 1)
	second := f.enqueue(t, enum.OperationStar, 2)

	// Assert
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.Sequence, first.Sequence)
	assert.False(t, first.EnqueuedAt.IsZero())

	pending, err := f.queue.Pending(context.Background(), f.accountID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
}

func TestEnqueue_Validation(t *testing.T) {
	f := newQueueFixture(t, 5)
	ctx := context.Background()

	tests := []struct {
		name string
		op   *models.PendingOperation
	}{
		{name: "missing account", op: &models.PendingOperation{Type: enum.OperationDelete}},
		{name: "unknown type", op: &models.PendingOperation{AccountID: f.accountID, Type: "archive"}},
		{name: "message op without target", op: &models.PendingOperation{AccountID: f.accountID, Type: enum.OperationDelete}},
		{name: "move without destination", op: &models.PendingOperation{
			AccountID: f.accountID,
			Type:      enum.OperationMove,
			Payload:   models.JSONMap{models.PayloadFolder: "INBOX", models.PayloadUID: 3},
		}},
		{name: "send without recipients", op: &models.PendingOperation{AccountID: f.accountID, Type: enum.OperationSend}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.queue.Enqueue(ctx, tt.op)
			assert.ErrorIs(t, err, mailsync_errors.ErrInvalidOperation)
		})
	}

	_, err := f.queue.Enqueue(ctx, &models.PendingOperation{
		AccountID: "acct_missing",
		Type:      enum.OperationCreateFolder,
		Payload:   models.JSONMap{models.PayloadFolder: "Archive"},
	})
	assert.ErrorIs(t, err, mailsync_errors.ErrAccountNotFound)
}

func TestDrain_ReplaysInSequenceOrder(t *testing.T) {
	// Arrange
	f := newQueueFixture(t, 5)
	ops := []*models.PendingOperation{
		f.enqueue(t, enum.OperationMarkRead, 1),
		f.enqueue(t, enum.OperationStar, 2),
		f.enqueue(t, enum.OperationDelete, 3),
	}
	var order []string
	f.executor.On("Execute", mock.Anything, f.session, mock.Anything).
		Run(func(args mock.Arguments) {
			order = append(order, args.Get(2).(*models.PendingOperation).ID)
		}).
		Return(nil)

	// Act
	result, err := f.queue.Drain(context.Background(), f.accountID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{ops[0].ID, ops[1].ID, ops[2].ID}, order)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Total)
	pending, err := f.queue.Pending(context.Background(), f.accountID)
	require.NoError(t, err)
	assert.Empty(t, pending)
	f.notifier.AssertCalled(t, "NotifyQueueProgress", mock.Anything, f.accountID, 3, 3)
}

func TestDrain_SkipsFailedOperationAndContinues(t *testing.T) {
	// Arrange
	f := newQueueFixture(t, 5)
	op1 := f.enqueue(t, enum.OperationMarkRead, 1)
	op2 := f.enqueue(t, enum.OperationStar, 2)
	f.executor.On("Execute", mock.Anything, f.session, matchOp(op1.ID)).Return(errors.New("NO [TRYCREATE] mailbox busy"))
	f.executor.On("Execute", mock.Anything, f.session, matchOp(op2.ID)).Return(nil)

	// Act
	result, err := f.queue.Drain(context.Background(), f.accountID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Dropped)

	pending, err := f.queue.Pending(context.Background(), f.accountID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op1.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Contains(t, pending[0].LastError, "mailbox busy")
}

func TestDrain_DropsOperationAtRetryCeiling(t *testing.T) {
	// Arrange
	f := newQueueFixture(t, 2)
	op := f.enqueue(t, enum.OperationDelete, 9)
	f.executor.On("Execute", mock.Anything, f.session, matchOp(op.ID)).Return(errors.New("NO message is locked"))
	ctx := context.Background()

	// Act
	first, err := f.queue.Drain(ctx, f.accountID)
	require.NoError(t, err)
	second, err := f.queue.Drain(ctx, f.accountID)
	require.NoError(t, err)

	// Assert
	assert.Zero(t, first.Dropped)
	assert.Equal(t, 1, second.Dropped)
	assert.Equal(t, int64(1), f.queue.ExhaustedCount(f.accountID))
	pending, err := f.queue.Pending(ctx, f.accountID)
	require.NoError(t, err)
	assert.Empty(t, pending)
	f.notifier.AssertCalled(t, "NotifyOperationDropped", mock.Anything, matchOp(op.ID), mock.Anything)
}

func TestDrain_StopsOnConnectionLoss(t *testing.T) {
	// Arrange
	f := newQueueFixture(t, 5)
	op1 := f.enqueue(t, enum.OperationMarkRead, 1)
	op2 := f.enqueue(t, enum.OperationStar, 2)
	f.executor.On("Execute", mock.Anything, f.session, matchOp(op1.ID)).
		Return(mailsync_errors.Network("imap.store", errors.New("connection reset by peer")))

	// Act
	result, err := f.queue.Drain(context.Background(), f.accountID)

	// Assert
	require.Error(t, err)
	assert.True(t, mailsync_errors.IsNetwork(err))
	assert.Equal(t, 1, result.Processed)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, matchOp(op2.ID))
}

func TestDrain_SingleFlightPerAccount(t *testing.T) {
	// Arrange
	f := newQueueFixture(t, 5)
	f.enqueue(t, enum.OperationMarkRead, 1)
	f.enqueue(t, enum.OperationStar, 2)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.executor.On("Execute", mock.Anything, f.session, mock.Anything).
		Run(func(args mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(nil)

	// Act
	var wg sync.WaitGroup
	results := make([]int, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, _ := f.queue.Drain(context.Background(), f.accountID)
		results[0] = result.Succeeded
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, _ := f.queue.Drain(context.Background(), f.accountID)
		results[1] = result.Succeeded
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	f.executor.AssertNumberOfCalls(t, "Execute", 2)
	assert.Equal(t, 2, results[0])
	assert.Equal(t, 2, results[1])
}

func TestDrain_SessionUnavailableLeavesQueueUntouched(t *testing.T) {
	// Arrange
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	sessions := &mockSessionProvider{}
	sessions.On("Acquire", mock.Anything, account.ID).
		Return(nil, mailsync_errors.Network("imap.dial", errors.New("connection refused")))
	executor := &mockExecutor{}
	queue := NewQueue(repos, sessions, executor, newQuietNotifier(),
		&config.OfflineConfig{MaxRetries: 5, OperationTimeout: time.Second}, testutil.NewTestLogger())
	_, err := queue.Enqueue(context.Background(), &models.PendingOperation{
		AccountID: account.ID,
		Type:      enum.OperationCreateFolder,
		Payload:   models.JSONMap{models.PayloadFolder: "Archive"},
	})
	require.NoError(t, err)

	// Act
	_, err = queue.Drain(context.Background(), account.ID)

	// Assert
	require.Error(t, err)
	executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	pending, err := queue.Pending(context.Background(), account.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)
}

func TestDrain_EmptyQueueDoesNotConnect(t *testing.T) {
	f := newQueueFixture(t, 5)

	result, err := f.queue.Drain(context.Background(), f.accountID)

	require.NoError(t, err)
	assert.Zero(t, result.Total)
	f.sessions.AssertNotCalled(t, "Acquire", mock.Anything, mock.Anything)
}
