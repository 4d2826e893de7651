package listeners

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, op *models.PendingOperation) (*models.PendingOperation, error) {
	args := m.Called(ctx, op)
	queued, _ := args.Get(0).(*models.PendingOperation)
	return queued, args.Error(1)
}

func (m *mockQueue) Drain(ctx context.Context, accountID string) (interfaces.DrainResult, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(interfaces.DrainResult), args.Error(1)
}

func (m *mockQueue) Pending(ctx context.Context, accountID string) ([]*models.PendingOperation, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]*models.PendingOperation), args.Error(1)
}

func (m *mockQueue) ExhaustedCount(accountID string) int64 {
	return 0
}

type staticConnectivity struct {
	online bool
}

func (s staticConnectivity) Start(ctx context.Context) {}
func (s staticConnectivity) Stop()                     {}
func (s staticConnectivity) IsOnline() bool            { return s.online }
func (s staticConnectivity) Subscribe() (<-chan interfaces.ConnectivityEvent, func()) {
	ch := make(chan interfaces.ConnectivityEvent)
	return ch, func() { close(ch) }
}

func operationEvent(request dto.OperationRequested) dto.Event {
	return dto.Event{Event: dto.EventDetails{
		Id:         "event_1",
		AccountId:  request.AccountID,
		EntityId:   request.AccountID,
		EntityType: enum.ACCOUNT,
		EventType:  "OperationRequested",
		Data: map[string]interface{}{
			"accountId": request.AccountID,
			"type":      string(request.Type),
			"payload":   request.Payload,
		},
	}}
}

func TestOperationRequestedListener_QueuesAndDrains(t *testing.T) {
	// Arrange
	queue := new(mockQueue)
	listener := NewOperationRequestedListener(testutil.NewTestLogger(), queue, staticConnectivity{online: true})
	queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(op *models.PendingOperation) bool {
		return op.AccountID == "acct_1" && op.Type == enum.OperationMarkRead && op.Payload.GetString(models.PayloadEmailID) == "email_1"
	})).Return(&models.PendingOperation{ID: "op_1", AccountID: "acct_1", Type: enum.OperationMarkRead}, nil).Once()
	queue.On("Drain", mock.Anything, "acct_1").Return(interfaces.DrainResult{AccountID: "acct_1", Succeeded: 1, Total: 1}, nil).Once()

	// Act
	err := listener.Handle(context.Background(), operationEvent(dto.OperationRequested{
		AccountID: "acct_1",
		Type:      enum.OperationMarkRead,
		Payload:   map[string]interface{}{models.PayloadEmailID: "email_1"},
	}))

	// Assert
	require.NoError(t, err)
	queue.AssertExpectations(t)
}

func TestOperationRequestedListener_OfflineOnlyQueues(t *testing.T) {
	queue := new(mockQueue)
	listener := NewOperationRequestedListener(testutil.NewTestLogger(), queue, staticConnectivity{online: false})
	queue.On("Enqueue", mock.Anything, mock.Anything).
		Return(&models.PendingOperation{ID: "op_1", AccountID: "acct_1", Type: enum.OperationStar}, nil).Once()

	err := listener.Handle(context.Background(), operationEvent(dto.OperationRequested{
		AccountID: "acct_1",
		Type:      enum.OperationStar,
		Payload:   map[string]interface{}{models.PayloadEmailID: "email_1"},
	}))

	require.NoError(t, err)
	queue.AssertNotCalled(t, "Drain", mock.Anything, mock.Anything)
}

func TestOperationRequestedListener_DrainFailureIsNotRedelivered(t *testing.T) {
	queue := new(mockQueue)
	listener := NewOperationRequestedListener(testutil.NewTestLogger(), queue, staticConnectivity{online: true})
	queue.On("Enqueue", mock.Anything, mock.Anything).
		Return(&models.PendingOperation{ID: "op_1", AccountID: "acct_1", Type: enum.OperationDelete}, nil).Once()
	queue.On("Drain", mock.Anything, "acct_1").
		Return(interfaces.DrainResult{}, mailsync_errors.Network("drain", errors.New("connection reset"))).Once()

	err := listener.Handle(context.Background(), operationEvent(dto.OperationRequested{
		AccountID: "acct_1",
		Type:      enum.OperationDelete,
		Payload:   map[string]interface{}{models.PayloadEmailID: "email_1"},
	}))

	assert.NoError(t, err)
}

func TestOperationRequestedListener_RejectsInvalidOperation(t *testing.T) {
	queue := new(mockQueue)
	listener := NewOperationRequestedListener(testutil.NewTestLogger(), queue, staticConnectivity{online: true})
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(nil, mailsync_errors.ErrInvalidOperation).Once()

	err := listener.Handle(context.Background(), operationEvent(dto.OperationRequested{
		AccountID: "acct_1",
		Type:      "archive",
	}))

	assert.ErrorIs(t, err, mailsync_errors.ErrInvalidOperation)
	queue.AssertNotCalled(t, "Drain", mock.Anything, mock.Anything)
}

func TestOperationRequestedListener_RejectsForeignEvent(t *testing.T) {
	queue := new(mockQueue)
	listener := NewOperationRequestedListener(testutil.NewTestLogger(), queue, staticConnectivity{online: true})
	event := operationEvent(dto.OperationRequested{AccountID: "acct_1", Type: enum.OperationStar})
	event.Event.EventType = "SyncStatus"

	err := listener.Handle(context.Background(), event)

	assert.Error(t, err)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}
