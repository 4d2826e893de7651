package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

// mockSession tracks its connection state itself so State and Disconnect need no
// expectations.
type mockSession struct {
	mock.Mock

	stateMu     sync.Mutex
	state       enum.ConnectionState
	connects    atomic.Int32
	disconnects atomic.Int32
	pushWaits   atomic.Int32
	uidValidity atomic.Uint32

	scriptMu sync.Mutex
	scripts  []pushScript
}

// pushScript is what one EnterPushWait call does: deliver events, optionally drop the
// connection, then close the channel.
type pushScript struct {
	events []interfaces.PushEvent
	drop   bool
}

// scriptPushWait queues the behaviour of the next EnterPushWait call. Calls past the
// queue block until ctx ends.
func (m *mockSession) scriptPushWait(script pushScript) {
	m.scriptMu.Lock()
	m.scripts = append(m.scripts, script)
	m.scriptMu.Unlock()
}

func (m *mockSession) nextScript() (pushScript, bool) {
	m.scriptMu.Lock()
	defer m.scriptMu.Unlock()
	if len(m.scripts) == 0 {
		return pushScript{}, false
	}
	script := m.scripts[0]
	m.scripts = m.scripts[1:]
	return script, true
}

func newMockSession() *mockSession {
	return &mockSession{state: enum.ConnectionDisconnected}
}

func (m *mockSession) setState(state enum.ConnectionState) {
	m.stateMu.Lock()
	m.state = state
	m.stateMu.Unlock()
}

func (m *mockSession) Connect(ctx context.Context, account *models.Account, secret string) error {
	m.connects.Add(1)
	err := m.Called(ctx, account, secret).Error(0)
	if err == nil {
		m.setState(enum.ConnectionAuthenticated)
	}
	return err
}

func (m *mockSession) State() enum.ConnectionState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *mockSession) ListFolders(ctx context.Context) ([]interfaces.FolderInfo, error) {
	args := m.Called(ctx)
	folders, _ := args.Get(0).([]interfaces.FolderInfo)
	return folders, args.Error(1)
}

func (m *mockSession) HighestUID(ctx context.Context, folder string) (uint32, error) {
	args := m.Called(ctx, folder)
	return args.Get(0).(uint32), args.Error(1)
}

// UIDValidity reports the value set on uidValidity; 0 leaves validity unchecked.
func (m *mockSession) UIDValidity(ctx context.Context, folder string) (uint32, error) {
	return m.uidValidity.Load(), nil
}

func (m *mockSession) FetchNewMessages(ctx context.Context, folder string, sinceUID uint32, opts interfaces.FetchOptions) ([]*models.Email, error) {
	args := m.Called(ctx, folder, sinceUID, opts)
	emails, _ := args.Get(0).([]*models.Email)
	return emails, args.Error(1)
}

// EnterPushWait plays the next queued script, or hands out a channel that closes when
// ctx ends like a real session.
func (m *mockSession) EnterPushWait(ctx context.Context, folder string) (<-chan interfaces.PushEvent, error) {
	if err := m.Called(ctx, folder).Error(0); err != nil {
		return nil, err
	}
	m.pushWaits.Add(1)

	script, ok := m.nextScript()
	if !ok {
		events := make(chan interfaces.PushEvent)
		go func() {
			<-ctx.Done()
			close(events)
		}()
		return events, nil
	}

	events := make(chan interfaces.PushEvent, len(script.events))
	for _, event := range script.events {
		events <- event
	}
	if script.drop {
		m.setState(enum.ConnectionDisconnected)
	}
	close(events)
	return events, nil
}

func (m *mockSession) ExitPushWait() {}

func (m *mockSession) Disconnect() {
	m.disconnects.Add(1)
	m.setState(enum.ConnectionDisconnected)
}

func (m *mockSession) SetFlags(ctx context.Context, folder string, uid uint32, flags []string, add bool) error {
	return m.Called(ctx, folder, uid, flags, add).Error(0)
}

func (m *mockSession) Move(ctx context.Context, folder string, uid uint32, target string) error {
	return m.Called(ctx, folder, uid, target).Error(0)
}

func (m *mockSession) Delete(ctx context.Context, folder string, uid uint32) error {
	return m.Called(ctx, folder, uid).Error(0)
}

func (m *mockSession) CreateFolder(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockSession) DeleteFolder(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockSession) Append(ctx context.Context, folder string, flags []string, message []byte) error {
	return m.Called(ctx, folder, flags, message).Error(0)
}

type mockCredentials struct {
	mock.Mock
}

func (m *mockCredentials) GetSecret(ctx context.Context, accountID string) (string, error) {
	args := m.Called(ctx, accountID)
	return args.String(0), args.Error(1)
}

func (m *mockCredentials) SetSecret(ctx context.Context, accountID, secret string) error {
	return m.Called(ctx, accountID, secret).Error(0)
}

func (m *mockCredentials) DeleteSecret(ctx context.Context, accountID string) error {
	return m.Called(ctx, accountID).Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyNewMessages(ctx context.Context, accountID string, emails []*models.Email) error {
	return m.Called(ctx, accountID, emails).Error(0)
}

func (m *mockNotifier) NotifySyncStatus(ctx context.Context, accountID string, success bool, message string) error {
	return m.Called(ctx, accountID, success, message).Error(0)
}

func (m *mockNotifier) NotifyQueueProgress(ctx context.Context, accountID string, processed, total int) error {
	return m.Called(ctx, accountID, processed, total).Error(0)
}

func (m *mockNotifier) NotifyOperationDropped(ctx context.Context, op *models.PendingOperation, reason string) error {
	return m.Called(ctx, op, reason).Error(0)
}

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
	ops, _ := args.Get(0).([]*models.PendingOperation)
	return ops, args.Error(1)
}

func (m *mockQueue) ExhaustedCount(accountID string) int64 {
	return 0
}
