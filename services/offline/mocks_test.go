package offline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Connect(ctx context.Context, account *models.Account, secret string) error {
	return m.Called(ctx, account, secret).Error(0)
}

func (m *mockSession) State() enum.ConnectionState {
	return enum.ConnectionAuthenticated
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

func (m *mockSession) UIDValidity(ctx context.Context, folder string) (uint32, error) {
	args := m.Called(ctx, folder)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockSession) FetchNewMessages(ctx context.Context, folder string, sinceUID uint32, opts interfaces.FetchOptions) ([]*models.Email, error) {
	args := m.Called(ctx, folder, sinceUID, opts)
	emails, _ := args.Get(0).([]*models.Email)
	return emails, args.Error(1)
}

func (m *mockSession) EnterPushWait(ctx context.Context, folder string) (<-chan interfaces.PushEvent, error) {
	args := m.Called(ctx, folder)
	events, _ := args.Get(0).(<-chan interfaces.PushEvent)
	return events, args.Error(1)
}

func (m *mockSession) ExitPushWait() {}

func (m *mockSession) Disconnect() {}

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

type mockSessionProvider struct {
	mock.Mock
}

func (m *mockSessionProvider) Acquire(ctx context.Context, accountID string) (interfaces.MailSession, error) {
	args := m.Called(ctx, accountID)
	session, _ := args.Get(0).(interfaces.MailSession)
	return session, args.Error(1)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, session interfaces.MailSession, op *models.PendingOperation) error {
	return m.Called(ctx, session, op).Error(0)
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

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, account *models.Account, secret string, email *interfaces.OutgoingEmail) ([]byte, error) {
	args := m.Called(ctx, account, secret, email)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

func newQuietNotifier() *mockNotifier {
	notifier := &mockNotifier{}
	notifier.On("NotifyQueueProgress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier.On("NotifyOperationDropped", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return notifier
}
