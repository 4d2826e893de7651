package offline

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/testutil"
	"github.com/customeros/mailsync/internal/tombstone"
)

type executorFixture struct {
	executor    *Executor
	repos       *repository.Repositories
	session     *mockSession
	credentials *mockCredentials
	sender      *mockSender
	tombstones  *tombstone.Cache
	account     *models.Account
	inbox       *models.Folder
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	inbox := testutil.CreateTestFolder(t, repos, account.ID, "INBOX")
	tombstones, err := tombstone.New(100)
	require.NoError(t, err)
	credentials := &mockCredentials{}
	sender := &mockSender{}
	cfg := &config.OfflineConfig{
		MaxRetries:         5,
		OperationTimeout:   time.Second,
		SentFolder:         "Sent",
		AppendSentMessages: true,
	}

	return &executorFixture{
		executor:    NewExecutor(repos, credentials, sender, tombstones, cfg, testutil.NewTestLogger()),
		repos:       repos,
		session:     &mockSession{},
		credentials: credentials,
		sender:      sender,
		tombstones:  tombstones,
		account:     account,
		inbox:       inbox,
	}
}

func (f *executorFixture) storeEmail(t *testing.T, uid uint32) *models.Email {
	t.Helper()
	email := &models.Email{
		AccountID: f.account.ID,
		FolderID:  f.inbox.ID,
		UID:       uid,
		Subject:   "status report",
		SyncState: enum.EmailSyncStateSynced,
	}
	require.NoError(t, f.repos.EmailRepository.UpsertBatch(context.Background(), []*models.Email{email}))
	return email
}

func TestExecute_MarkReadByEmailID(t *testing.T) {
	// Arrange
	f := newExecutorFixture(t)
	email := f.storeEmail(t, 42)
	f.session.On("SetFlags", mock.Anything, "INBOX", uint32(42), []string{`\Seen`}, true).Return(nil)
	op := &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationMarkRead,
		Payload:   models.JSONMap{models.PayloadEmailID: email.ID},
	}

	// Act
	err := f.executor.Execute(context.Background(), f.session, op)

	// Assert
	require.NoError(t, err)
	f.session.AssertExpectations(t)
	stored, err := f.repos.EmailRepository.GetByID(context.Background(), email.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsRead)
	assert.Equal(t, enum.EmailSyncStateSynced, stored.SyncState)
}

func TestExecute_UnstarByFolderAndUID(t *testing.T) {
	f := newExecutorFixture(t)
	f.session.On("SetFlags", mock.Anything, "INBOX", uint32(7), []string{`\Flagged`}, false).Return(nil)

	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationUnstar,
		Payload:   models.JSONMap{models.PayloadFolder: "INBOX", models.PayloadUID: 7},
	})

	require.NoError(t, err)
	f.session.AssertExpectations(t)
}

func TestExecute_DeleteTombstonesAndRemovesLocally(t *testing.T) {
	// Arrange
	f := newExecutorFixture(t)
	email := f.storeEmail(t, 13)
	f.session.On("Delete", mock.Anything, "INBOX", uint32(13)).Return(nil)

	// Act
	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationDelete,
		Payload:   models.JSONMap{models.PayloadEmailID: email.ID},
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, f.tombstones.Contains(f.account.ID, f.inbox.ID, 13))
	stored, err := f.repos.EmailRepository.GetByID(context.Background(), email.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestExecute_FailedDeleteKeepsLocalCopy(t *testing.T) {
	f := newExecutorFixture(t)
	email := f.storeEmail(t, 14)
	f.session.On("Delete", mock.Anything, "INBOX", uint32(14)).Return(errors.New("NO permission denied"))

	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationDelete,
		Payload:   models.JSONMap{models.PayloadEmailID: email.ID},
	})

	require.Error(t, err)
	assert.False(t, f.tombstones.Contains(f.account.ID, f.inbox.ID, 14))
	stored, err := f.repos.EmailRepository.GetByID(context.Background(), email.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestExecute_Move(t *testing.T) {
	f := newExecutorFixture(t)
	f.storeEmail(t, 5)
	f.session.On("Move", mock.Anything, "INBOX", uint32(5), "Archive").Return(nil)

	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationMove,
		Payload: models.JSONMap{
			models.PayloadFolder:       "INBOX",
			models.PayloadUID:          5,
			models.PayloadTargetFolder: "Archive",
		},
	})

	require.NoError(t, err)
	assert.True(t, f.tombstones.Contains(f.account.ID, f.inbox.ID, 5))
}

func TestExecute_FolderOperations(t *testing.T) {
	f := newExecutorFixture(t)
	f.session.On("CreateFolder", mock.Anything, "Projects/2024").Return(nil)
	f.session.On("DeleteFolder", mock.Anything, "Old").Return(nil)

	require.NoError(t, f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationCreateFolder,
		Payload:   models.JSONMap{models.PayloadFolder: "Projects/2024"},
	}))
	require.NoError(t, f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationDeleteFolder,
		Payload:   models.JSONMap{models.PayloadFolder: "Old"},
	}))

	f.session.AssertExpectations(t)
}

func TestExecute_SendAppendsToSent(t *testing.T) {
	// Arrange
	f := newExecutorFixture(t)
	testutil.CreateTestFolder(t, f.repos, f.account.ID, "Sent")
	raw := []byte("Subject: hi\r\n\r\nbody")
	f.credentials.On("GetSecret", mock.Anything, f.account.ID).Return("password", nil)
	f.sender.On("Send", mock.Anything, mock.Anything, "password", mock.MatchedBy(func(email *interfaces.OutgoingEmail) bool {
		return len(email.To) == 1 && email.To[0] == "bob@example.org" && email.Subject == "hi"
	})).Return(raw, nil)
	f.session.On("Append", mock.Anything, "Sent", []string{`\Seen`}, raw).Return(nil)

	// Act
	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationSend,
		Payload: models.JSONMap{
			models.PayloadTo:       []string{"bob@example.org"},
			models.PayloadSubject:  "hi",
			models.PayloadBodyText: "body",
		},
	})

	// Assert
	require.NoError(t, err)
	f.sender.AssertExpectations(t)
	f.session.AssertExpectations(t)
}

func TestExecute_SendSucceedsWhenAppendFails(t *testing.T) {
	f := newExecutorFixture(t)
	testutil.CreateTestFolder(t, f.repos, f.account.ID, "Sent")
	f.credentials.On("GetSecret", mock.Anything, f.account.ID).Return("password", nil)
	f.sender.On("Send", mock.Anything, mock.Anything, "password", mock.Anything).Return([]byte("raw"), nil)
	f.session.On("Append", mock.Anything, "Sent", mock.Anything, mock.Anything).Return(errors.New("NO quota exceeded"))

	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationSend,
		Payload: models.JSONMap{
			models.PayloadTo:       []string{"bob@example.org"},
			models.PayloadBodyText: "body",
		},
	})

	assert.NoError(t, err)
}

func TestExecute_SendWithoutSentFolderSkipsAppend(t *testing.T) {
	f := newExecutorFixture(t)
	f.credentials.On("GetSecret", mock.Anything, f.account.ID).Return("password", nil)
	f.sender.On("Send", mock.Anything, mock.Anything, "password", mock.Anything).Return([]byte("raw"), nil)

	err := f.executor.Execute(context.Background(), f.session, &models.PendingOperation{
		AccountID: f.account.ID,
		Type:      enum.OperationSend,
		Payload: models.JSONMap{
			models.PayloadTo:       []string{"bob@example.org"},
			models.PayloadBodyText: "body",
		},
	})

	require.NoError(t, err)
	f.session.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
