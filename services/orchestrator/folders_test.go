package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
)

func folder(id, path string, state enum.FolderSyncState, attrs ...string) *models.Folder {
	return &models.Folder{ID: id, FullName: path, SyncState: state, Attributes: attrs}
}

func names(folders []*models.Folder) []string {
	result := make([]string, 0, len(folders))
	for _, f := range folders {
		result = append(result, f.FullName)
	}
	return result
}

func TestSelectFolders_FullOrdersByPriority(t *testing.T) {
	folders := []*models.Folder{
		folder("1", "Zeta", enum.FolderSyncSynced),
		folder("2", "Drafts", enum.FolderSyncSynced),
		folder("3", "Archive", enum.FolderSyncSynced),
		folder("4", "Sent Items", enum.FolderSyncSynced, `\Sent`),
		folder("5", "INBOX", enum.FolderSyncSynced),
		folder("6", "[Gmail]", enum.FolderSyncSynced, `\Noselect`),
	}

	selected := SelectFolders(enum.SyncStrategyFull, folders, nil, "INBOX")

	assert.Equal(t, []string{"INBOX", "Sent Items", "Drafts", "Archive", "Zeta"}, names(selected))
}

func TestSelectFolders_Incremental(t *testing.T) {
	folders := []*models.Folder{
		folder("1", "INBOX", enum.FolderSyncSynced),
		folder("2", "Archive", enum.FolderSyncSynced),
		folder("3", "Projects", enum.FolderSyncSynced),
		folder("4", "Receipts", enum.FolderSyncPending),
		folder("5", "Old", enum.FolderSyncFailed),
	}
	changed := []*models.Folder{folders[2]}

	selected := SelectFolders(enum.SyncStrategyIncremental, folders, changed, "INBOX")

	assert.Equal(t, []string{"INBOX", "Old", "Projects", "Receipts"}, names(selected))
}

func TestSelectFolders_RetryFailedVisitsFailedFirst(t *testing.T) {
	folders := []*models.Folder{
		folder("1", "INBOX", enum.FolderSyncSynced),
		folder("2", "Archive", enum.FolderSyncSynced),
		folder("3", "Work", enum.FolderSyncFailed),
		folder("4", "Drafts", enum.FolderSyncFailed),
	}

	selected := SelectFolders(enum.SyncStrategyRetryFailed, folders, nil, "INBOX")

	assert.Equal(t, []string{"Drafts", "Work", "INBOX"}, names(selected))
}

func TestRegistry_ReusesConnectedSession(t *testing.T) {
	// Arrange
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	session := newMockSession()
	session.On("Connect", mock.Anything, mock.Anything, "password").Return(nil)
	credentials := &mockCredentials{}
	credentials.On("GetSecret", mock.Anything, account.ID).Return("password", nil)
	registry := NewRegistry(repos, credentials, func() interfaces.MailSession { return session },
		config.Defaults().SyncConfig, testutil.NewTestLogger())

	// Act
	first, err := registry.Acquire(context.Background(), account.ID)
	require.NoError(t, err)
	second, err := registry.Acquire(context.Background(), account.ID)
	require.NoError(t, err)

	// Assert
	assert.Same(t, first, second)
	session.AssertNumberOfCalls(t, "Connect", 1)
	assert.True(t, registry.Connected(account.ID))

	registry.Release(account.ID)
	assert.False(t, registry.Connected(account.ID))
	assert.Equal(t, int32(1), session.disconnects.Load())
}

func TestRegistry_MissingCredentialIsAuthFailure(t *testing.T) {
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	credentials := &mockCredentials{}
	credentials.On("GetSecret", mock.Anything, account.ID).Return("", mailsync_errors.ErrCredentialNotFound)
	registry := NewRegistry(repos, credentials, func() interfaces.MailSession { return newMockSession() },
		config.Defaults().SyncConfig, testutil.NewTestLogger())

	_, err := registry.Acquire(context.Background(), account.ID)

	require.Error(t, err)
	assert.True(t, mailsync_errors.IsAuth(err))
	assert.False(t, mailsync_errors.IsRetryable(err))
}
