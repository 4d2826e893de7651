package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/internal/database"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/repository/sqlite"
	"github.com/customeros/mailsync/internal/utils"
)

// NewTestRepositories returns repositories over a fresh in-memory SQLite database.
func NewTestRepositories(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := database.OpenSqlite(database.InMemorySqlite)
	require.NoError(t, err)

	repos, err := sqlite.InitRepositories(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = repos.Close()
	})
	return repos
}

// CreateTestAccount stores an enabled password account pointing at host:port.
func CreateTestAccount(t *testing.T, repos *repository.Repositories, host string, port int) *models.Account {
	t.Helper()

	account := &models.Account{
		EmailAddress: utils.GenerateNanoIDWithPrefix("user", 8) + "@example.com",
		DisplayName:  "Test User",
		ImapServer:   host,
		ImapPort:     port,
		ImapSecurity: enum.EmailSecurityNone,
		Username:     "username",
		AuthMode:     enum.AuthModePassword,
		Enabled:      true,
		SyncEnabled:  true,
	}
	require.NoError(t, repos.AccountRepository.Create(context.Background(), account))
	return account
}

// CreateTestFolder stores a synced folder for the account.
func CreateTestFolder(t *testing.T, repos *repository.Repositories, accountID, fullName string) *models.Folder {
	t.Helper()

	folder := &models.Folder{
		AccountID: accountID,
		FullName:  fullName,
		Name:      fullName,
		Delimiter: "/",
		SyncState: enum.FolderSyncSynced,
	}
	require.NoError(t, repos.FolderRepository.Create(context.Background(), folder))
	return folder
}
