package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/internal/testutil"
)

func setup(t *testing.T) (*Reconciler, *repository.Repositories, string) {
	t.Helper()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "127.0.0.1", 143)
	return NewReconciler(repos.FolderRepository, testutil.NewTestLogger()), repos, account.ID
}

func listing(paths ...string) []interfaces.FolderInfo {
	infos := make([]interfaces.FolderInfo, 0, len(paths))
	for _, path := range paths {
		infos = append(infos, interfaces.FolderInfo{FullName: path, Delimiter: "/", Subscribed: true})
	}
	return infos
}

func byName(t *testing.T, repos *repository.Repositories, accountID string) map[string]*models.Folder {
	t.Helper()
	folders, err := repos.FolderRepository.ListByAccount(context.Background(), accountID)
	require.NoError(t, err)
	result := make(map[string]*models.Folder, len(folders))
	for _, folder := range folders {
		result[folder.FullName] = folder
	}
	return result
}

func TestReconcile_NestedFolderWithoutParent(t *testing.T) {
	// Arrange
	reconciler, repos, accountID := setup(t)

	// Act
	result, err := reconciler.Reconcile(context.Background(), accountID, listing("INBOX", "Sent", "Work/Projects"))

	// Assert
	require.NoError(t, err)
	assert.Len(t, result.Inserted, 3)
	folders := byName(t, repos, accountID)
	require.Len(t, folders, 3)
	assert.Nil(t, folders["Work/Projects"].ParentID)
	assert.Equal(t, "Projects", folders["Work/Projects"].Name)
}

func TestReconcile_NestedFolderWithParent(t *testing.T) {
	// Arrange
	reconciler, repos, accountID := setup(t)

	// Act
	_, err := reconciler.Reconcile(context.Background(), accountID, listing("INBOX", "Sent", "Work", "Work/Projects"))

	// Assert
	require.NoError(t, err)
	folders := byName(t, repos, accountID)
	require.Len(t, folders, 4)
	require.NotNil(t, folders["Work/Projects"].ParentID)
	assert.Equal(t, folders["Work"].ID, *folders["Work/Projects"].ParentID)
	assert.Nil(t, folders["INBOX"].ParentID)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	// Arrange
	reconciler, _, accountID := setup(t)
	ctx := context.Background()
	remote := listing("INBOX", "Sent", "Work", "Work/Projects")
	_, err := reconciler.Reconcile(ctx, accountID, remote)
	require.NoError(t, err)

	// Act
	second, err := reconciler.Reconcile(ctx, accountID, remote)

	// Assert
	require.NoError(t, err)
	assert.Zero(t, second.Writes())
	assert.Len(t, second.Unchanged, 4)
	assert.Empty(t, second.Changed)
}

func TestReconcile_UpdatesInPlaceAndDeletesMissing(t *testing.T) {
	// Arrange
	reconciler, repos, accountID := setup(t)
	ctx := context.Background()
	_, err := reconciler.Reconcile(ctx, accountID, listing("INBOX", "Sent", "Work", "Work/Projects"))
	require.NoError(t, err)
	before := byName(t, repos, accountID)

	remote := listing("INBOX", "Sent", "Work/Projects")
	remote[0].TotalCount = 12
	remote[0].UnreadCount = 3

	// Act
	result, err := reconciler.Reconcile(ctx, accountID, remote)

	// Assert
	require.NoError(t, err)
	require.Len(t, result.Deleted, 1)
	assert.Equal(t, "Work", result.Deleted[0].FullName)
	require.Len(t, result.Changed, 1)
	assert.Equal(t, "INBOX", result.Changed[0].FullName)

	after := byName(t, repos, accountID)
	require.Len(t, after, 3)
	assert.Equal(t, before["INBOX"].ID, after["INBOX"].ID)
	assert.Equal(t, uint32(12), after["INBOX"].TotalCount)
	assert.Equal(t, uint32(3), after["INBOX"].UnreadCount)
	assert.Nil(t, after["Work/Projects"].ParentID)
}

func TestReconcile_MatchingIsCaseSensitive(t *testing.T) {
	// Arrange
	reconciler, repos, accountID := setup(t)
	ctx := context.Background()
	_, err := reconciler.Reconcile(ctx, accountID, listing("INBOX", "Archive"))
	require.NoError(t, err)

	// Act
	result, err := reconciler.Reconcile(ctx, accountID, listing("INBOX", "archive"))

	// Assert
	require.NoError(t, err)
	assert.Len(t, result.Inserted, 1)
	assert.Len(t, result.Deleted, 1)
	folders := byName(t, repos, accountID)
	assert.Contains(t, folders, "archive")
	assert.NotContains(t, folders, "Archive")
}

func TestReconcile_EmptyListingDeletesEverything(t *testing.T) {
	reconciler, repos, accountID := setup(t)
	ctx := context.Background()
	_, err := reconciler.Reconcile(ctx, accountID, listing("INBOX", "Sent"))
	require.NoError(t, err)

	result, err := reconciler.Reconcile(ctx, accountID, nil)

	require.NoError(t, err)
	assert.Len(t, result.Deleted, 2)
	assert.Empty(t, byName(t, repos, accountID))
}
