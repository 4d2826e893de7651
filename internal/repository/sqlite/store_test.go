package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
	"github.com/customeros/mailsync/internal/utils"
)

func TestEmailUpsertKeepsIDAndRefreshesFlags(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)
	folder := testutil.CreateTestFolder(t, repos, account.ID, "INBOX")

	first := &models.Email{AccountID: account.ID, FolderID: folder.ID, UID: 7, Subject: "hello", ToAddresses: []string{"a@example.com"}}
	require.NoError(t, repos.EmailRepository.UpsertBatch(ctx, []*models.Email{first}))
	require.NotEmpty(t, first.ID)

	again := &models.Email{AccountID: account.ID, FolderID: folder.ID, UID: 7, Subject: "hello", IsRead: true}
	require.NoError(t, repos.EmailRepository.UpsertBatch(ctx, []*models.Email{again}))
	assert.Equal(t, first.ID, again.ID)

	stored, err := repos.EmailRepository.GetByUID(ctx, account.ID, folder.ID, 7)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsRead)

	_, count, err := repos.EmailRepository.ListByFolder(ctx, account.ID, folder.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWatermarkNeverDecreases(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)
	folder := testutil.CreateTestFolder(t, repos, account.ID, "INBOX")

	watermark, err := repos.SyncStateRepository.GetWatermark(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), watermark)

	require.NoError(t, repos.SyncStateRepository.SetWatermark(ctx, account.ID, folder.ID, 120))
	require.NoError(t, repos.SyncStateRepository.SetWatermark(ctx, account.ID, folder.ID, 100))

	watermark, err = repos.SyncStateRepository.GetWatermark(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), watermark)
}

func TestUIDValidityResetDropsFolderCopy(t *testing.T) {
	// Arrange
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)
	folder := testutil.CreateTestFolder(t, repos, account.ID, "INBOX")
	other := testutil.CreateTestFolder(t, repos, account.ID, "Archive")
	require.NoError(t, repos.SyncStateRepository.SetWatermark(ctx, account.ID, folder.ID, 120))
	require.NoError(t, repos.SyncStateRepository.SetUIDValidity(ctx, account.ID, folder.ID, 5))
	require.NoError(t, repos.EmailRepository.UpsertBatch(ctx, []*models.Email{
		{AccountID: account.ID, FolderID: folder.ID, UID: 120, Subject: "old numbering"},
		{AccountID: account.ID, FolderID: other.ID, UID: 120, Subject: "other folder"},
	}))

	validity, err := repos.SyncStateRepository.GetUIDValidity(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), validity)
	watermark, err := repos.SyncStateRepository.GetWatermark(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(120), watermark)

	// Act
	require.NoError(t, repos.SyncStateRepository.ResetFolder(ctx, account.ID, folder.ID, 7))

	// Assert
	validity, err = repos.SyncStateRepository.GetUIDValidity(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), validity)
	watermark, err = repos.SyncStateRepository.GetWatermark(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), watermark)

	gone, err := repos.EmailRepository.GetByUID(ctx, account.ID, folder.ID, 120)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := repos.EmailRepository.GetByUID(ctx, account.ID, other.ID, 120)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	require.NoError(t, repos.SyncStateRepository.SetWatermark(ctx, account.ID, folder.ID, 3))
	watermark, err = repos.SyncStateRepository.GetWatermark(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), watermark)
}

func TestUIDValidityUnknownFolder(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)
	folder := testutil.CreateTestFolder(t, repos, account.ID, "INBOX")

	validity, err := repos.SyncStateRepository.GetUIDValidity(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), validity)

	require.NoError(t, repos.SyncStateRepository.SetUIDValidity(ctx, account.ID, folder.ID, 9))
	watermark, err := repos.SyncStateRepository.GetWatermark(ctx, account.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), watermark)
}

func TestOperationQueueOrderAndRetry(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)

	for i, seq := range []int64{30, 10, 20} {
		op := &models.PendingOperation{
			ID:         utils.GenerateNanoIDWithPrefix("op", 8),
			AccountID:  account.ID,
			Type:       enum.OperationStar,
			Payload:    models.JSONMap{"n": float64(i)},
			Sequence:   seq,
			EnqueuedAt: utils.Now(),
		}
		require.NoError(t, repos.OperationRepository.Append(ctx, op))
	}

	ops, err := repos.OperationRepository.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{ops[0].Sequence, ops[1].Sequence, ops[2].Sequence})
	assert.Equal(t, float64(1), ops[0].Payload["n"])

	count, err := repos.OperationRepository.IncrementRetry(ctx, ops[0].ID, "boom")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = repos.OperationRepository.IncrementRetry(ctx, ops[0].ID, "boom again")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := repos.OperationRepository.GetByID(ctx, ops[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "boom again", stored.LastError)

	last, err := repos.OperationRepository.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(30), last)

	accounts, err := repos.OperationRepository.ListAccountsWithPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{account.ID}, accounts)
}

func TestDeleteAccountCascades(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)
	folder := testutil.CreateTestFolder(t, repos, account.ID, "INBOX")
	require.NoError(t, repos.EmailRepository.UpsertBatch(ctx, []*models.Email{{AccountID: account.ID, FolderID: folder.ID, UID: 1}}))
	require.NoError(t, repos.SyncStateRepository.SetWatermark(ctx, account.ID, folder.ID, 1))

	require.NoError(t, repos.AccountRepository.Delete(ctx, account.ID))

	folders, err := repos.FolderRepository.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, folders)
	email, err := repos.EmailRepository.GetByUID(ctx, account.ID, folder.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, email)
}

func TestFolderParentIsClearedWhenParentDeleted(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewTestRepositories(t)
	account := testutil.CreateTestAccount(t, repos, "localhost", 143)
	parent := testutil.CreateTestFolder(t, repos, account.ID, "Work")
	child := testutil.CreateTestFolder(t, repos, account.ID, "Work/Projects")
	require.NoError(t, repos.FolderRepository.UpdateParent(ctx, child.ID, &parent.ID))

	require.NoError(t, repos.FolderRepository.Delete(ctx, parent.ID))

	stored, err := repos.FolderRepository.GetByID(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.ParentID)
}
