package enum

type FolderSyncState string

const (
	FolderSyncPending FolderSyncState = "PENDING"
	FolderSyncSynced  FolderSyncState = "SYNCED"
	FolderSyncFailed  FolderSyncState = "FAILED"
)

func (t FolderSyncState) String() string {
	return string(t)
}
