package orchestrator

import (
	"path"
	"sort"
	"strings"

	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
)

const (
	rankInbox = iota
	rankSent
	rankDrafts
	rankOther
)

func folderRank(folder *models.Folder) int {
	if strings.EqualFold(folder.FullName, "INBOX") {
		return rankInbox
	}
	leaf := path.Base(folder.FullName)
	switch {
	case hasAttribute(folder, `\Sent`) || strings.EqualFold(leaf, "Sent"):
		return rankSent
	case hasAttribute(folder, `\Drafts`) || strings.EqualFold(leaf, "Drafts"):
		return rankDrafts
	}
	return rankOther
}

func hasAttribute(folder *models.Folder, attr string) bool {
	for _, a := range folder.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// sortByPriority orders INBOX, Sent and Drafts first, then the rest alphabetically.
func sortByPriority(folders []*models.Folder) {
	sort.SliceStable(folders, func(i, j int) bool {
		ri, rj := folderRank(folders[i]), folderRank(folders[j])
		if ri != rj {
			return ri < rj
		}
		return folders[i].FullName < folders[j].FullName
	})
}

// SelectFolders picks the folders a pass visits for the given strategy, in visiting order.
// Full visits every selectable folder. Incremental visits the priority folders, the
// primary folder, folders whose counts changed and folders not yet synced. RetryFailed
// visits failed folders first, then the incremental set.
func SelectFolders(strategy enum.SyncStrategy, folders, changed []*models.Folder, primary string) []*models.Folder {
	selectable := make([]*models.Folder, 0, len(folders))
	for _, folder := range folders {
		if folder.Selectable() {
			selectable = append(selectable, folder)
		}
	}

	if strategy == enum.SyncStrategyFull {
		sortByPriority(selectable)
		return selectable
	}

	changedIDs := make(map[string]struct{}, len(changed))
	for _, folder := range changed {
		changedIDs[folder.ID] = struct{}{}
	}

	var failed, incremental []*models.Folder
	for _, folder := range selectable {
		_, moved := changedIDs[folder.ID]
		switch {
		case strategy == enum.SyncStrategyRetryFailed && folder.SyncState == enum.FolderSyncFailed:
			failed = append(failed, folder)
		case folderRank(folder) != rankOther,
			folder.FullName == primary,
			moved,
			folder.SyncState != enum.FolderSyncSynced:
			incremental = append(incremental, folder)
		}
	}

	sortByPriority(failed)
	sortByPriority(incremental)
	return append(failed, incremental...)
}
