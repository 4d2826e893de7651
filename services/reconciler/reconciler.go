package reconciler

import (
	"context"
	"sort"

	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mailsync_errors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

// Result describes what a reconciliation wrote. Changed lists folders whose remote
// counts moved since the last run.
type Result struct {
	Inserted  []*models.Folder
	Updated   []*models.Folder
	Deleted   []*models.Folder
	Unchanged []*models.Folder
	Changed   []*models.Folder
}

// Writes is the number of folder rows the run created, modified or removed.
func (r *Result) Writes() int {
	return len(r.Inserted) + len(r.Updated) + len(r.Deleted)
}

// Folders returns the local folder set after the run, sorted by full name.
func (r *Result) Folders() []*models.Folder {
	folders := make([]*models.Folder, 0, len(r.Inserted)+len(r.Updated)+len(r.Unchanged))
	folders = append(folders, r.Inserted...)
	folders = append(folders, r.Updated...)
	folders = append(folders, r.Unchanged...)
	sort.Slice(folders, func(i, j int) bool { return folders[i].FullName < folders[j].FullName })
	return folders
}

type Reconciler struct {
	folders interfaces.FolderRepository
	log     logger.Logger
}

func NewReconciler(folders interfaces.FolderRepository, log logger.Logger) *Reconciler {
	return &Reconciler{
		folders: folders,
		log:     log,
	}
}

// Reconcile converges the account's local folders to a complete remote listing.
// Paths match by exact, case-sensitive equality. A second run with the same input
// performs no writes.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, remote []interfaces.FolderInfo) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Reconciler.Reconcile")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("remote.count", len(remote))

	local, err := r.folders.ListByAccount(ctx, accountID)
	if err != nil {
		err = mailsync_errors.Storage("reconcile.list", err)
		tracing.TraceErr(span, err)
		return nil, err
	}

	remoteByPath := make(map[string]interfaces.FolderInfo, len(remote))
	for _, info := range remote {
		if info.FullName == "" {
			continue
		}
		remoteByPath[info.FullName] = info
	}

	result := &Result{}
	byPath := make(map[string]*models.Folder, len(remoteByPath))

	for _, folder := range local {
		if _, ok := remoteByPath[folder.FullName]; ok {
			byPath[folder.FullName] = folder
			continue
		}
		if err := r.folders.Delete(ctx, folder.ID); err != nil {
			err = mailsync_errors.Storage("reconcile.delete", err)
			tracing.TraceErr(span, err)
			return nil, err
		}
		result.Deleted = append(result.Deleted, folder)
		r.log.Infof("[%s][%s] Folder removed remotely, deleted locally", accountID, folder.FullName)
	}

	paths := make([]string, 0, len(remoteByPath))
	for path := range remoteByPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		info := remoteByPath[path]
		existing, ok := byPath[path]
		if !ok {
			folder := newFolder(accountID, info)
			if err := r.folders.Create(ctx, folder); err != nil {
				err = mailsync_errors.Storage("reconcile.create", err)
				tracing.TraceErr(span, err)
				return nil, err
			}
			byPath[path] = folder
			result.Inserted = append(result.Inserted, folder)
			continue
		}

		countsMoved := existing.TotalCount != info.TotalCount || existing.UnreadCount != info.UnreadCount
		if !countsMoved && !metadataChanged(existing, info) {
			result.Unchanged = append(result.Unchanged, existing)
			continue
		}
		applyRemote(existing, info)
		if err := r.folders.Update(ctx, existing); err != nil {
			err = mailsync_errors.Storage("reconcile.update", err)
			tracing.TraceErr(span, err)
			return nil, err
		}
		result.Updated = append(result.Updated, existing)
		if countsMoved {
			result.Changed = append(result.Changed, existing)
		}
	}

	if err := r.resolveParents(ctx, byPath, result); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	span.LogKV("inserted", len(result.Inserted), "updated", len(result.Updated),
		"deleted", len(result.Deleted), "unchanged", len(result.Unchanged))
	if result.Writes() > 0 {
		r.log.Infof("[%s] Folders reconciled: %d inserted, %d updated, %d deleted, %d unchanged",
			accountID, len(result.Inserted), len(result.Updated), len(result.Deleted), len(result.Unchanged))
	}
	return result, nil
}

// resolveParents links each folder to the folder at its path minus the last segment.
func (r *Reconciler) resolveParents(ctx context.Context, byPath map[string]*models.Folder, result *Result) error {
	for path, folder := range byPath {
		var parentID *string
		if parentPath, ok := utils.ParentFolderPath(path); ok {
			if parent, found := byPath[parentPath]; found {
				parentID = utils.ToPtr(parent.ID)
			}
		}
		if sameID(folder.ParentID, parentID) {
			continue
		}
		if err := r.folders.UpdateParent(ctx, folder.ID, parentID); err != nil {
			return mailsync_errors.Storage("reconcile.parent", err)
		}
		folder.ParentID = parentID
		result.promote(folder)
	}
	return nil
}

// promote moves a folder whose parent link changed from Unchanged to Updated.
func (r *Result) promote(folder *models.Folder) {
	for i, unchanged := range r.Unchanged {
		if unchanged.ID == folder.ID {
			r.Unchanged = append(r.Unchanged[:i], r.Unchanged[i+1:]...)
			r.Updated = append(r.Updated, folder)
			return
		}
	}
}

func newFolder(accountID string, info interfaces.FolderInfo) *models.Folder {
	folder := &models.Folder{
		AccountID: accountID,
		FullName:  info.FullName,
		SyncState: enum.FolderSyncPending,
	}
	applyRemote(folder, info)
	return folder
}

func applyRemote(folder *models.Folder, info interfaces.FolderInfo) {
	folder.Name = utils.FolderLeafName(info.FullName)
	folder.Delimiter = info.Delimiter
	folder.TotalCount = info.TotalCount
	folder.UnreadCount = info.UnreadCount
	folder.Subscribed = info.Subscribed
	folder.Attributes = pq.StringArray(append([]string{}, info.Attributes...))
}

func metadataChanged(folder *models.Folder, info interfaces.FolderInfo) bool {
	return folder.Subscribed != info.Subscribed ||
		folder.Delimiter != info.Delimiter ||
		folder.Name != utils.FolderLeafName(info.FullName) ||
		!sameStrings(folder.Attributes, info.Attributes)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
