// Package organizer maps stable post IDs to mutable on-disk folder names.
// Folder names are derived from the post date and current title; when the
// title changes upstream the folder is renamed, never re-downloaded.
package organizer

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/fileutils"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/pkg/errors"
)

type ActionKind int

const (
	// ActionCreate materializes a folder for a post seen for the first time
	// (or whose folder disappeared).
	ActionCreate ActionKind = iota
	// ActionRename moves an existing folder to the canonical name derived
	// from the current remote title.
	ActionRename
	// ActionUnchanged means the folder already matches the canonical name.
	ActionUnchanged
)

// FolderAction is the resolver's verdict for one post. Paths are folder
// names relative to the author directory; part records store paths relative
// to the post folder, so a rename never rewrites part records.
type FolderAction struct {
	Kind    ActionKind
	Name    string
	OldName string
}

// Organizer resolves and applies folder actions under one author directory.
type Organizer struct {
	base string
}

func New(base string) *Organizer {
	return &Organizer{base: base}
}

// Base returns the author directory.
func (o *Organizer) Base() string { return o.base }

// PostDir returns the absolute folder path for a post record.
func (o *Organizer) PostDir(post *models.Post) string {
	return filepath.Join(o.base, post.FolderName)
}

// Resolve computes the canonical folder name from the post's date and the
// current remote title and compares it with the cached folder name.
func (o *Organizer) Resolve(post *models.Post, title string, createdAt time.Time) FolderAction {
	canonical := fileutils.PostFolderName(createdAt, title, post.ID)

	switch post.FolderName {
	case canonical:
		return FolderAction{Kind: ActionUnchanged, Name: canonical}
	case "":
		return FolderAction{Kind: ActionCreate, Name: canonical}
	default:
		return FolderAction{Kind: ActionRename, Name: canonical, OldName: post.FolderName}
	}
}

// Apply performs the filesystem side of the action and updates the record's
// folder name. Renames are best-effort: on failure the post falls back to
// its old folder and a RenameConflict error is returned for reporting; the
// post itself keeps syncing.
func (o *Organizer) Apply(post *models.Post, action FolderAction) error {
	switch action.Kind {
	case ActionUnchanged, ActionCreate:
		post.FolderName = action.Name
		return errors.WithStack(os.MkdirAll(filepath.Join(o.base, action.Name), 0755))

	case ActionRename:
		oldPath := filepath.Join(o.base, action.OldName)
		newPath := filepath.Join(o.base, action.Name)

		if _, err := os.Stat(oldPath); os.IsNotExist(err) {
			// Nothing to move; the folder will be re-materialized.
			post.FolderName = action.Name
			return errors.WithStack(os.MkdirAll(newPath, 0755))
		}

		if _, err := os.Stat(newPath); err == nil {
			if err := mergeFolders(oldPath, newPath); err != nil {
				if mkErr := os.MkdirAll(oldPath, 0755); mkErr != nil {
					return errors.WithStack(mkErr)
				}
				return errcodes.RenameConflict(err, action.OldName, action.Name)
			}
			post.FolderName = action.Name
			return nil
		}

		if err := os.Rename(oldPath, newPath); err != nil {
			// Fall back to the old folder; the discrepancy is reported, not fatal.
			if mkErr := os.MkdirAll(oldPath, 0755); mkErr != nil {
				return errors.WithStack(mkErr)
			}
			return errcodes.RenameConflict(err, action.OldName, action.Name)
		}

		post.FolderName = action.Name
		return nil
	}

	return errors.Errorf("unknown folder action %d", action.Kind)
}

// mergeFolders moves the contents of src into dst, keeping the union. For
// entries present in both, the destination wins; the planner's fingerprint
// check refetches anything that turns out stale.
func mergeFolders(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		if _, err := os.Stat(dstPath); err == nil {
			if entry.IsDir() {
				if err := mergeFolders(srcPath, dstPath); err != nil {
					return err
				}
				_ = os.Remove(srcPath)
			}
			continue
		}

		if entry.IsDir() {
			if err := os.Rename(srcPath, dstPath); err != nil {
				return errors.WithStack(err)
			}
			continue
		}

		if err := fileutils.MoveFile(srcPath, dstPath); err != nil {
			return err
		}
	}

	// Drop the source folder if the merge emptied it.
	if remaining, err := os.ReadDir(src); err == nil && len(remaining) == 0 {
		_ = os.Remove(src)
	}

	return nil
}
