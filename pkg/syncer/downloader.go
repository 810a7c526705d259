package syncer

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/fileutils"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/planner"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type fetchJob struct {
	dir      string // absolute post folder
	existing string // previous local path relative to the post folder, if any
	item     planner.WorkItem
}

type fetchResult struct {
	job         fetchJob
	localPath   string
	fingerprint string
	err         error
}

// partSubfolder returns the folder inside the post directory where parts of
// the given type are materialized.
func partSubfolder(partType string) string {
	switch partType {
	case models.PartTypeImage:
		return "images"
	case models.PartTypeFile:
		return "files"
	case models.PartTypeAudio:
		return "audio"
	case models.PartTypeVideo:
		return "boosty_videos"
	case models.PartTypeExternalVideo:
		return "external_videos"
	}
	return "misc"
}

// partFilename derives a base filename from the part's title, falling back
// to the last segment of its remote reference.
func partFilename(part *models.Part) string {
	name := fileutils.SanitizeName(part.Title)
	if name != "" {
		return name
	}

	ref := part.RemoteRef
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	name = fileutils.SanitizeName(path.Base(ref))
	if name == "" || name == "/" || name == "." {
		name = part.Type
	}
	return name
}

// downloadPart materializes one part on disk and returns its path relative
// to the post folder plus the fingerprint observed at download time. Bytes
// stream into a hidden temp file that is renamed only after a full read, so
// a crash never leaves a truncated file behind under the final name.
func (s *Syncer) downloadPart(ctx context.Context, job fetchJob) (string, string, error) {
	part := job.item.Part
	sub := partSubfolder(part.Type)
	dir := filepath.Join(job.dir, sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", errors.WithStack(err)
	}

	// External videos are never downloaded; a shortcut file records the
	// link next to the rest of the post's media. Rewrites reuse the old
	// path; first writes get a unique one so same-named links coexist.
	if part.Type == models.PartTypeExternalVideo {
		target := filepath.Join(job.dir, job.existing)
		if job.existing == "" {
			target = fileutils.UniquePath(filepath.Join(dir, partFilename(part)+".url"))
		}
		content := fmt.Sprintf("[InternetShortcut]\r\nURL=%s\r\n", part.RemoteRef)
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return "", "", errors.WithStack(err)
		}
		rel, err := filepath.Rel(job.dir, target)
		if err != nil {
			return "", "", errors.WithStack(err)
		}
		return rel, "", nil
	}

	var rel, fingerprint string
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		body, observed, err := s.fetcher.FetchPart(ctx, job.item.Descriptor)
		if err != nil {
			return err
		}
		defer body.Close()

		tmp := filepath.Join(dir, "."+uuid.NewString()+".partial")
		out, err := os.Create(tmp)
		if err != nil {
			return errors.WithStack(err)
		}

		if _, err := io.Copy(out, body); err != nil {
			out.Close()
			os.Remove(tmp)
			// A broken stream is as retryable as a failed connect.
			return errcodes.Transient(err, "stream part content")
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return errors.WithStack(err)
		}

		target, err := s.partTarget(job, tmp)
		if err != nil {
			os.Remove(tmp)
			return err
		}
		if err := os.Rename(tmp, target); err != nil {
			os.Remove(tmp)
			return errors.WithStack(err)
		}

		relPath, err := filepath.Rel(job.dir, target)
		if err != nil {
			return errors.WithStack(err)
		}
		rel = relPath
		fingerprint = observed
		return nil
	})
	return rel, fingerprint, err
}

// partTarget picks the final path for a downloaded part. Re-downloads reuse
// the previous path; first downloads derive a name and sniff an extension
// from the content when the remote reference has none.
func (s *Syncer) partTarget(job fetchJob, tmp string) (string, error) {
	if job.existing != "" {
		target := filepath.Join(job.dir, job.existing)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", errors.WithStack(err)
		}
		return target, nil
	}

	part := job.item.Part
	name := partFilename(part)
	if filepath.Ext(name) == "" {
		if mt, err := mimetype.DetectFile(tmp); err == nil {
			name += mt.Extension()
		}
	}

	return fileutils.UniquePath(filepath.Join(job.dir, partSubfolder(part.Type), name)), nil
}

// removePartFile deletes the materialized file of an evicted part.
func (s *Syncer) removePartFile(post *models.Post, part *models.Part) error {
	path := filepath.Join(s.organizer.PostDir(post), part.LocalPath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}
