// Package syncer drives a full sync run: it walks the remote feed page by
// page, plans the work for every post, downloads changed parts through a
// bounded worker pool, and commits progress to the cache store so an
// interrupted run resumes where it left off.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/cache"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/faillog"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/feed"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/organizer"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/planner"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/render"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// Options configure one sync run.
type Options struct {
	Workers   int
	PageLimit int
	Retry     RetryPolicy
}

func DefaultOptions() Options {
	return Options{
		Workers:   4,
		PageLimit: 10,
		Retry:     DefaultRetryPolicy(),
	}
}

// PostFailure describes one post that ended the run partially failed.
type PostFailure struct {
	PostID     string
	FolderName string
	Parts      []string
}

// Summary is the run report printed at the end of a sync.
type Summary struct {
	PagesProcessed  int
	PostsSeen       int
	Synced          int
	UpToDate        int
	SkippedByUser   int
	NoAccess        int
	PartsFetched    int
	PartsFailed     int
	PartsEvicted    int
	RenameConflicts int
	PartiallyFailed []PostFailure
	Interrupted     bool
}

// Clean reports whether the run left no posts in a failed state.
func (s *Summary) Clean() bool {
	return len(s.PartiallyFailed) == 0 && !s.Interrupted
}

// Syncer coordinates the fetcher, planner, organizer, and cache store. The
// store and every post record are mutated only on the Run goroutine; worker
// goroutines exclusively stream bytes to disk and report results back.
type Syncer struct {
	fetcher   feed.ContentFetcher
	store     *cache.Store
	organizer *organizer.Organizer
	planner   *planner.Planner
	renderer  render.Renderer
	failures  faillog.Reporter
	opts      Options
	log       logger.Logger
	now       func() time.Time
}

func New(fetcher feed.ContentFetcher, store *cache.Store, org *organizer.Organizer, plan *planner.Planner, renderer render.Renderer, failures faillog.Reporter, opts Options) *Syncer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = DefaultOptions().PageLimit
	}
	if failures == nil {
		failures = faillog.Discard{}
	}
	return &Syncer{
		fetcher:   fetcher,
		store:     store,
		organizer: org,
		planner:   plan,
		renderer:  renderer,
		failures:  failures,
		opts:      opts,
		log:       logger.New(),
		now:       time.Now,
	}
}

// Run walks the feed from the cached cursor to the end. It returns the run
// summary in every case, including fatal errors and interrupts; progress
// made before the error is already committed.
func (s *Syncer) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	paginator := feed.NewPaginator(s.fetcher, s.store.Cursor(), s.opts.PageLimit)

	if cursor := s.store.Cursor(); cursor != "" {
		s.log.Info("resuming from saved offset", logger.Data{"offset": cursor})
	}

	for {
		if ctx.Err() != nil {
			return s.drain(ctx, summary)
		}

		page, err := s.nextPage(ctx, paginator)
		if errors.Is(err, feed.ErrEndOfFeed) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return s.drain(ctx, summary)
			}
			s.flush(ctx)
			return summary, err
		}

		complete, err := s.processPage(ctx, page, summary)
		if err != nil {
			if errcodes.KindOf(err) == errcodes.KindInterrupted {
				return s.drain(ctx, summary)
			}
			s.flush(ctx)
			return summary, err
		}

		summary.PagesProcessed++

		// The cursor only moves once every post on the page is terminal;
		// a partial page is re-planned from the old cursor next run, and
		// the per-part cache keeps the replay cheap.
		if complete {
			s.store.AdvanceCursor(page.NextOffset)
		}

		if err := s.store.Flush(ctx); err != nil {
			return summary, err
		}
	}

	// The feed was fully traversed; clear the resume point so the next run
	// rescans from the top and picks up new and edited posts. The per-part
	// cache keeps that rescan cheap.
	s.store.AdvanceCursor("")

	if err := s.store.Flush(ctx); err != nil {
		return summary, err
	}

	return summary, nil
}

// SyncOne brings a single post to a terminal state through the same plan
// and fetch path as a full run. The feed cursor is never touched.
func (s *Syncer) SyncOne(ctx context.Context, postID string) (*Summary, error) {
	summary := &Summary{}

	var remote *feed.PostDescriptor
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		p, err := s.fetcher.FetchPost(ctx, postID)
		if err != nil {
			return err
		}
		remote = p
		return nil
	})
	if err != nil {
		if errcodes.KindOf(err) == errcodes.KindInterrupted {
			return s.drain(ctx, summary)
		}
		return summary, err
	}

	if err := s.processPost(ctx, *remote, summary); err != nil {
		if errcodes.KindOf(err) == errcodes.KindInterrupted {
			return s.drain(ctx, summary)
		}
		if errcodes.IsFatal(err) {
			s.flush(ctx)
			return summary, err
		}
		s.log.Err(err).Error("post sync error")
		s.failPost(*remote, err, summary)
	}

	if err := s.store.Flush(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

// failPost commits a post-level failure so the post still reaches a terminal
// state and traversal can move past it.
func (s *Syncer) failPost(remote feed.PostDescriptor, cause error, summary *Summary) {
	record := s.store.Get(remote.ID)
	if record == nil {
		record = &models.Post{
			ID:          remote.ID,
			Title:       remote.Title,
			CreatedAt:   remote.CreatedAt,
			FirstSeenAt: s.now(),
		}
	}
	record.SyncState = models.SyncStatePartiallyFailed
	s.store.Upsert(record)
	summary.PartiallyFailed = append(summary.PartiallyFailed, PostFailure{
		PostID:     remote.ID,
		FolderName: record.FolderName,
		Parts:      []string{cause.Error()},
	})
}

// nextPage wraps pagination in the retry policy so a flaky connection does
// not abort an otherwise healthy run.
func (s *Syncer) nextPage(ctx context.Context, paginator *feed.Paginator) (*feed.Page, error) {
	var page *feed.Page
	err := s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		p, err := paginator.Next(ctx)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	return page, err
}

// processPage brings every post on the page to a terminal state. It returns
// complete=false when the run was interrupted partway through.
func (s *Syncer) processPage(ctx context.Context, page *feed.Page, summary *Summary) (bool, error) {
	for _, remote := range page.Posts {
		if ctx.Err() != nil {
			return false, errcodes.Interrupted()
		}

		if err := s.processPost(ctx, remote, summary); err != nil {
			if errcodes.IsFatal(err) || errcodes.KindOf(err) == errcodes.KindInterrupted {
				return false, err
			}
			// A post-level failure is isolated; the rest of the page
			// still syncs.
			s.log.Err(err).Error("post sync error")
			s.failPost(remote, err, summary)
		}
	}
	return true, nil
}

func (s *Syncer) processPost(ctx context.Context, remote feed.PostDescriptor, summary *Summary) error {
	summary.PostsSeen++

	log := s.log.Root(logger.Data{"post_id": remote.ID})

	record := s.store.Get(remote.ID)
	if record == nil {
		record = &models.Post{
			ID:          remote.ID,
			CreatedAt:   remote.CreatedAt,
			SyncState:   models.SyncStatePending,
			FirstSeenAt: s.now(),
		}
	}

	if !remote.HasAccess {
		summary.NoAccess++
		record.Title = remote.Title
		record.SyncState = models.SyncStateNoAccess
		s.store.Upsert(record)
		log.Info("post not accessible with current subscription", logger.Data{"title": remote.Title})
		return nil
	}

	action := s.organizer.Resolve(record, remote.Title, remote.CreatedAt)
	if err := s.organizer.Apply(record, action); err != nil {
		if errcodes.KindOf(err) != errcodes.KindRenameConflict {
			return err
		}
		// The post keeps syncing into its old folder; the conflict is
		// surfaced in the summary.
		summary.RenameConflicts++
		log.Warn("folder rename conflict", logger.Data{"error": err.Error()})
	}

	if s.planner.Skipped(record) {
		summary.SkippedByUser++
		record.SyncState = models.SyncStateSkippedByUser
		s.store.Upsert(record)
		log.Info("post skipped by user marker", logger.Data{"folder": record.FolderName})
		return nil
	}

	plan := s.planner.Build(remote, record)
	s.evict(plan, summary, log)

	failed := s.fetchParts(ctx, plan, summary, log)

	if ctx.Err() != nil {
		// Completed parts keep their state; the post stays pending so the
		// next run finishes it.
		record.SyncState = models.SyncStatePending
		s.store.Upsert(record)
		return errcodes.Interrupted()
	}

	if len(failed) > 0 {
		record.SyncState = models.SyncStatePartiallyFailed
		summary.PartiallyFailed = append(summary.PartiallyFailed, PostFailure{
			PostID:     record.ID,
			FolderName: record.FolderName,
			Parts:      failed,
		})
	} else {
		record.SyncState = models.SyncStateSynced
		at := s.now()
		record.LastSyncedAt = &at
		if plan.FetchCount() == 0 && !plan.NeedsRender {
			summary.UpToDate++
		} else {
			summary.Synced++
		}
	}

	if plan.NeedsRender && s.renderer != nil {
		if err := s.renderer.Render(record, s.organizer.PostDir(record)); err != nil {
			// The document is a convenience; a render error never blocks
			// the post's media.
			log.Err(err).Error("render post document error")
		}
	}

	s.store.Upsert(record)
	return nil
}

// evict removes files for parts the author deleted upstream.
func (s *Syncer) evict(plan *planner.Plan, summary *Summary, log logger.Logger) {
	for _, item := range plan.Items {
		if item.Action != planner.ActionEvict {
			continue
		}
		summary.PartsEvicted++
		if item.Part.LocalPath == "" {
			continue
		}
		if err := s.removePartFile(plan.Post, item.Part); err != nil {
			log.Warn("evict part file error", logger.Data{
				"remote_ref": item.Part.RemoteRef,
				"error":      err.Error(),
			})
		}
	}
}

// fetchParts downloads every fetch item of the plan through the worker pool
// and applies the results to the post record. It returns descriptions of
// the parts that exhausted their retries.
func (s *Syncer) fetchParts(ctx context.Context, plan *planner.Plan, summary *Summary, log logger.Logger) []string {
	var items []planner.WorkItem
	for _, item := range plan.Items {
		if item.Action == planner.ActionFetch {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}

	dir := s.organizer.PostDir(plan.Post)

	jobs := make(chan fetchJob)
	results := make(chan fetchResult, len(items))

	workers := s.opts.Workers
	if workers > len(items) {
		workers = len(items)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range jobs {
				localPath, fingerprint, err := s.downloadPart(ctx, job)
				results <- fetchResult{job: job, localPath: localPath, fingerprint: fingerprint, err: err}
			}
		}()
	}

	for _, item := range items {
		item.Part.Status = models.PartStatusFetching
	}

	// The dispatcher reports how many jobs it actually handed out, so an
	// interrupt mid-page never leaves the collector waiting on results that
	// will not come.
	dispatched := make(chan int, 1)
	go func() {
		defer close(jobs)
		n := 0
		for _, item := range items {
			select {
			case jobs <- fetchJob{dir: dir, existing: item.Part.LocalPath, item: item}:
				n++
			case <-ctx.Done():
				dispatched <- n
				return
			}
		}
		dispatched <- n
	}()

	// Single-writer collection: only this goroutine touches the records.
	var failed []string
	expected := len(items)
	collected := 0
	for collected < expected {
		var res fetchResult
		select {
		case res = <-results:
			collected++
		case n := <-dispatched:
			expected = n
			dispatched = nil
			continue
		}

		part := res.job.item.Part
		if res.err != nil {
			if errcodes.KindOf(res.err) == errcodes.KindInterrupted {
				part.Status = models.PartStatusMissing
				continue
			}
			part.Status = models.PartStatusFailed
			part.FailureCount++
			summary.PartsFailed++
			failed = append(failed, fmt.Sprintf("%s %s: %v", part.Type, part.RemoteRef, res.err))
			s.failures.Record(faillog.Entry{
				PostID:     plan.Post.ID,
				FolderName: plan.Post.FolderName,
				PartType:   part.Type,
				RemoteRef:  part.RemoteRef,
				Err:        res.err,
			})
			log.Warn("part download failed", logger.Data{
				"type":       part.Type,
				"remote_ref": part.RemoteRef,
				"error":      res.err.Error(),
			})
			continue
		}

		part.Status = models.PartStatusComplete
		part.FailureCount = 0
		part.LocalPath = res.localPath
		// The feed fingerprint is the change-detection key; the one observed
		// at download time only fills in when the feed provided none.
		if part.Fingerprint == "" && res.fingerprint != "" {
			part.Fingerprint = res.fingerprint
		}
		summary.PartsFetched++
	}

	// Anything never dispatched or interrupted mid-flight falls back to
	// missing so the next run picks it up.
	for _, item := range items {
		if item.Part.Status == models.PartStatusFetching {
			item.Part.Status = models.PartStatusMissing
		}
	}

	return failed
}

// drain commits in-memory progress after an interrupt. The cursor is left
// where it was, so the interrupted page replays next run.
func (s *Syncer) drain(ctx context.Context, summary *Summary) (*Summary, error) {
	summary.Interrupted = true
	s.flush(ctx)
	s.log.Info("sync interrupted, progress saved")
	return summary, errcodes.Interrupted()
}

func (s *Syncer) flush(ctx context.Context) {
	// The incoming context may already be cancelled; the flush must still
	// land or the run's progress is lost.
	if err := s.store.Flush(context.WithoutCancel(ctx)); err != nil {
		s.log.Err(err).Error("flush cache error")
	}
}
