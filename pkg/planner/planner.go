// Package planner diffs remote post descriptors against cached records and
// produces the ordered work plan the executor drives: fetch what changed,
// skip what is current, evict what the author deleted.
package planner

import (
	"os"
	"path/filepath"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/feed"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
)

type Action int

const (
	ActionFetch Action = iota
	ActionSkip
	ActionEvict
)

func (a Action) String() string {
	switch a {
	case ActionFetch:
		return "fetch"
	case ActionSkip:
		return "skip"
	case ActionEvict:
		return "evict"
	}
	return "unknown"
}

// WorkItem is one part-level decision. For fetches, Descriptor carries the
// remote reference handed to the content fetcher; for evictions, Part is
// the cached record whose file must go.
type WorkItem struct {
	Part       *models.Part
	Descriptor feed.PartDescriptor
	Action     Action
}

// Plan is the ordered set of decisions for one post. Items preserve the
// post's content order so the eventual rendering reflects author intent.
type Plan struct {
	Post  *models.Post
	Items []WorkItem
	// NeedsRender is set when anything renderable changed, so the post
	// document is rewritten once the post reaches a terminal state.
	NeedsRender bool
}

// FetchCount returns the number of fetch decisions in the plan.
func (p *Plan) FetchCount() int {
	n := 0
	for _, item := range p.Items {
		if item.Action == ActionFetch {
			n++
		}
	}
	return n
}

// Planner classifies parts. It checks materialized files on disk (a
// recorded `complete` with a missing file is treated as missing — the cache
// self-heals rather than trusting its own bookkeeping).
type Planner struct {
	base    string
	allowed map[string]bool
}

// New creates a planner rooted at the author directory. types restricts
// which fetchable part types are downloaded; empty means all.
func New(base string, types []string) *Planner {
	var allowed map[string]bool
	if len(types) > 0 {
		allowed = map[string]bool{}
		for _, t := range types {
			allowed[t] = true
		}
	}
	return &Planner{base: base, allowed: allowed}
}

func (p *Planner) typeEnabled(partType string) bool {
	return p.allowed == nil || p.allowed[partType]
}

// SkipMarkerFilename, dropped by the user into a post folder, excludes that
// post from syncing. The marker is re-checked on every run so removing it
// re-enables the post.
const SkipMarkerFilename = ".boosty-skip"

// Skipped reports whether the post folder carries a user skip marker.
func (p *Planner) Skipped(post *models.Post) bool {
	if post.FolderName == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(p.base, post.FolderName, SkipMarkerFilename))
	return err == nil
}

// Build diffs the remote descriptor against the post record and rewrites
// the record's part list to the remote content order. The record must
// already carry its resolved folder name.
func (p *Planner) Build(remote feed.PostDescriptor, post *models.Post) *Plan {
	plan := &Plan{Post: post}

	matched := map[*models.Part]bool{}
	seen := map[string]bool{}
	newParts := make([]*models.Part, 0, len(remote.Parts))

	for _, rp := range remote.Parts {
		key := rp.Type + "\x00" + rp.RemoteRef
		if seen[key] {
			// Duplicate (type, remote_ref) pairs are disallowed; keep the
			// first occurrence.
			continue
		}
		seen[key] = true

		part := post.Part(rp.Type, rp.RemoteRef)
		if part == nil {
			part = &models.Part{
				PostID:      post.ID,
				Type:        rp.Type,
				RemoteRef:   rp.RemoteRef,
				Fingerprint: rp.Fingerprint,
				Title:       rp.Title,
				Content:     rp.Content,
				Status:      models.PartStatusMissing,
			}
			newParts = append(newParts, part)
			plan.Items = append(plan.Items, p.classifyNew(part, rp, plan))
			continue
		}

		matched[part] = true
		newParts = append(newParts, part)
		plan.Items = append(plan.Items, p.classifyKnown(part, rp, plan))
	}

	// Anything cached but gone from the remote descriptor was deleted by
	// the author and is evicted from disk and cache.
	for _, part := range post.Parts {
		if !matched[part] && !containsPart(newParts, part) {
			plan.Items = append(plan.Items, WorkItem{Part: part, Action: ActionEvict})
			plan.NeedsRender = true
		}
	}

	post.Parts = newParts
	post.Title = remote.Title
	post.UpdatedAt = remote.UpdatedAt

	return plan
}

func (p *Planner) classifyNew(part *models.Part, rp feed.PartDescriptor, plan *Plan) WorkItem {
	if !part.Fetchable() {
		// Text blocks materialize at render time.
		part.Status = models.PartStatusComplete
		plan.NeedsRender = true
		return WorkItem{Part: part, Descriptor: rp, Action: ActionSkip}
	}
	if !p.typeEnabled(part.Type) {
		return WorkItem{Part: part, Descriptor: rp, Action: ActionSkip}
	}
	plan.NeedsRender = true
	return WorkItem{Part: part, Descriptor: rp, Action: ActionFetch}
}

func (p *Planner) classifyKnown(part *models.Part, rp feed.PartDescriptor, plan *Plan) WorkItem {
	changed := part.Fingerprint != rp.Fingerprint

	if changed {
		part.Fingerprint = rp.Fingerprint
		part.Title = rp.Title
		part.Content = rp.Content
		part.FailureCount = 0

		if !part.Fetchable() {
			part.Status = models.PartStatusComplete
			plan.NeedsRender = true
			return WorkItem{Part: part, Descriptor: rp, Action: ActionSkip}
		}

		part.Status = models.PartStatusMissing
		if !p.typeEnabled(part.Type) {
			return WorkItem{Part: part, Descriptor: rp, Action: ActionSkip}
		}
		plan.NeedsRender = true
		return WorkItem{Part: part, Descriptor: rp, Action: ActionFetch}
	}

	if !part.Fetchable() || !p.typeEnabled(part.Type) {
		return WorkItem{Part: part, Descriptor: rp, Action: ActionSkip}
	}

	switch part.Status {
	case models.PartStatusComplete:
		if p.fileExists(plan.Post, part) {
			// Unchanged fingerprint with the file on disk: never refetched.
			return WorkItem{Part: part, Descriptor: rp, Action: ActionSkip}
		}
		// Self-healing read: the recorded status lied, refetch.
		part.Status = models.PartStatusMissing
		plan.NeedsRender = true
		return WorkItem{Part: part, Descriptor: rp, Action: ActionFetch}

	default:
		// missing, failed, or a fetch interrupted mid-flight. Failed parts
		// are always retried until they complete or the author removes them.
		plan.NeedsRender = true
		return WorkItem{Part: part, Descriptor: rp, Action: ActionFetch}
	}
}

func (p *Planner) fileExists(post *models.Post, part *models.Part) bool {
	if part.LocalPath == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(p.base, post.FolderName, part.LocalPath))
	return err == nil
}

func containsPart(parts []*models.Part, part *models.Part) bool {
	for _, p := range parts {
		if p == part {
			return true
		}
	}
	return false
}
