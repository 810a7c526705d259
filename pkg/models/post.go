package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	SyncStatePending         = "pending"
	SyncStateSynced          = "synced"
	SyncStatePartiallyFailed = "partially_failed"
	SyncStateSkippedByUser   = "skipped_by_user"
	SyncStateNoAccess        = "no_access"
)

// Post is the cached record of one remote post. The remote post ID is the
// only cache key; the folder name is derived state and may change between
// runs when the title changes upstream.
type Post struct {
	bun.BaseModel `bun:"table:posts,alias:p"`

	ID         string    `bun:",pk" json:"id"`
	Title      string    `bun:",nullzero" json:"title"`
	FolderName string    `bun:",nullzero" json:"folder_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	SyncState  string    `bun:",nullzero,default:'pending'" json:"sync_state"`
	Parts      []*Part   `bun:"rel:has-many,join:id=post_id" json:"parts,omitempty"`

	FirstSeenAt  time.Time  `json:"first_seen_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Terminal reports whether no further action is taken for this post in the
// current run.
func (p *Post) Terminal() bool {
	switch p.SyncState {
	case SyncStateSynced, SyncStatePartiallyFailed, SyncStateSkippedByUser, SyncStateNoAccess:
		return true
	}
	return false
}

// Part returns the part matching (type, remote ref), or nil.
func (p *Post) Part(partType, remoteRef string) *Part {
	for _, part := range p.Parts {
		if part.Type == partType && part.RemoteRef == remoteRef {
			return part
		}
	}
	return nil
}

// Clone returns a deep copy, used to hand out read snapshots while the
// cache store retains the single writable record.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Parts = make([]*Part, len(p.Parts))
	for i, part := range p.Parts {
		partCopy := *part
		cp.Parts[i] = &partCopy
	}
	return &cp
}
