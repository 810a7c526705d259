// Package cache implements the durable per-author store of post/part sync
// state. All reads and writes go through an in-memory view; Flush is the
// only point of durable I/O and commits in a single transaction, so a crash
// either sees the prior state or the new one, never a half-written record.
package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

// SchemaVersion is bumped whenever the persisted layout changes in a way
// older/newer binaries must not misinterpret. A mismatch fails closed.
const SchemaVersion = "1"

const (
	// DatabaseFilename is the SQLite cache inside the author directory.
	DatabaseFilename = "post_cache.db"
	// OffsetMarkerFilename is a single-line, human-inspectable mirror of the
	// pagination cursor, written after every successful flush.
	OffsetMarkerFilename = "sync_offset.txt"
)

// Store is the process-wide cache for one author. It follows a
// single-writer discipline: all mutations are serialized by the store's
// mutex, and reads hand out deep copies so planners can work on snapshots
// while fetches are in flight.
type Store struct {
	db  *bun.DB
	dir string

	mu          sync.Mutex
	posts       map[string]*models.Post
	dirty       map[string]struct{}
	cursor      string
	cursorDirty bool
}

// Open loads the durable state into memory. It fails closed with a
// CacheIncompatible error when the persisted schema version does not match
// this binary's; the caller decides whether to rebuild.
func Open(ctx context.Context, db *bun.DB, dir string) (*Store, error) {
	store := &Store{
		db:    db,
		dir:   dir,
		posts: map[string]*models.Post{},
		dirty: map[string]struct{}{},
	}

	meta := []*models.SyncMeta{}
	err := db.NewSelect().Model(&meta).Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	values := map[string]string{}
	for _, m := range meta {
		values[m.Key] = m.Value
	}

	if v, ok := values[models.MetaKeySchemaVersion]; ok {
		if v != SchemaVersion {
			return nil, errcodes.CacheIncompatible(v, SchemaVersion)
		}
	} else {
		// Fresh cache: stamp it with the current version.
		_, err = db.NewInsert().
			Model(&models.SyncMeta{Key: models.MetaKeySchemaVersion, Value: SchemaVersion}).
			Exec(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	store.cursor = values[models.MetaKeyPaginationCursor]

	posts := []*models.Post{}
	err = db.NewSelect().
		Model(&posts).
		Relation("Parts", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for _, post := range posts {
		store.posts[post.ID] = post
	}

	return store, nil
}

// Get returns a deep copy of the record for postID, or nil when the post
// has never been seen.
func (s *Store) Get(postID string) *models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[postID].Clone()
}

// Upsert replaces the in-memory record. The change becomes durable on the
// next Flush.
func (s *Store) Upsert(post *models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts[post.ID] = post.Clone()
	s.dirty[post.ID] = struct{}{}
}

// Cursor returns the offset of the last fully-processed page.
func (s *Store) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// AdvanceCursor records a new pagination offset. Callers must only advance
// after every post on the covered page reached a terminal state.
func (s *Store) AdvanceCursor(offset string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = offset
	s.cursorDirty = true
}

// Len returns the number of cached posts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// StateCounts returns the number of cached posts per sync state.
func (s *Store) StateCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[string]int{}
	for _, post := range s.posts {
		counts[post.SyncState]++
	}
	return counts
}

// Flush commits all pending changes in one transaction and then refreshes
// the human-inspectable offset marker. On error the durable state is left
// untouched and the pending set is preserved for a later retry.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 && !s.cursorDirty {
		return nil
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for id := range s.dirty {
			post := s.posts[id]

			// Replace the post row and its parts wholesale; the in-memory
			// record is the source of truth for everything but the key.
			if _, err := tx.NewDelete().Model((*models.Part)(nil)).Where("post_id = ?", id).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			if _, err := tx.NewDelete().Model((*models.Post)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			if _, err := tx.NewInsert().Model(post).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
			for i, part := range post.Parts {
				part.PostID = id
				part.Position = i
				part.ID = 0
			}
			if len(post.Parts) > 0 {
				if _, err := tx.NewInsert().Model(&post.Parts).Exec(ctx); err != nil {
					return errors.WithStack(err)
				}
			}
		}

		if s.cursorDirty {
			_, err := tx.NewInsert().
				Model(&models.SyncMeta{Key: models.MetaKeyPaginationCursor, Value: s.cursor}).
				On("CONFLICT (key) DO UPDATE").
				Set("value = EXCLUDED.value").
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	s.dirty = map[string]struct{}{}
	s.cursorDirty = false

	// The marker is advisory; a failure here must not fail the flush.
	s.writeOffsetMarker()

	return nil
}

func (s *Store) writeOffsetMarker() {
	path := filepath.Join(s.dir, OffsetMarkerFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(s.cursor+"\n"), 0644); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}

// Rebuild removes the cache database and offset marker for the author
// directory. It is an explicit, user-triggered operation used after a
// CacheIncompatible error.
func Rebuild(dir string) error {
	for _, name := range []string{
		DatabaseFilename,
		DatabaseFilename + "-wal",
		DatabaseFilename + "-shm",
		OffsetMarkerFilename,
	} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return errors.WithStack(err)
		}
	}
	return nil
}

// DatabasePath returns the cache database location for an author directory.
func DatabasePath(dir string) string {
	return filepath.Join(dir, DatabaseFilename)
}
