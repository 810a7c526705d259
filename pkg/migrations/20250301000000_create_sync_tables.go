package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(ctx context.Context, db *bun.DB) error {
		queries := []string{
			`CREATE TABLE IF NOT EXISTS sync_meta (
				key TEXT PRIMARY KEY,
				value TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS posts (
				id TEXT PRIMARY KEY,
				title TEXT,
				folder_name TEXT,
				created_at TIMESTAMP,
				updated_at TIMESTAMP,
				sync_state TEXT NOT NULL DEFAULT 'pending',
				first_seen_at TIMESTAMP,
				last_synced_at TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS parts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				post_id TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
				type TEXT NOT NULL,
				remote_ref TEXT NOT NULL,
				fingerprint TEXT,
				title TEXT,
				content TEXT,
				local_path TEXT,
				status TEXT NOT NULL DEFAULT 'missing',
				failure_count INTEGER NOT NULL DEFAULT 0,
				position INTEGER NOT NULL DEFAULT 0
			)`,
			// Parts are identified by (type, remote_ref) within a post.
			`CREATE UNIQUE INDEX IF NOT EXISTS parts_identity_idx
				ON parts (post_id, type, remote_ref)`,
			`CREATE INDEX IF NOT EXISTS parts_post_id_idx ON parts (post_id)`,
		}

		for _, q := range queries {
			if _, err := db.ExecContext(ctx, q); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	down := func(ctx context.Context, db *bun.DB) error {
		for _, q := range []string{
			`DROP TABLE IF EXISTS parts`,
			`DROP TABLE IF EXISTS posts`,
			`DROP TABLE IF EXISTS sync_meta`,
		} {
			if _, err := db.ExecContext(ctx, q); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
