package models

import "github.com/uptrace/bun"

// Meta keys persisted in the sync_meta table.
const (
	MetaKeySchemaVersion    = "schema_version"
	MetaKeyPaginationCursor = "pagination_cursor"
)

// SyncMeta is a key/value row for store-wide state: the cache schema
// version and the pagination cursor.
type SyncMeta struct {
	bun.BaseModel `bun:"table:sync_meta,alias:m"`

	Key   string `bun:",pk" json:"key"`
	Value string `bun:",nullzero" json:"value"`
}
