package models

import "github.com/uptrace/bun"

const (
	PartTypeVideo         = "video"
	PartTypeExternalVideo = "external_video_ref"
	PartTypeFile          = "file"
	PartTypeImage         = "image"
	PartTypeAudio         = "audio"
	PartTypeText          = "text_block"
)

const (
	PartStatusMissing  = "missing"
	PartStatusFetching = "fetching"
	PartStatusComplete = "complete"
	PartStatusFailed   = "failed"
)

// Part is one downloadable or renderable unit inside a post. Parts are
// identified by (type, remote ref) within their post; duplicates are
// rejected by a unique index.
type Part struct {
	bun.BaseModel `bun:"table:parts,alias:pt"`

	ID           int64  `bun:",pk,autoincrement" json:"id"`
	PostID       string `bun:",nullzero" json:"post_id"`
	Type         string `bun:",nullzero" json:"type"`
	RemoteRef    string `bun:",nullzero" json:"remote_ref"`
	Fingerprint  string `bun:",nullzero" json:"fingerprint"`
	Title        string `bun:",nullzero" json:"title,omitempty"`
	Content      string `bun:",nullzero" json:"content,omitempty"` // inline payload for text blocks
	LocalPath    string `bun:",nullzero" json:"local_path,omitempty"`
	Status       string `bun:",nullzero,default:'missing'" json:"status"`
	FailureCount int    `json:"failure_count"`
	Position     int    `json:"position"`
}

// Fetchable reports whether this part type is materialized through the
// content fetcher. Text blocks carry their payload inline and only
// participate in rendering and fingerprint diffing.
func (pt *Part) Fetchable() bool {
	return pt.Type != PartTypeText
}
