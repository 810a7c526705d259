// Package feed defines the remote feed contracts consumed by the sync
// engine: post/part descriptors, the content fetcher, and the paginator
// that walks the feed page by page.
package feed

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
)

// ErrEndOfFeed is returned by the paginator when the remote signals that no
// further pages exist. It is the pipeline's normal termination.
var ErrEndOfFeed = errors.New("feed: end of feed")

// PartDescriptor describes one content unit of a remote post. The sync
// engine treats it as an opaque typed reference with a fingerprint; it
// never interprets the content itself.
type PartDescriptor struct {
	// Type is one of the models.PartType* values.
	Type string
	// RemoteRef is an opaque identifier/URL sufficient to refetch the part.
	RemoteRef string
	// Fingerprint is a comparable value used for change detection. Only
	// equality is meaningful.
	Fingerprint string
	// Title is a display name used when deriving local filenames.
	Title string
	// Content carries the inline payload of text blocks.
	Content string
}

// PostDescriptor describes one remote post as reported by the feed.
type PostDescriptor struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
	HasAccess bool
	Parts     []PartDescriptor
}

// Page is one page of the remote feed. NextOffset is the cursor that
// resumes traversal after this page.
type Page struct {
	Posts      []PostDescriptor
	NextOffset string
	IsLast     bool
}

// ContentFetcher is the transport boundary of the engine. Implementations
// report failures through the errcodes taxonomy so the retry executor can
// distinguish transient from permanent errors.
type ContentFetcher interface {
	// FetchPage returns the page following the given offset. An empty
	// offset requests the first page.
	FetchPage(ctx context.Context, offset string, limit int) (*Page, error)
	// FetchPost returns the descriptor of a single post by its remote ID.
	FetchPost(ctx context.Context, postID string) (*PostDescriptor, error)
	// FetchPart streams the part's content and returns the fingerprint
	// observed at download time.
	FetchPart(ctx context.Context, part PartDescriptor) (io.ReadCloser, string, error)
}
