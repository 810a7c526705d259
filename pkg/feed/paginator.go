package feed

import (
	"context"

	"github.com/pkg/errors"
)

// Paginator walks the remote feed page by page starting from a persisted
// cursor. It does not persist anything itself; the caller advances the
// durable cursor only after a page's posts all reach a terminal state.
type Paginator struct {
	fetcher   ContentFetcher
	offset    string
	limit     int
	exhausted bool
}

// NewPaginator resumes feed traversal from the given cursor. An empty
// cursor starts from the beginning of the feed.
func NewPaginator(fetcher ContentFetcher, cursor string, limit int) *Paginator {
	return &Paginator{fetcher: fetcher, offset: cursor, limit: limit}
}

// Next fetches the next page, or ErrEndOfFeed when the remote reports no
// further pages. A page with fewer posts than requested is not an error:
// posts can be added or removed upstream between runs, so progress is
// counted in pages consumed, not post counts.
func (pg *Paginator) Next(ctx context.Context) (*Page, error) {
	if pg.exhausted {
		return nil, ErrEndOfFeed
	}

	page, err := pg.fetcher.FetchPage(ctx, pg.offset, pg.limit)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pg.offset = page.NextOffset
	if page.IsLast {
		pg.exhausted = true
	}

	// An empty final page terminates the walk immediately.
	if len(page.Posts) == 0 && page.IsLast {
		return nil, ErrEndOfFeed
	}

	return page, nil
}
