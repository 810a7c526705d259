// Package boosty implements the feed contracts against the boosty.to HTTP
// API: it pages through an author's blog and streams post media, mapping
// transport failures onto the engine's error taxonomy.
package boosty

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/feed"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/version"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// DefaultBaseURL is the public boosty.to API root.
const DefaultBaseURL = "https://api.boosty.to/v1"

// Config carries the transport settings for one author.
type Config struct {
	BaseURL     string
	Author      string
	AccessToken string
	Cookie      string
	Timeout     time.Duration
}

// Client talks to the boosty.to API. It implements feed.ContentFetcher.
//
// File and audio URLs are only downloadable with the signed query the API
// attaches to each post; the client remembers the latest signed fetch URL
// per remote ref so FetchPart can resolve a stable ref to a live URL.
type Client struct {
	cfg  Config
	http *http.Client

	mu        sync.Mutex
	fetchURLs map[string]string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		fetchURLs: map[string]string{},
	}
}

// FetchPage requests one page of the author's post feed.
func (c *Client) FetchPage(ctx context.Context, offset string, limit int) (*feed.Page, error) {
	endpoint := fmt.Sprintf("%s/blog/%s/post/", c.cfg.BaseURL, url.PathEscape(c.cfg.Author))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	q := req.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if offset != "" {
		q.Set("offset", offset)
	}
	req.URL.RawQuery = q.Encode()
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errcodes.Transient(err, "request post feed")
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, "post feed"); err != nil {
		return nil, err
	}

	var raw postsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errcodes.Permanent(err, "decode post feed response")
	}

	page := &feed.Page{
		NextOffset: raw.Extra.Offset,
		IsLast:     raw.Extra.IsLast,
	}
	for _, rp := range raw.Data {
		post, fetchURLs := mapPost(rp)
		page.Posts = append(page.Posts, post)
		c.rememberFetchURLs(fetchURLs)
	}

	return page, nil
}

// FetchPost requests a single post by its ID.
func (c *Client) FetchPost(ctx context.Context, postID string) (*feed.PostDescriptor, error) {
	endpoint := fmt.Sprintf("%s/blog/%s/post/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Author), url.PathEscape(postID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errcodes.Transient(err, "request post")
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, "post"); err != nil {
		return nil, err
	}

	var raw rawPost
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errcodes.Permanent(err, "decode post response")
	}

	post, fetchURLs := mapPost(raw)
	c.rememberFetchURLs(fetchURLs)
	return &post, nil
}

// ParsePostID extracts the post ID from a boosty.to post URL. Anything that
// does not look like a post URL is returned unchanged, so a bare ID passes
// through.
func ParsePostID(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return s
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "posts" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return s
}

// FetchPart streams one part's bytes. The observed fingerprint is the
// response ETag, falling back to content length + last modified when the
// server provides no ETag.
func (c *Client) FetchPart(ctx context.Context, part feed.PartDescriptor) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fetchURL(part.RemoteRef), nil)
	if err != nil {
		return nil, "", errors.WithStack(err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", errcodes.Transient(err, "request part content")
	}

	if err := classifyStatus(resp.StatusCode, "part content"); err != nil {
		resp.Body.Close()
		return nil, "", err
	}

	return resp.Body, observedFingerprint(resp), nil
}

func observedFingerprint(resp *http.Response) string {
	if etag := resp.Header.Get("ETag"); etag != "" {
		return etag
	}
	length := resp.Header.Get("Content-Length")
	modified := resp.Header.Get("Last-Modified")
	if length == "" && modified == "" {
		return ""
	}
	return length + "/" + modified
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "boosty-downloader/"+version.Version)
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	if c.cfg.Cookie != "" {
		req.Header.Set("Cookie", c.cfg.Cookie)
	}
}

func (c *Client) rememberFetchURLs(urls map[string]string) {
	if len(urls) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for ref, u := range urls {
		c.fetchURLs[ref] = u
	}
}

func (c *Client) fetchURL(remoteRef string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u, ok := c.fetchURLs[remoteRef]; ok {
		return u
	}
	return remoteRef
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(status int, what string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errcodes.Unauthenticated(fmt.Sprintf("boosty rejected credentials while fetching %s (HTTP %d)", what, status))
	case status == http.StatusTooManyRequests || status >= 500:
		return errcodes.Transient(errors.Errorf("HTTP %d", status), "fetch "+what)
	default:
		return errcodes.Permanent(errors.Errorf("HTTP %d", status), "fetch "+what)
	}
}
