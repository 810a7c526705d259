package boosty

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/feed"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedFixture = `{
	"data": [
		{
			"id": "post-1",
			"title": "Hello",
			"createdAt": 1704067200,
			"updatedAt": 1704067200,
			"hasAccess": true,
			"signedQuery": "?sign=abc",
			"data": [
				{"type": "text", "content": "[\"Hello world\", \"unstyled\", []]", "modificator": ""},
				{"type": "header", "content": "[\"Section\", \"unstyled\", []]"},
				{"type": "image", "url": "https://images.test/a.jpg"},
				{"type": "video", "url": "https://youtu.be/xyz", "title": "Trailer"},
				{"type": "ok_video", "id": "vid-9", "title": "Stream", "playerUrls": [
					{"type": "hls", "url": "https://video.test/stream.m3u8"},
					{"type": "full_hd", "url": "https://video.test/full.mp4"},
					{"type": "low", "url": "https://video.test/low.mp4"}
				]},
				{"type": "file", "url": "https://files.test/doc.pdf", "title": "doc.pdf", "size": 123},
				{"type": "audio_file", "url": "https://files.test/song.mp3", "title": "song.mp3", "size": 456}
			]
		},
		{
			"id": "post-2",
			"title": "Locked",
			"createdAt": 1704153600,
			"hasAccess": false,
			"data": []
		}
	],
	"extra": {"offset": "1704067200:post-1", "isLast": false}
}`

func TestClient_FetchPage(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth, gotCookie, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		fmt.Fprint(w, feedFixture)
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:     srv.URL,
		Author:      "someauthor",
		AccessToken: "token123",
		Cookie:      "session=s1",
	})

	page, err := c.FetchPage(context.Background(), "prev-offset", 5)
	require.NoError(t, err)

	assert.Equal(t, "/blog/someauthor/post/", gotPath)
	assert.Contains(t, gotQuery, "limit=5")
	assert.Contains(t, gotQuery, "offset=prev-offset")
	assert.Equal(t, "Bearer token123", gotAuth)
	assert.Equal(t, "session=s1", gotCookie)

	assert.Equal(t, "1704067200:post-1", page.NextOffset)
	assert.False(t, page.IsLast)
	require.Len(t, page.Posts, 2)

	post := page.Posts[0]
	assert.Equal(t, "post-1", post.ID)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), post.CreatedAt)
	assert.True(t, post.HasAccess)

	require.Len(t, post.Parts, 7)
	assert.Equal(t, models.PartTypeText, post.Parts[0].Type)
	assert.Equal(t, "text-0", post.Parts[0].RemoteRef)
	assert.Equal(t, "<p>Hello world</p>", post.Parts[0].Content)
	assert.Equal(t, "<h2>Section</h2>", post.Parts[1].Content)
	assert.Equal(t, models.PartTypeImage, post.Parts[2].Type)
	assert.Equal(t, "https://images.test/a.jpg", post.Parts[2].RemoteRef)
	assert.Equal(t, models.PartTypeExternalVideo, post.Parts[3].Type)

	// Hosted video keeps the stable block ID as its ref, not the signed URL.
	video := post.Parts[4]
	assert.Equal(t, models.PartTypeVideo, video.Type)
	assert.Equal(t, "vid-9", video.RemoteRef)
	assert.Equal(t, "https://video.test/full.mp4", c.fetchURL("vid-9"))

	file := post.Parts[5]
	assert.Equal(t, models.PartTypeFile, file.Type)
	assert.Equal(t, "https://files.test/doc.pdf", file.RemoteRef)
	assert.Equal(t, "https://files.test/doc.pdf?sign=abc", c.fetchURL(file.RemoteRef))

	assert.Equal(t, models.PartTypeAudio, post.Parts[6].Type)

	locked := page.Posts[1]
	assert.False(t, locked.HasAccess)
	assert.Empty(t, locked.Parts)
}

func TestClient_FetchPost(t *testing.T) {
	t.Parallel()

	const postFixture = `{
		"id": "post-9",
		"title": "Single",
		"createdAt": 1704067200,
		"updatedAt": 1704067200,
		"hasAccess": true,
		"signedQuery": "?sign=xyz",
		"data": [
			{"type": "image", "url": "https://images.test/b.jpg"},
			{"type": "file", "url": "https://files.test/notes.pdf", "title": "notes.pdf", "size": 9}
		]
	}`

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, postFixture)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Author: "someauthor"})

	post, err := c.FetchPost(context.Background(), "post-9")
	require.NoError(t, err)

	assert.Equal(t, "/blog/someauthor/post/post-9", gotPath)
	assert.Equal(t, "post-9", post.ID)
	assert.Equal(t, "Single", post.Title)
	require.Len(t, post.Parts, 2)
	assert.Equal(t, models.PartTypeImage, post.Parts[0].Type)

	// The signed download URL is remembered just like on a page fetch.
	assert.Equal(t, "https://files.test/notes.pdf?sign=xyz", c.fetchURL("https://files.test/notes.pdf"))
}

func TestParsePostID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"abc-123", "abc-123"},
		{"https://boosty.to/someauthor/posts/abc-123", "abc-123"},
		{"https://boosty.to/someauthor/posts/abc-123?share=post_link", "abc-123"},
		{"https://boosty.to/someauthor", "https://boosty.to/someauthor"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePostID(tt.in))
		})
	}
}

func TestMapPost_FeedMarkupIsEscaped(t *testing.T) {
	t.Parallel()

	post, _ := mapPost(rawPost{
		ID: "p1",
		Data: []rawBlock{
			{Type: blockTypeLink, URL: `https://evil.test/"><script>alert(1)</script>`, Content: `["<b>click</b>"]`},
			{Type: blockTypeText, Content: `["a < b"]`},
		},
	})

	require.Len(t, post.Parts, 2)

	link := post.Parts[0].Content
	assert.NotContains(t, link, "<script>")
	assert.NotContains(t, link, "<b>")
	assert.Contains(t, link, "&lt;script&gt;")

	assert.Equal(t, "<p>a &lt; b</p>", post.Parts[1].Content)
}

func TestClient_FetchPage_FingerprintsAreStable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedFixture)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Author: "a"})

	first, err := c.FetchPage(context.Background(), "", 5)
	require.NoError(t, err)
	second, err := c.FetchPage(context.Background(), "", 5)
	require.NoError(t, err)

	for i := range first.Posts[0].Parts {
		assert.NotEmpty(t, first.Posts[0].Parts[i].Fingerprint)
		assert.Equal(t, first.Posts[0].Parts[i].Fingerprint, second.Posts[0].Parts[i].Fingerprint)
	}
}

func TestClient_FetchPage_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		kind   errcodes.Kind
	}{
		{http.StatusUnauthorized, errcodes.KindUnauthenticated},
		{http.StatusForbidden, errcodes.KindUnauthenticated},
		{http.StatusNotFound, errcodes.KindPermanent},
		{http.StatusTooManyRequests, errcodes.KindTransient},
		{http.StatusInternalServerError, errcodes.KindTransient},
		{http.StatusBadGateway, errcodes.KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("HTTP %d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL, Author: "a"})
			_, err := c.FetchPage(context.Background(), "", 5)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errcodes.KindOf(err))
		})
	}
}

func TestClient_FetchPart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/doc.pdf" && r.URL.RawQuery == "sign=abc" {
			w.Header().Set("ETag", `"etag-1"`)
			fmt.Fprint(w, "pdf bytes")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Author: "a"})
	ref := srv.URL + "/files/doc.pdf"
	c.rememberFetchURLs(map[string]string{ref: ref + "?sign=abc"})

	body, fingerprint, err := c.FetchPart(context.Background(), feed.PartDescriptor{RemoteRef: ref})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))
	assert.Equal(t, `"etag-1"`, fingerprint)
}

func TestClient_FetchPart_UnknownRefIsRequestedDirectly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "direct bytes")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Author: "a"})

	body, _, err := c.FetchPart(context.Background(), feed.PartDescriptor{RemoteRef: srv.URL + "/anything"})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "direct bytes", string(data))
}
