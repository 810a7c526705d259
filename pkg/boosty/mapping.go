package boosty

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strconv"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/feed"
	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/segmentio/encoding/json"
)

type postsResponse struct {
	Data  []rawPost `json:"data"`
	Extra rawExtra  `json:"extra"`
}

type rawExtra struct {
	Offset string `json:"offset"`
	IsLast bool   `json:"isLast"`
}

type rawPost struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
	HasAccess   bool       `json:"hasAccess"`
	SignedQuery string     `json:"signedQuery"`
	Data        []rawBlock `json:"data"`
}

// rawBlock is the union of all data block shapes; Type picks which fields
// are meaningful.
type rawBlock struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Modificator string   `json:"modificator"`
	Size        int64    `json:"size"`
	PlayerURLs  []rawURL `json:"playerUrls"`
}

type rawURL struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Block types as reported by the API.
const (
	blockTypeText      = "text"
	blockTypeHeader    = "header"
	blockTypeList      = "list"
	blockTypeLink      = "link"
	blockTypeImage     = "image"
	blockTypeVideo     = "video"
	blockTypeOkVideo   = "ok_video"
	blockTypeFile      = "file"
	blockTypeAudioFile = "audio_file"
)

// videoQualityOrder lists hosted-video renditions from best to worst. Live
// and adaptive stream entries are not downloadable files and are ignored.
var videoQualityOrder = []string{
	"ultra_hd", "quad_hd", "full_hd", "high", "medium", "low", "tiny", "lowest",
}

// mapPost converts a raw API post into the engine's descriptor. The second
// return value maps stable remote refs to the signed URLs that can actually
// be downloaded right now.
func mapPost(rp rawPost) (feed.PostDescriptor, map[string]string) {
	post := feed.PostDescriptor{
		ID:        rp.ID,
		Title:     rp.Title,
		CreatedAt: time.Unix(rp.CreatedAt, 0).UTC(),
		UpdatedAt: time.Unix(rp.UpdatedAt, 0).UTC(),
		HasAccess: rp.HasAccess,
	}

	fetchURLs := map[string]string{}

	textIndex := 0
	for _, block := range rp.Data {
		switch block.Type {
		case blockTypeText, blockTypeHeader, blockTypeList:
			post.Parts = append(post.Parts, feed.PartDescriptor{
				Type: models.PartTypeText,
				// Text blocks carry no server-side ID; their position keeps
				// them distinct and the fingerprint detects edits.
				RemoteRef:   fmt.Sprintf("text-%d", textIndex),
				Fingerprint: fingerprint(block.Type, block.Content, block.Modificator),
				Content:     textBlockHTML(block),
			})
			textIndex++

		case blockTypeLink:
			post.Parts = append(post.Parts, feed.PartDescriptor{
				Type:        models.PartTypeText,
				RemoteRef:   fmt.Sprintf("text-%d", textIndex),
				Fingerprint: fingerprint(block.Type, block.URL, block.Content),
				Content:     fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(block.URL), html.EscapeString(linkText(block))),
			})
			textIndex++

		case blockTypeImage:
			post.Parts = append(post.Parts, feed.PartDescriptor{
				Type:        models.PartTypeImage,
				RemoteRef:   block.URL,
				Fingerprint: fingerprint(block.URL),
			})

		case blockTypeVideo:
			post.Parts = append(post.Parts, feed.PartDescriptor{
				Type:        models.PartTypeExternalVideo,
				RemoteRef:   block.URL,
				Fingerprint: fingerprint(block.URL),
				Title:       block.Title,
			})

		case blockTypeOkVideo:
			playable := bestVideoURL(block.PlayerURLs)
			if playable == "" {
				continue
			}
			ref := block.ID
			if ref == "" {
				ref = playable
			}
			post.Parts = append(post.Parts, feed.PartDescriptor{
				Type:      models.PartTypeVideo,
				RemoteRef: ref,
				// Hosted video URLs are signed and churn between requests;
				// the fingerprint sticks to the stable identity instead.
				Fingerprint: fingerprint(block.ID, block.Title),
				Title:       block.Title,
			})
			fetchURLs[ref] = playable

		case blockTypeFile, blockTypeAudioFile:
			partType := models.PartTypeFile
			if block.Type == blockTypeAudioFile {
				partType = models.PartTypeAudio
			}
			post.Parts = append(post.Parts, feed.PartDescriptor{
				Type:        partType,
				RemoteRef:   block.URL,
				Fingerprint: fingerprint(block.URL, strconv.FormatInt(block.Size, 10)),
				Title:       block.Title,
			})
			// Downloads require the per-post signed query appended.
			fetchURLs[block.URL] = block.URL + rp.SignedQuery
		}
	}

	return post, fetchURLs
}

// textBlockHTML renders one textual block to an HTML fragment. The API
// encodes text content as a JSON array whose first element is the string;
// the string is plain text, so any markup in it is escaped.
func textBlockHTML(block rawBlock) string {
	text := html.EscapeString(decodeTextContent(block.Content))
	switch block.Type {
	case blockTypeHeader:
		return "<h2>" + text + "</h2>"
	case blockTypeList:
		return "<ul><li>" + text + "</li></ul>"
	default:
		return "<p>" + text + "</p>"
	}
}

func linkText(block rawBlock) string {
	if text := decodeTextContent(block.Content); text != "" {
		return text
	}
	return block.URL
}

func decodeTextContent(content string) string {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(content), &parts); err == nil && len(parts) > 0 {
		var text string
		if err := json.Unmarshal(parts[0], &text); err == nil {
			return text
		}
	}
	return content
}

func bestVideoURL(urls []rawURL) string {
	byType := map[string]string{}
	for _, u := range urls {
		if u.URL != "" {
			byType[u.Type] = u.URL
		}
	}
	for _, quality := range videoQualityOrder {
		if u, ok := byType[quality]; ok {
			return u
		}
	}
	return ""
}

func fingerprint(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
