// Package render writes the human-readable document for a synced post,
// stitching text blocks and downloaded media back together in the post's
// original content order.
package render

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/models"
	"github.com/pkg/errors"
)

// DocumentFilename is the per-post document written into the post folder.
const DocumentFilename = "post.html"

// Renderer produces the post document once a post reaches a terminal state.
type Renderer interface {
	Render(post *models.Post, dir string) error
}

type item struct {
	Kind      string
	Title     string
	Content   template.HTML
	LocalPath string
	RemoteRef string
}

type document struct {
	Title string
	Date  string
	Items []item
}

var documentTemplate = template.Must(template.New("post").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="date">{{.Date}}</p>
{{range .Items}}{{if eq .Kind "text"}}<div class="text">{{.Content}}</div>
{{else if eq .Kind "image"}}<figure><img src="{{.LocalPath}}" alt="{{.Title}}">{{if .Title}}<figcaption>{{.Title}}</figcaption>{{end}}</figure>
{{else if eq .Kind "external"}}<p class="external-video"><a href="{{.RemoteRef}}">{{if .Title}}{{.Title}}{{else}}{{.RemoteRef}}{{end}}</a></p>
{{else if eq .Kind "media"}}<p class="media"><a href="{{.LocalPath}}">{{if .Title}}{{.Title}}{{else}}{{.LocalPath}}{{end}}</a></p>
{{else}}<p class="unavailable">{{.Title}} (not downloaded)</p>
{{end}}{{end}}</body>
</html>
`))

// HTMLRenderer writes a standalone HTML document with relative links into
// the post folder, so the folder stays self-contained and portable.
type HTMLRenderer struct{}

func NewHTML() *HTMLRenderer {
	return &HTMLRenderer{}
}

func (r *HTMLRenderer) Render(post *models.Post, dir string) error {
	doc := document{
		Title: post.Title,
		Date:  post.CreatedAt.Format("2006-01-02"),
	}
	if doc.Title == "" {
		doc.Title = post.FolderName
	}

	for _, part := range post.Parts {
		doc.Items = append(doc.Items, renderItem(part))
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, doc); err != nil {
		return errors.WithStack(err)
	}

	path := filepath.Join(dir, DocumentFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(tmp, path))
}

func renderItem(part *models.Part) item {
	it := item{
		Title:     part.Title,
		LocalPath: filepath.ToSlash(part.LocalPath),
		RemoteRef: part.RemoteRef,
	}

	switch {
	case part.Type == models.PartTypeText:
		it.Kind = "text"
		// Text blocks carry markup from the feed itself.
		it.Content = template.HTML(part.Content)
	case part.Type == models.PartTypeExternalVideo:
		it.Kind = "external"
	case part.Status == models.PartStatusComplete && part.LocalPath != "":
		if part.Type == models.PartTypeImage {
			it.Kind = "image"
		} else {
			it.Kind = "media"
		}
	default:
		it.Kind = "unavailable"
		if it.Title == "" {
			it.Title = part.RemoteRef
		}
	}

	return it
}
