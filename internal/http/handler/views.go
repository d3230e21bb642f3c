package handler

import (
	"bytes"
	"html/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"pasteapi/internal/model"
	"pasteapi/internal/service"
)

const unknownField = "?"

const layoutTmpl = `{{define "listing"}}
<table>
  <thead><tr><th>Name</th><th>Size</th><th>Created</th><th>Origin</th></tr></thead>
  <tbody>
  {{- range .Rows}}
    <tr><td><a href="/posts/{{.Name}}">{{.Name}}</a></td><td>{{.Size}}</td><td title="{{.CreatedExact}}">{{.Created}}</td><td>{{.Origin}}</td></tr>
  {{- else}}
    <tr><td colspan="4">No posts yet.</td></tr>
  {{- end}}
  </tbody>
</table>
{{end}}`

var indexTmpl = template.Must(template.New("index").Parse(layoutTmpl + `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8" /><title>Posts</title></head>
<body>
<h1>Posts</h1>
{{template "listing" .}}
</body>
</html>`))

var postTmpl = template.Must(template.New("post").Parse(layoutTmpl + `<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8" /><title>{{.Post.Name}}</title></head>
<body>
<h1>{{.Post.Name}}</h1>
<p>{{.Post.Size}} &middot; <span title="{{.Post.CreatedExact}}">{{.Post.Created}}</span> &middot; {{.Post.Origin}} &middot; <a href="/posts/raw/{{.Post.Name}}">raw</a></p>
<pre>{{.Content}}</pre>
{{- if .Truncated}}
<p>Preview truncated, <a href="/posts/raw/{{.Post.Name}}">view the full post</a>.</p>
{{- end}}
<h2>All posts</h2>
{{template "listing" .}}
</body>
</html>`))

type postRow struct {
	Name         string
	Size         string
	Created      string
	CreatedExact string
	Origin       string
}

type indexPage struct {
	Rows []postRow
}

type postPage struct {
	Post      postRow
	Content   string
	Truncated bool
	Rows      []postRow
}

func newRow(p model.Post) postRow {
	if !p.Meta.Known {
		return postRow{Name: p.Name, Size: unknownField, Created: unknownField, CreatedExact: unknownField, Origin: unknownField}
	}
	return postRow{
		Name:         p.Name,
		Size:         humanize.IBytes(uint64(p.Meta.Size)),
		Created:      humanize.Time(p.Meta.CreatedAt),
		CreatedExact: p.Meta.CreatedAt.UTC().Format(time.RFC3339),
		Origin:       p.Meta.Origin,
	}
}

func newRows(posts []model.Post) []postRow {
	rows := make([]postRow, 0, len(posts))
	for _, p := range posts {
		rows = append(rows, newRow(p))
	}
	return rows
}

func newIndexPage(posts []model.Post) indexPage {
	return indexPage{Rows: newRows(posts)}
}

func newPostPage(view *service.PostView, posts []model.Post) postPage {
	return postPage{
		Post:      newRow(view.Post),
		Content:   string(view.Content),
		Truncated: view.Truncated,
		Rows:      newRows(posts),
	}
}

func renderHTML(c *fiber.Ctx, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}
