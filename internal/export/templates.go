package export

import (
	"bytes"
	"html/template"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(layout)
	},
}).Parse(documentLayout))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	Icon        string
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
	TextStyle   string
	Discussions []TemplateDiscussion
}

// TemplateDiscussion is one appended thread.
type TemplateDiscussion struct {
	Quote    string
	Resolved bool
	Comments []TemplateComment
}

type TemplateComment struct {
	Author    string
	TypeLabel string
	Body      string
	Edited    bool
	CreatedAt time.Time
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentLayout = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: {{if eq .TextStyle "SERIF"}}Georgia, serif{{else if eq .TextStyle "MONO"}}Menlo, monospace{{else}}Arial, sans-serif{{end}}; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1.title { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    pre { background: #f5f5f5; padding: 0.75rem; overflow-x: auto; }
    table { border-collapse: collapse; }
    td, th { border: 1px solid #ccc; padding: 0.25rem 0.5rem; }
    ins { background: #e6ffed; }
    del { background: #ffeef0; }
    aside { background: #f5f5f5; padding: 0.75rem; border-radius: 4px; }
    .discussion { background: #f9f9f9; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .discussion.resolved { border-left-color: #999; color: #555; }
    .quote { font-style: italic; color: #555; }
    .comment { margin-top: 0.5rem; }
    .comment-type { font-size: 0.8em; text-transform: uppercase; color: #888; }
  </style>
</head>
<body>
  <h1 class="title">{{if .Icon}}{{.Icon}} {{end}}{{.Title}}</h1>
  <div class="meta">{{.Author}}{{with formatDate .UpdatedAt "Jan 2, 2006"}} | {{.}}{{end}}</div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .Discussions}}
  <h2>Discussions</h2>
  {{range .Discussions}}
  <div class="discussion{{if .Resolved}} resolved{{end}}">
    {{if .Quote}}<p class="quote">&ldquo;{{.Quote}}&rdquo;</p>{{end}}
    {{range .Comments}}
    <div class="comment">
      <strong>{{.Author}}</strong> <span class="comment-type">{{.TypeLabel}}</span>
      {{with formatDate .CreatedAt "Jan 2, 2006 15:04"}}<span class="meta">{{.}}</span>{{end}}{{if .Edited}} <span class="meta">(edited)</span>{{end}}
      <p>{{.Body}}</p>
    </div>
    {{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
