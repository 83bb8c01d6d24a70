package export

import (
	"context"
	"fmt"
	"html/template"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"inkwell/api/internal/discussion"
	"inkwell/api/internal/slate"
	"inkwell/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListDiscussions(ctx context.Context, documentID string) ([]store.Discussion, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Converter turns a rendered HTML page into another format.
type Converter interface {
	Convert(ctx context.Context, html string) ([]byte, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, html string) ([]byte, error)

func (f ConverterFunc) Convert(ctx context.Context, html string) ([]byte, error) { return f(ctx, html) }

type output struct {
	ext       string
	mime      string
	converter Converter
}

// Service provides document export functionality
type Service struct {
	store   DataStore
	outputs map[Format]output
}

func NewService(store DataStore) *Service {
	return &Service{store: store, outputs: map[Format]output{
		FormatHTML: {ext: ".html", mime: "text/html; charset=utf-8"},
		FormatPDF:  {ext: ".pdf", mime: "application/pdf", converter: defaultChromePDF()},
		FormatDOCX: {ext: ".docx", mime: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", converter: &Pandoc{Binary: "pandoc"}},
	}}
}

// SetConverter replaces the converter used for a binary format.
func (s *Service) SetConverter(format Format, c Converter) {
	out := s.outputs[format]
	out.converter = c
	s.outputs[format] = out
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	format := req.Format
	if format == "" {
		format = FormatHTML
	}
	out, ok := s.outputs[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	var (
		doc         store.Document
		discussions []store.Discussion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		doc, err = s.store.GetDocument(gctx, req.DocumentID)
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		return nil
	})
	if req.IncludeDiscussions {
		g.Go(func() error {
			var err error
			discussions, err = s.store.ListDiscussions(gctx, req.DocumentID)
			if err != nil {
				return fmt.Errorf("list discussions: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nodes, err := slate.Parse(doc.ContentRich)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	visible := req.VisibleTypes
	if len(visible) == 0 {
		visible = discussion.DefaultVisibleTypes()
	}
	discussions = discussion.FilterByTypes(discussions, visible)

	names, err := s.userNames(ctx, doc.UserID, discussions)
	if err != nil {
		return nil, err
	}

	view := TemplateData{
		Title:       doc.Title,
		Icon:        doc.Icon,
		ContentHTML: template.HTML(SlateToHTML(nodes)),
		Author:      names[doc.UserID],
		UpdatedAt:   doc.UpdatedAt,
		TextStyle:   doc.TextStyle,
		Discussions: templateDiscussions(discussions, visible, names),
	}

	page, err := RenderDocumentHTML(view)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	data := []byte(page)
	if out.converter != nil {
		if data, err = out.converter.Convert(ctx, page); err != nil {
			return nil, err
		}
	}
	return &Result{Data: data, Filename: fileStem(doc.Title) + out.ext, MimeType: out.mime}, nil
}

// userNames resolves the owner and every comment author concurrently.
// Unknown users resolve to an empty name.
func (s *Service) userNames(ctx context.Context, ownerID string, discussions []store.Discussion) (map[string]string, error) {
	ids := []string{ownerID}
	for _, d := range discussions {
		for _, c := range d.Comments {
			if !slices.Contains(ids, c.UserID) {
				ids = append(ids, c.UserID)
			}
		}
	}

	var mu sync.Mutex
	names := make(map[string]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		if id == "" {
			continue
		}
		g.Go(func() error {
			user, err := s.store.GetUserByID(gctx, id)
			if err != nil {
				return nil
			}
			mu.Lock()
			names[id] = user.Name
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

func templateDiscussions(discussions []store.Discussion, visible []string, names map[string]string) []TemplateDiscussion {
	out := make([]TemplateDiscussion, 0, len(discussions))
	for _, d := range discussions {
		item := TemplateDiscussion{Quote: d.DocumentContent, Resolved: d.IsResolved}
		for _, c := range d.Comments {
			if !slices.Contains(visible, discussion.TypeOf(c)) {
				continue
			}
			body := c.Content
			if body == "" {
				body = slate.PlainTextFromRaw(c.ContentRich)
			}
			item.Comments = append(item.Comments, TemplateComment{
				Author:    names[c.UserID],
				TypeLabel: discussion.Label(c.CommentType),
				Body:      body,
				Edited:    c.IsEdited,
				CreatedAt: c.CreatedAt,
			})
		}
		out = append(out, item)
	}
	return out
}
