package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"inkwell/api/internal/discussion"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/search"
	"inkwell/api/internal/slate"
	"inkwell/api/internal/store"
	"inkwell/api/internal/suggestion"
	"inkwell/api/internal/util"
)

const (
	TextStyleDefault = "DEFAULT"
	TextStyleSerif   = "SERIF"
	TextStyleMono    = "MONO"
)

// DocumentInput is a partial document. Nil fields are left unchanged.
type DocumentInput struct {
	Title            *string         `json:"title"`
	ContentRich      json.RawMessage `json:"contentRich"`
	OrganizationID   *string         `json:"organizationId"`
	ParentDocumentID *string         `json:"parentDocumentId"`
	CoverImage       *string         `json:"coverImage"`
	Icon             *string         `json:"icon"`
	IsPublished      *bool           `json:"isPublished"`
	IsArchived       *bool           `json:"isArchived"`
	TextStyle        *string         `json:"textStyle"`
	SmallText        *bool           `json:"smallText"`
	FullWidth        *bool           `json:"fullWidth"`
	LockPage         *bool           `json:"lockPage"`
	TOC              *bool           `json:"toc"`
}

func (in DocumentInput) touchesContent() bool {
	return in.Title != nil || len(in.ContentRich) > 0
}

type ExportInput struct {
	Format             string
	IncludeDiscussions bool
	Types              []string
}

func validTextStyle(style string) bool {
	switch style {
	case TextStyleDefault, TextStyleSerif, TextStyleMono:
		return true
	default:
		return false
	}
}

func documentLocked() *DomainError {
	return domainError(http.StatusLocked, "DOCUMENT_LOCKED", "Document is locked", nil)
}

func documentPayload(doc store.Document, withContent bool) map[string]any {
	payload := map[string]any{
		"id":               doc.ID,
		"userId":           doc.UserID,
		"organizationId":   nilIfEmpty(doc.OrganizationID),
		"parentDocumentId": nilIfEmpty(doc.ParentDocumentID),
		"templateId":       nilIfEmpty(doc.TemplateID),
		"title":            doc.Title,
		"coverImage":       nilIfEmpty(doc.CoverImage),
		"icon":             nilIfEmpty(doc.Icon),
		"isPublished":      doc.IsPublished,
		"isArchived":       doc.IsArchived,
		"textStyle":        doc.TextStyle,
		"smallText":        doc.SmallText,
		"fullWidth":        doc.FullWidth,
		"lockPage":         doc.LockPage,
		"toc":              doc.TOC,
		"createdAt":        formatTime(doc.CreatedAt),
		"updatedAt":        formatTime(doc.UpdatedAt),
	}
	if withContent {
		payload["content"] = doc.Content
		rich := doc.ContentRich
		if len(rich) == 0 {
			rich = json.RawMessage("[]")
		}
		payload["contentRich"] = rich
	}
	return payload
}

func commitPayload(c store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      c.Hash,
		"shortHash": c.ShortHash,
		"message":   c.Message,
		"author":    c.Author,
		"email":     c.Email,
		"createdAt": formatTime(c.CreatedAt),
	}
}

func versionPayload(v store.DocumentVersion) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"documentId":  v.DocumentID,
		"userId":      v.UserID,
		"title":       v.Title,
		"contentRich": v.ContentRich,
		"commitHash":  nilIfEmpty(v.CommitHash),
		"createdAt":   formatTime(v.CreatedAt),
	}
}

// parseContent validates an editor value and returns its normalized form
// with the derived plain text.
func parseContent(raw json.RawMessage) ([]slate.Node, json.RawMessage, error) {
	nodes, err := slate.Parse(raw)
	if err != nil {
		return nil, nil, domainError(http.StatusBadRequest, "INVALID_CONTENT", "contentRich must be an array of editor nodes", nil)
	}
	normalized, err := slate.Marshal(nodes)
	if err != nil {
		return nil, nil, err
	}
	return nodes, normalized, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, filter store.DocumentFilter) (map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx, session.UserID, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc, false))
	}
	return map[string]any{"documents": items}, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": documentPayload(doc, true)}, nil
}

// requireOrgWrite checks that the caller may place documents in orgID.
func (s *Service) requireOrgWrite(ctx context.Context, session Session, orgID string) error {
	if orgID == "" || session.isSystemAdmin() {
		return nil
	}
	role, err := s.requireMember(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !rbac.Can(rbac.Role(role), rbac.ActionWrite) {
		return forbidden("You cannot create documents in this organization")
	}
	return nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input DocumentInput) (map[string]any, error) {
	now := s.now()
	doc := store.Document{
		ID:          util.NewID("doc"),
		UserID:      session.UserID,
		Title:       "Untitled",
		ContentRich: json.RawMessage("[]"),
		TextStyle:   TextStyleDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.OrganizationID != nil {
		if err := s.requireOrgWrite(ctx, session, *input.OrganizationID); err != nil {
			return nil, err
		}
	}
	if input.ParentDocumentID != nil && *input.ParentDocumentID != "" {
		parent, err := s.loadDocument(ctx, session, *input.ParentDocumentID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		if input.OrganizationID == nil {
			doc.OrganizationID = parent.OrganizationID
		}
	}
	if err := applyDocumentInput(&doc, input); err != nil {
		return nil, err
	}

	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.commitDocument(session, doc, "Create document")
	s.indexDocument(doc)
	return map[string]any{"document": documentPayload(doc, true)}, nil
}

// applyDocumentInput copies the set fields of input onto doc, deriving the
// plain text when the editor value changes.
func applyDocumentInput(doc *store.Document, input DocumentInput) error {
	if input.Title != nil {
		doc.Title = strings.TrimSpace(*input.Title)
		if doc.Title == "" {
			doc.Title = "Untitled"
		}
	}
	if len(input.ContentRich) > 0 {
		nodes, normalized, err := parseContent(input.ContentRich)
		if err != nil {
			return err
		}
		doc.ContentRich = normalized
		doc.Content = slate.PlainText(nodes)
	}
	if input.OrganizationID != nil {
		doc.OrganizationID = *input.OrganizationID
	}
	if input.ParentDocumentID != nil {
		if *input.ParentDocumentID == doc.ID {
			return validationError("A document cannot be its own parent")
		}
		doc.ParentDocumentID = *input.ParentDocumentID
	}
	if input.CoverImage != nil {
		doc.CoverImage = *input.CoverImage
	}
	if input.Icon != nil {
		doc.Icon = *input.Icon
	}
	if input.IsPublished != nil {
		doc.IsPublished = *input.IsPublished
	}
	if input.IsArchived != nil {
		doc.IsArchived = *input.IsArchived
	}
	if input.TextStyle != nil {
		style := strings.ToUpper(strings.TrimSpace(*input.TextStyle))
		if !validTextStyle(style) {
			return validationError("textStyle must be DEFAULT, SERIF or MONO")
		}
		doc.TextStyle = style
	}
	if input.SmallText != nil {
		doc.SmallText = *input.SmallText
	}
	if input.FullWidth != nil {
		doc.FullWidth = *input.FullWidth
	}
	if input.LockPage != nil {
		doc.LockPage = *input.LockPage
	}
	if input.TOC != nil {
		doc.TOC = *input.TOC
	}
	return nil
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input DocumentInput) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	unlocking := input.LockPage != nil && !*input.LockPage
	if doc.LockPage && input.touchesContent() && !unlocking {
		return nil, documentLocked()
	}
	if input.OrganizationID != nil && *input.OrganizationID != doc.OrganizationID {
		if err := s.requireOrgWrite(ctx, session, *input.OrganizationID); err != nil {
			return nil, err
		}
	}

	before := doc
	if err := applyDocumentInput(&doc, input); err != nil {
		return nil, err
	}
	doc.UpdatedAt = s.now()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if gitrepo.HasChanges(snapshot(before), snapshot(doc)) {
		s.commitDocument(session, doc, "Update document")
	}
	s.indexDocument(doc)
	if before.Title != doc.Title || before.OrganizationID != doc.OrganizationID || before.IsPublished != doc.IsPublished {
		s.reindexComments(ctx, doc)
	}
	return map[string]any{"document": documentPayload(doc, true)}, nil
}

// DeleteDocument removes the document with its files, history and search
// entries. Allowed for the owner, system admins and organization admins.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return err
	}
	allowed, err := s.canAdministerDocument(ctx, session, doc)
	if err != nil {
		return err
	}
	if !allowed {
		return forbidden("Only the owner or an organization admin can delete this document")
	}

	files, err := s.store.ListFiles(ctx, doc.ID)
	if err != nil {
		return err
	}
	discussions, err := s.store.ListDiscussions(ctx, doc.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	if s.files != nil {
		for _, f := range files {
			if err := s.files.Remove(ctx, f.ObjectKey); err != nil {
				s.logger.Warn("remove document file failed", zap.String("document_id", doc.ID), zap.String("key", f.ObjectKey), zap.Error(err))
			}
		}
	}
	if s.git != nil {
		if err := s.git.Remove(doc.ID); err != nil {
			s.logger.Warn("remove document repository failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	if s.search != nil {
		commentIDs := make([]string, 0)
		for _, d := range discussions {
			for _, c := range d.Comments {
				commentIDs = append(commentIDs, c.ID)
			}
		}
		s.search.DeleteDocument(doc.ID, commentIDs)
	}
	return nil
}

func snapshot(doc store.Document) gitrepo.Content {
	return gitrepo.Content{Title: doc.Title, ContentRich: doc.ContentRich}
}

func (s *Service) author(session Session) gitrepo.Author {
	return gitrepo.Author{Name: session.UserName, Email: session.Email}
}

// commitDocument records the document's snapshot in its history. Failures
// are logged; the database row stays authoritative.
func (s *Service) commitDocument(session Session, doc store.Document, message string) (store.CommitInfo, bool) {
	if s.git == nil {
		return store.CommitInfo{}, false
	}
	info, err := s.git.Commit(doc.ID, snapshot(doc), s.author(session), message)
	if err != nil {
		s.logger.Error("commit document failed", zap.String("document_id", doc.ID), zap.Error(err))
		return store.CommitInfo{}, false
	}
	return info, true
}

func documentRecord(doc store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:             doc.ID,
		Title:          doc.Title,
		Content:        doc.Content,
		OwnerID:        doc.UserID,
		OrganizationID: doc.OrganizationID,
		IsPublished:    doc.IsPublished,
	}
}

func commentRecord(doc store.Document, c store.Comment) search.CommentRecord {
	content := c.Content
	if content == "" {
		content = slate.PlainTextFromRaw(c.ContentRich)
	}
	return search.CommentRecord{
		ID:             c.ID,
		Content:        content,
		DiscussionID:   c.DiscussionID,
		DocumentID:     doc.ID,
		DocumentTitle:  doc.Title,
		UserID:         c.UserID,
		OwnerID:        doc.UserID,
		OrganizationID: doc.OrganizationID,
		IsPublished:    doc.IsPublished,
	}
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search != nil {
		s.search.IndexDocument(documentRecord(doc))
	}
}

// reindexComments refreshes the document fields copied onto its comments.
func (s *Service) reindexComments(ctx context.Context, doc store.Document) {
	if s.search == nil {
		return
	}
	discussions, err := s.store.ListDiscussions(ctx, doc.ID)
	if err != nil {
		s.logger.Warn("load comments for reindex failed", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}
	records := make([]search.CommentRecord, 0)
	for _, d := range discussions {
		for _, c := range d.Comments {
			records = append(records, commentRecord(doc, c))
		}
	}
	s.search.IndexComments(records...)
}

func (s *Service) History(ctx context.Context, session Session, documentID string, limit int) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0)
	if s.git != nil {
		commits, err := s.git.History(doc.ID, limit)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			items = append(items, commitPayload(c))
		}
	}
	return map[string]any{"documentId": doc.ID, "commits": items}, nil
}

// ContentAtRevision returns the snapshot stored in a commit or tag.
func (s *Service) ContentAtRevision(ctx context.Context, session Session, documentID, revision string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return nil, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	content, err := s.git.ContentAt(doc.ID, revision)
	if err != nil {
		s.logger.Debug("revision lookup failed", zap.String("document_id", doc.ID), zap.String("revision", revision), zap.Error(err))
		return nil, domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "Revision not found", nil)
	}
	rich := content.ContentRich
	if len(rich) == 0 {
		rich = json.RawMessage("[]")
	}
	return map[string]any{"revision": revision, "title": content.Title, "contentRich": rich}, nil
}

// CreateVersion stores a named version of the current content and tags the
// matching commit.
func (s *Service) CreateVersion(ctx context.Context, session Session, documentID, title string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	version := store.DocumentVersion{
		ID:          util.NewID("ver"),
		DocumentID:  doc.ID,
		UserID:      session.UserID,
		Title:       firstNonBlank(strings.TrimSpace(title), doc.Title),
		ContentRich: doc.ContentRich,
		CreatedAt:   s.now(),
	}
	if info, ok := s.commitDocument(session, doc, "Save version "+version.Title); ok {
		version.CommitHash = info.Hash
		if err := s.git.Tag(doc.ID, info.Hash, version.Title+" "+version.ID, s.author(session)); err != nil {
			s.logger.Warn("tag version failed", zap.String("document_id", doc.ID), zap.String("version_id", version.ID), zap.Error(err))
		}
	}
	if err := s.store.InsertDocumentVersion(ctx, version); err != nil {
		return nil, err
	}
	return map[string]any{"version": versionPayload(version)}, nil
}

func (s *Service) ListVersions(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListDocumentVersions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	return map[string]any{"versions": items}, nil
}

// RestoreVersion writes a named version back as the current content.
func (s *Service) RestoreVersion(ctx context.Context, session Session, documentID, versionID string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if doc.LockPage {
		return nil, documentLocked()
	}
	version, err := s.store.GetDocumentVersion(ctx, doc.ID, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", nil)
		}
		return nil, err
	}

	nodes, normalized, err := parseContent(version.ContentRich)
	if err != nil {
		return nil, err
	}
	doc.ContentRich = normalized
	doc.Content = slate.PlainText(nodes)
	doc.UpdatedAt = s.now()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	payload := map[string]any{"document": documentPayload(doc, true)}
	if info, ok := s.commitDocument(session, doc, "Restore version "+version.Title); ok {
		payload["commit"] = commitPayload(info)
	}
	s.indexDocument(doc)
	return payload, nil
}

func (s *Service) ExportDocument(ctx context.Context, session Session, documentID string, input ExportInput) (*export.Result, error) {
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "UNSUPPORTED_FORMAT", fmt.Sprintf("Unsupported export format: %s", input.Format), nil)
	}
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(input.Types))
	for _, t := range input.Types {
		if discussion.ValidType(t) {
			types = append(types, t)
		}
	}

	result, err := s.exporter.Export(ctx, export.Request{
		DocumentID:         doc.ID,
		Format:             format,
		IncludeDiscussions: input.IncludeDiscussions,
		VisibleTypes:       types,
	})
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	case errors.Is(err, export.ErrContentUnavailable):
		return nil, domainError(http.StatusUnprocessableEntity, "CONTENT_UNAVAILABLE", "Document content cannot be exported", nil)
	case err != nil:
		return nil, err
	}
	return result, nil
}

func (s *Service) ListSuggestions(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	nodes, err := slate.Parse(doc.ContentRich)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "CONTENT_UNAVAILABLE", "Document content is not a valid editor value", nil)
	}
	return map[string]any{"suggestions": suggestion.List(nodes)}, nil
}

// ResolveSuggestion accepts, rejects or applies one suggestion and saves the
// result as a new commit.
func (s *Service) ResolveSuggestion(ctx context.Context, session Session, documentID, suggestionID, action string) (map[string]any, error) {
	var transform func([]slate.Node, string) ([]slate.Node, error)
	switch action {
	case "accept":
		transform = suggestion.MarkAccepted
	case "reject":
		transform = suggestion.Reject
	case "apply":
		transform = suggestion.Apply
	default:
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionWrite)
	if err != nil {
		return nil, err
	}
	if doc.LockPage {
		return nil, documentLocked()
	}
	nodes, err := slate.Parse(doc.ContentRich)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "CONTENT_UNAVAILABLE", "Document content is not a valid editor value", nil)
	}
	next, err := transform(nodes, suggestionID)
	if errors.Is(err, suggestion.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "SUGGESTION_NOT_FOUND", "Suggestion not found", nil)
	}
	if err != nil {
		return nil, err
	}

	rich, err := slate.Marshal(next)
	if err != nil {
		return nil, err
	}
	doc.ContentRich = rich
	doc.Content = slate.PlainText(next)
	doc.UpdatedAt = s.now()
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.commitDocument(session, doc, fmt.Sprintf("%s suggestion %s", strings.ToUpper(action[:1])+action[1:], suggestionID))
	s.indexDocument(doc)
	return map[string]any{
		"document":    documentPayload(doc, true),
		"suggestions": suggestion.List(next),
	}, nil
}
