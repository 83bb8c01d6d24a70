package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"inkwell/api/internal/discussion"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/search"
	"inkwell/api/internal/slate"
	"inkwell/api/internal/store"
)

type DiscussionInput struct {
	ContentRich         json.RawMessage `json:"contentRich"`
	CommentType         string          `json:"commentType"`
	DocumentContent     string          `json:"documentContent"`
	DocumentContentRich json.RawMessage `json:"documentContentRich"`
}

type CommentInput struct {
	ContentRich json.RawMessage `json:"contentRich"`
	CommentType string          `json:"commentType"`
}

func commentPayload(c store.Comment) map[string]any {
	var updated any
	if c.UpdatedAt != nil {
		updated = formatTime(*c.UpdatedAt)
	}
	return map[string]any{
		"id":           c.ID,
		"discussionId": c.DiscussionID,
		"userId":       c.UserID,
		"content":      c.Content,
		"contentRich":  c.ContentRich,
		"commentType":  discussion.TypeOf(c),
		"isEdited":     c.IsEdited,
		"createdAt":    formatTime(c.CreatedAt),
		"updatedAt":    updated,
	}
}

func discussionPayload(d store.Discussion) map[string]any {
	comments := make([]map[string]any, 0, len(d.Comments))
	for _, c := range d.Comments {
		comments = append(comments, commentPayload(c))
	}
	payload := map[string]any{
		"id":              d.ID,
		"documentId":      d.DocumentID,
		"userId":          d.UserID,
		"documentContent": d.DocumentContent,
		"isResolved":      d.IsResolved,
		"createdAt":       formatTime(d.CreatedAt),
		"updatedAt":       formatTime(d.UpdatedAt),
		"comments":        comments,
	}
	if len(d.DocumentContentRich) > 0 {
		payload["documentContentRich"] = d.DocumentContentRich
	}
	return payload
}

// commentContent validates a comment body and returns it normalized.
func commentContent(raw json.RawMessage) (json.RawMessage, error) {
	nodes, normalized, err := parseContent(raw)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, validationError("Comment content is required")
	}
	return normalized, nil
}

func commentType(value string) (string, error) {
	if value == "" {
		return discussion.TypeFormatting, nil
	}
	if !discussion.ValidType(value) {
		return "", validationError("Unknown comment type")
	}
	return value, nil
}

// loadDiscussion returns the discussion and its document when the caller
// may perform action on the document.
func (s *Service) loadDiscussion(ctx context.Context, session Session, discussionID string, action rbac.Action) (store.Discussion, store.Document, error) {
	d, err := s.store.GetDiscussion(ctx, discussionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Discussion{}, store.Document{}, domainError(http.StatusNotFound, "DISCUSSION_NOT_FOUND", "Discussion not found", nil)
		}
		return store.Discussion{}, store.Document{}, err
	}
	doc, err := s.loadDocument(ctx, session, d.DocumentID, action)
	if err != nil {
		return store.Discussion{}, store.Document{}, err
	}
	return d, doc, nil
}

func (s *Service) ListDiscussions(ctx context.Context, session Session, documentID string, types []string) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	discussions, err := s.store.ListDiscussions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(types) > 0 {
		discussions = discussion.FilterByTypes(discussions, types)
	}
	items := make([]map[string]any, 0, len(discussions))
	for _, d := range discussions {
		items = append(items, discussionPayload(d))
	}
	return map[string]any{"discussions": items}, nil
}

func (s *Service) CreateDiscussion(ctx context.Context, session Session, documentID string, input DiscussionInput) (map[string]any, error) {
	doc, err := s.loadDocument(ctx, session, documentID, rbac.ActionComment)
	if err != nil {
		return nil, err
	}
	content, err := commentContent(input.ContentRich)
	if err != nil {
		return nil, err
	}
	typ, err := commentType(input.CommentType)
	if err != nil {
		return nil, err
	}
	quote := input.DocumentContent
	if quote == "" && len(input.DocumentContentRich) > 0 {
		quote = slate.PlainTextFromRaw(input.DocumentContentRich)
	}

	d := discussion.New(discussion.NewParams{
		DocumentID:          doc.ID,
		UserID:              session.UserID,
		CommentType:         typ,
		ContentRich:         content,
		DocumentContent:     quote,
		DocumentContentRich: input.DocumentContentRich,
	})
	if err := s.store.InsertDiscussion(ctx, d); err != nil {
		return nil, err
	}
	s.indexComments(doc, d.Comments...)
	return map[string]any{"discussion": discussionPayload(d)}, nil
}

func (s *Service) ReplyDiscussion(ctx context.Context, session Session, discussionID string, input CommentInput) (map[string]any, error) {
	d, doc, err := s.loadDiscussion(ctx, session, discussionID, rbac.ActionComment)
	if err != nil {
		return nil, err
	}
	content, err := commentContent(input.ContentRich)
	if err != nil {
		return nil, err
	}
	typ, err := commentType(input.CommentType)
	if err != nil {
		return nil, err
	}

	c := discussion.NewComment(d.ID, session.UserID, typ, content)
	if err := s.store.InsertComment(ctx, c); err != nil {
		return nil, err
	}
	s.indexComments(doc, c)
	updated, _ := discussion.Find(discussion.AddComment([]store.Discussion{d}, d.ID, c), d.ID)
	return map[string]any{"comment": commentPayload(c), "discussion": discussionPayload(updated)}, nil
}

// UpdateComment edits a comment. Only its author may do so.
func (s *Service) UpdateComment(ctx context.Context, session Session, discussionID, commentID string, input CommentInput) (map[string]any, error) {
	d, doc, err := s.loadDiscussion(ctx, session, discussionID, rbac.ActionComment)
	if err != nil {
		return nil, err
	}
	existing, ok := discussion.FindComment(d, commentID)
	if !ok {
		return nil, domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil)
	}
	if existing.UserID != session.UserID {
		return nil, forbidden("You can only edit your own comments")
	}
	content, err := commentContent(input.ContentRich)
	if err != nil {
		return nil, err
	}

	updated, _ := discussion.Find(discussion.UpdateComment([]store.Discussion{d}, d.ID, commentID, content), d.ID)
	c, _ := discussion.FindComment(updated, commentID)
	if err := s.store.UpdateComment(ctx, c); err != nil {
		return nil, err
	}
	s.indexComments(doc, c)
	return map[string]any{"comment": commentPayload(c)}, nil
}

// DeleteComment removes a comment. Allowed for its author, the document
// owner and admins. Removing the last comment removes the discussion.
func (s *Service) DeleteComment(ctx context.Context, session Session, discussionID, commentID string) (map[string]any, error) {
	d, doc, err := s.loadDiscussion(ctx, session, discussionID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	existing, ok := discussion.FindComment(d, commentID)
	if !ok {
		return nil, domainError(http.StatusNotFound, "COMMENT_NOT_FOUND", "Comment not found", nil)
	}
	if existing.UserID != session.UserID {
		allowed, err := s.canAdministerDocument(ctx, session, doc)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, forbidden("You cannot delete this comment")
		}
	}

	remaining, _ := discussion.Find(discussion.DeleteComment([]store.Discussion{d}, d.ID, commentID), d.ID)
	if len(remaining.Comments) == 0 {
		if err := s.store.DeleteDiscussion(ctx, d.ID); err != nil {
			return nil, err
		}
		s.deleteComments(commentID)
		return map[string]any{"success": true, "discussionDeleted": true}, nil
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return nil, err
	}
	s.deleteComments(commentID)
	return map[string]any{"success": true, "discussionDeleted": false, "discussion": discussionPayload(remaining)}, nil
}

func (s *Service) SetDiscussionResolved(ctx context.Context, session Session, discussionID string, resolved bool) (map[string]any, error) {
	d, _, err := s.loadDiscussion(ctx, session, discussionID, rbac.ActionComment)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDiscussionResolved(ctx, d.ID, resolved); err != nil {
		return nil, err
	}
	updated, _ := discussion.Find(discussion.SetResolved([]store.Discussion{d}, d.ID, resolved), d.ID)
	updated.UpdatedAt = s.now()
	return map[string]any{"discussion": discussionPayload(updated)}, nil
}

// DeleteDiscussion is allowed for the discussion's author and document
// admins.
func (s *Service) DeleteDiscussion(ctx context.Context, session Session, discussionID string) error {
	d, doc, err := s.loadDiscussion(ctx, session, discussionID, rbac.ActionRead)
	if err != nil {
		return err
	}
	if d.UserID != session.UserID {
		allowed, err := s.canAdministerDocument(ctx, session, doc)
		if err != nil {
			return err
		}
		if !allowed {
			return forbidden("You cannot delete this discussion")
		}
	}
	if err := s.store.DeleteDiscussion(ctx, d.ID); err != nil {
		return err
	}
	ids := make([]string, 0, len(d.Comments))
	for _, c := range d.Comments {
		ids = append(ids, c.ID)
	}
	s.deleteComments(ids...)
	return nil
}

func (s *Service) CommentTypes() map[string]any {
	return map[string]any{
		"types":   discussion.CommentTypes,
		"default": discussion.DefaultVisibleTypes(),
	}
}

func (s *Service) indexComments(doc store.Document, comments ...store.Comment) {
	if s.search == nil || len(comments) == 0 {
		return
	}
	records := make([]search.CommentRecord, 0, len(comments))
	for _, c := range comments {
		records = append(records, commentRecord(doc, c))
	}
	s.search.IndexComments(records...)
}

func (s *Service) deleteComments(ids ...string) {
	if s.search != nil && len(ids) > 0 {
		s.search.DeleteComments(ids...)
	}
}
