// Package discussion holds the pure list operations over document discussion
// threads. Every function returns a new slice and leaves its input untouched.
package discussion

import (
	"encoding/json"
	"slices"
	"time"

	"inkwell/api/internal/slate"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const (
	TypeFormatting   = "formatting"
	TypePreCommittee = "preCommittee"
	TypeCommittee    = "committee"
)

// CommentType is a comment category shown in the sidebar filter.
type CommentType struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CommentTypes lists the known types in display order.
var CommentTypes = []CommentType{
	{ID: TypeFormatting, Label: "Formatting"},
	{ID: TypePreCommittee, Label: "Pre-Committee"},
	{ID: TypeCommittee, Label: "Committee"},
}

// DefaultVisibleTypes is every known type.
func DefaultVisibleTypes() []string {
	ids := make([]string, len(CommentTypes))
	for i, t := range CommentTypes {
		ids[i] = t.ID
	}
	return ids
}

// ValidType reports whether id names a known comment type.
func ValidType(id string) bool {
	for _, t := range CommentTypes {
		if t.ID == id {
			return true
		}
	}
	return false
}

func typeOrDefault(commentType string) string {
	if commentType == "" {
		return TypeFormatting
	}
	return commentType
}

// TypeOf returns the comment's type, defaulting to formatting.
func TypeOf(c store.Comment) string {
	return typeOrDefault(c.CommentType)
}

// Label returns the display label of a comment type.
func Label(commentType string) string {
	id := typeOrDefault(commentType)
	for _, t := range CommentTypes {
		if t.ID == id {
			return t.Label
		}
	}
	return id
}

var now = func() time.Time { return time.Now().UTC() }

type NewParams struct {
	DocumentID          string
	UserID              string
	CommentType         string
	ContentRich         json.RawMessage
	DocumentContent     string
	DocumentContentRich json.RawMessage
}

// New builds an unresolved discussion holding its first comment.
func New(p NewParams) store.Discussion {
	id := util.NewID("dsc")
	created := now()
	first := NewComment(id, p.UserID, p.CommentType, p.ContentRich)
	first.CreatedAt = created
	return store.Discussion{
		ID:                  id,
		DocumentID:          p.DocumentID,
		UserID:              p.UserID,
		DocumentContent:     p.DocumentContent,
		DocumentContentRich: p.DocumentContentRich,
		IsResolved:          false,
		CreatedAt:           created,
		UpdatedAt:           created,
		Comments:            []store.Comment{first},
	}
}

// NewComment builds an unedited comment. Plain content is derived from the
// rich value.
func NewComment(discussionID, userID, commentType string, contentRich json.RawMessage) store.Comment {
	return store.Comment{
		ID:           util.NewID("cmt"),
		DiscussionID: discussionID,
		UserID:       userID,
		Content:      slate.PlainTextFromRaw(contentRich),
		ContentRich:  contentRich,
		CommentType:  typeOrDefault(commentType),
		IsEdited:     false,
		CreatedAt:    now(),
	}
}

func Add(discussions []store.Discussion, d store.Discussion) []store.Discussion {
	out := make([]store.Discussion, 0, len(discussions)+1)
	out = append(out, discussions...)
	return append(out, d)
}

func AddComment(discussions []store.Discussion, discussionID string, c store.Comment) []store.Discussion {
	return mapDiscussion(discussions, discussionID, func(d store.Discussion) store.Discussion {
		comments := make([]store.Comment, 0, len(d.Comments)+1)
		comments = append(comments, d.Comments...)
		d.Comments = append(comments, c)
		return d
	})
}

func UpdateComment(discussions []store.Discussion, discussionID, commentID string, contentRich json.RawMessage) []store.Discussion {
	return mapDiscussion(discussions, discussionID, func(d store.Discussion) store.Discussion {
		comments := make([]store.Comment, len(d.Comments))
		for i, c := range d.Comments {
			if c.ID == commentID {
				updated := now()
				c.ContentRich = contentRich
				c.Content = slate.PlainTextFromRaw(contentRich)
				c.IsEdited = true
				c.UpdatedAt = &updated
			}
			comments[i] = c
		}
		d.Comments = comments
		return d
	})
}

func DeleteComment(discussions []store.Discussion, discussionID, commentID string) []store.Discussion {
	return mapDiscussion(discussions, discussionID, func(d store.Discussion) store.Discussion {
		comments := make([]store.Comment, 0, len(d.Comments))
		for _, c := range d.Comments {
			if c.ID != commentID {
				comments = append(comments, c)
			}
		}
		d.Comments = comments
		return d
	})
}

func SetResolved(discussions []store.Discussion, discussionID string, resolved bool) []store.Discussion {
	return mapDiscussion(discussions, discussionID, func(d store.Discussion) store.Discussion {
		d.IsResolved = resolved
		return d
	})
}

// FilterByTypes keeps discussions with at least one comment whose type is in
// visible. A comment without a type counts as formatting.
func FilterByTypes(discussions []store.Discussion, visible []string) []store.Discussion {
	out := make([]store.Discussion, 0, len(discussions))
	for _, d := range discussions {
		if slices.ContainsFunc(d.Comments, func(c store.Comment) bool {
			return slices.Contains(visible, typeOrDefault(c.CommentType))
		}) {
			out = append(out, d)
		}
	}
	return out
}

// Find returns the discussion with id.
func Find(discussions []store.Discussion, id string) (store.Discussion, bool) {
	for _, d := range discussions {
		if d.ID == id {
			return d, true
		}
	}
	return store.Discussion{}, false
}

// FindComment returns the comment with commentID inside d.
func FindComment(d store.Discussion, commentID string) (store.Comment, bool) {
	for _, c := range d.Comments {
		if c.ID == commentID {
			return c, true
		}
	}
	return store.Comment{}, false
}

func mapDiscussion(discussions []store.Discussion, id string, fn func(store.Discussion) store.Discussion) []store.Discussion {
	out := make([]store.Discussion, len(discussions))
	for i, d := range discussions {
		if d.ID == id {
			d = fn(d)
		}
		out[i] = d
	}
	return out
}
