package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

type User struct {
	ID                    string
	Name                  string
	Email                 string
	EmailVerified         bool
	Image                 string
	Role                  string
	PasswordHash          string
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Account struct {
	ID          string
	UserID      string
	AccountID   string
	ProviderID  string
	AccessToken string
	Scope       string
}

// SessionMeta is the client information recorded alongside a refresh session.
type SessionMeta struct {
	IPAddress string
	UserAgent string
}

type OrganizationType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Organization struct {
	ID        string
	Name      string
	Slug      string
	Logo      string
	TypeID    string
	Metadata  string
	CreatedAt time.Time
}

// OrganizationPatch carries the optional fields of a partial update.
type OrganizationPatch struct {
	Name     *string
	Slug     *string
	Logo     *string
	Metadata *string
	TypeID   *string
}

type Member struct {
	ID             string
	UserID         string
	OrganizationID string
	Role           string
	CreatedAt      time.Time
}

// MemberProfile is a membership joined with the member's user record.
type MemberProfile struct {
	UserID string
	Name   string
	Email  string
	Image  string
	Role   string
}

type Invitation struct {
	ID             string
	Email          string
	OrganizationID string
	Role           string
	Status         string
	InviterID      string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRejected = "rejected"
	InvitationCanceled = "canceled"
)

type Document struct {
	ID               string
	UserID           string
	OrganizationID   string
	ParentDocumentID string
	TemplateID       string
	Title            string
	Content          string
	ContentRich      json.RawMessage
	CoverImage       string
	Icon             string
	IsPublished      bool
	IsArchived       bool
	TextStyle        string
	SmallText        bool
	FullWidth        bool
	LockPage         bool
	TOC              bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentFilter narrows ListDocuments. Empty fields are ignored.
type DocumentFilter struct {
	OrganizationID   string
	ParentDocumentID string
	Archived         *bool
}

type DocumentVersion struct {
	ID          string
	DocumentID  string
	UserID      string
	Title       string
	ContentRich json.RawMessage
	CommitHash  string
	CreatedAt   time.Time
}

type Discussion struct {
	ID                  string
	DocumentID          string
	UserID              string
	DocumentContent     string
	DocumentContentRich json.RawMessage
	IsResolved          bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Comments            []Comment
}

type Comment struct {
	ID           string
	DiscussionID string
	UserID       string
	Content      string
	ContentRich  json.RawMessage
	CommentType  string
	IsEdited     bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

type File struct {
	ID         string
	UserID     string
	DocumentID string
	ObjectKey  string
	Name       string
	Size       int64
	URL        string
	AppURL     string
	Type       string
	CreatedAt  time.Time
}

type CommitInfo struct {
	Hash      string
	ShortHash string
	Message   string
	Author    string
	Email     string
	CreatedAt time.Time
}
