package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/ai/provider"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/oauth"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/search"
	"inkwell/api/internal/session"
	"inkwell/api/internal/storage"
	"inkwell/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) isSystemAdmin() bool {
	return s.Role == rbac.SystemAdmin
}

type dataStore interface {
	authpw.UserStore
	session.Store
	Ping(context.Context) error
	ListUsers(context.Context) ([]store.User, error)
	GetUserByAccount(context.Context, string, string) (store.User, error)
	UpsertAccount(context.Context, store.Account) error

	ListOrganizations(context.Context) ([]store.Organization, error)
	ListOrganizationsForUser(context.Context, string) ([]store.Organization, error)
	ListMembershipsForUser(context.Context, string) ([]store.Member, error)
	GetOrganization(context.Context, string) (store.Organization, error)
	GetOrganizationBySlug(context.Context, string) (store.Organization, error)
	SlugExists(context.Context, string) (bool, error)
	CreateOrganization(context.Context, store.Organization, store.Member) error
	UpdateOrganization(context.Context, string, store.OrganizationPatch) error
	DeleteOrganization(context.Context, string) error
	ListOrganizationTypes(context.Context) ([]store.OrganizationType, error)
	GetMemberRole(context.Context, string, string) (string, error)
	ListMembers(context.Context, string) ([]store.MemberProfile, error)
	AddMember(context.Context, store.Member) error
	UpdateMemberRole(context.Context, string, string, string) error
	RemoveMember(context.Context, string, string) error
	CreateInvitation(context.Context, store.Invitation) error
	ListInvitations(context.Context, string) ([]store.Invitation, error)
	ListInvitationsForEmail(context.Context, string) ([]store.Invitation, error)
	GetInvitation(context.Context, string) (store.Invitation, error)
	UpdateInvitationStatus(context.Context, string, string) error

	ListDocuments(context.Context, string, store.DocumentFilter) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocument(context.Context, store.Document) error
	DeleteDocument(context.Context, string) error
	InsertDocumentVersion(context.Context, store.DocumentVersion) error
	ListDocumentVersions(context.Context, string) ([]store.DocumentVersion, error)
	GetDocumentVersion(context.Context, string, string) (store.DocumentVersion, error)

	ListDiscussions(context.Context, string) ([]store.Discussion, error)
	GetDiscussion(context.Context, string) (store.Discussion, error)
	InsertDiscussion(context.Context, store.Discussion) error
	SetDiscussionResolved(context.Context, string, bool) error
	DeleteDiscussion(context.Context, string) error
	InsertComment(context.Context, store.Comment) error
	UpdateComment(context.Context, store.Comment) error
	DeleteComment(context.Context, string) error

	InsertFile(context.Context, store.File) error
	GetFile(context.Context, string) (store.File, error)
	ListFiles(context.Context, string) ([]store.File, error)
	DeleteFile(context.Context, string) error
}

type gitService interface {
	Commit(string, gitrepo.Content, gitrepo.Author, string) (store.CommitInfo, error)
	ContentAt(string, string) (gitrepo.Content, error)
	History(string, int) ([]store.CommitInfo, error)
	Tag(string, string, string, gitrepo.Author) error
	Remove(string) error
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	IndexComments(...search.CommentRecord)
	DeleteDocument(string, []string)
	DeleteComments(...string)
}

type fileStorage interface {
	Put(context.Context, string, io.Reader, int64, string) (storage.Object, error)
	Remove(context.Context, string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInvitationEmail(to string, data email.InvitationData) error
}

type githubOAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (oauth.Profile, error)
}

// completer is the non-streaming side of the OpenAI provider.
type completer interface {
	HasKey(requestKey string) bool
	Complete(context.Context, provider.CompletionRequest) (provider.Generation, error)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Dependencies are the optional backends wired at startup. Nil entries
// disable the matching feature.
type Dependencies struct {
	Sessions  session.Store
	Git       *gitrepo.Service
	Search    *search.Service
	Files     *storage.MinIO
	Mailer    *email.Service
	GitHub    *oauth.GitHub
	Providers *provider.Registry
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  session.Store
	passwords *authpw.Service
	git       gitService
	search    searchIndex
	files     fileStorage
	mailer    mailer
	github    githubOAuth
	providers *provider.Registry
	exporter  exporter
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	s := newService(cfg, dataStore, deps.Logger)
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	if deps.Git != nil {
		s.git = deps.Git
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Files != nil {
		s.files = deps.Files
	}
	if deps.Mailer != nil {
		s.mailer = deps.Mailer
	}
	if deps.GitHub != nil {
		s.github = deps.GitHub
	}
	if deps.Providers != nil {
		s.providers = deps.Providers
	}
	return s
}

func newService(cfg config.Config, ds dataStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     ds,
		sessions:  ds,
		passwords: authpw.NewService(ds),
		exporter:  export.NewService(ds),
		providers: provider.NewRegistryWith(map[string]provider.Provider{}),
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) mailConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) issueSession(ctx context.Context, user store.User, meta store.SessionMeta) (Session, error) {
	claims := auth.NewClaims(user.ID, user.Name, user.Email, user.Role, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewOpaqueToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, meta, s.now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         claims.Role,
		JTI:          claims.ID,
		ExpiresAt:    claims.Expiry(),
	}, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta store.SessionMeta) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user, meta)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	role := user.Role
	if role == "" {
		role = claims.Role
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      role,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token failed", zap.Error(err))
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh session failed", zap.Error(err))
		}
	}
	return nil
}

// loadDocument returns the document when the caller may perform action on
// it. Owners and system admins may do anything; organization members get
// what their role allows; published documents are readable and commentable
// by everyone.
func (s *Service) loadDocument(ctx context.Context, session Session, documentID string, action rbac.Action) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, domainError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found", nil)
		}
		return store.Document{}, err
	}
	if doc.UserID == session.UserID || session.isSystemAdmin() {
		return doc, nil
	}
	if doc.OrganizationID != "" {
		role, err := s.store.GetMemberRole(ctx, doc.OrganizationID, session.UserID)
		switch {
		case err == nil:
			if rbac.Can(rbac.Role(role), action) {
				return doc, nil
			}
		case !errors.Is(err, sql.ErrNoRows):
			return store.Document{}, err
		}
	}
	if doc.IsPublished && (action == rbac.ActionRead || action == rbac.ActionComment) {
		return doc, nil
	}
	return store.Document{}, forbidden("You do not have access to this document")
}

// canAdministerDocument reports whether the caller may delete the document
// or moderate its discussions.
func (s *Service) canAdministerDocument(ctx context.Context, session Session, doc store.Document) (bool, error) {
	if doc.UserID == session.UserID || session.isSystemAdmin() {
		return true, nil
	}
	if doc.OrganizationID == "" {
		return false, nil
	}
	role, err := s.store.GetMemberRole(ctx, doc.OrganizationID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rbac.HasAdminPermissions(role), nil
}

// requireOrgAdmin fails with 403 unless the caller is an admin or owner of
// the organization.
func (s *Service) requireOrgAdmin(ctx context.Context, session Session, orgID, message string) error {
	role, err := s.store.GetMemberRole(ctx, orgID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return forbidden(message)
	}
	if err != nil {
		return err
	}
	if !rbac.HasAdminPermissions(role) {
		return forbidden(message)
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, session Session, orgID string) (string, error) {
	role, err := s.store.GetMemberRole(ctx, orgID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", forbidden("You are not a member of this organization")
	}
	return role, err
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
