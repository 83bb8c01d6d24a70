package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"inkwell/api/internal/ai/provider"
	"inkwell/api/internal/ai/stream"
	"inkwell/api/internal/config"
	"inkwell/api/internal/email"
	"inkwell/api/internal/gitrepo"
	"inkwell/api/internal/oauth"
	"inkwell/api/internal/storage"
	"inkwell/api/internal/store"
)

var _ dataStore = (*memStore)(nil)

// memStore is an in-memory dataStore. Set pingErr to fail readiness checks.
type memStore struct {
	mu sync.Mutex

	users         map[string]store.User
	accounts      map[string]store.Account
	resets        map[string]string
	refresh       map[string]string
	revoked       map[string]bool
	verifications map[string]string
	orgs          map[string]store.Organization
	orgTypes      []store.OrganizationType
	members       map[string]store.Member
	invitations   map[string]store.Invitation
	documents     map[string]store.Document
	versions      map[string]store.DocumentVersion
	discussions   map[string]store.Discussion
	files         map[string]store.File

	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[string]store.User{},
		accounts:      map[string]store.Account{},
		resets:        map[string]string{},
		refresh:       map[string]string{},
		revoked:       map[string]bool{},
		verifications: map[string]string{},
		orgs:          map[string]store.Organization{},
		members:       map[string]store.Member{},
		invitations:   map[string]store.Invitation{},
		documents:     map[string]store.Document{},
		versions:      map[string]store.DocumentVersion{},
		discussions:   map[string]store.Discussion{},
		files:         map[string]store.File{},
	}
}

func memberKey(orgID, userID string) string { return orgID + "/" + userID }

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return store.ErrDuplicate
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *memStore) VerifyUserEmail(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if token != "" && u.VerificationToken == token {
			u.EmailVerified = true
			u.VerificationToken = ""
			m.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.PasswordHash = hash
	m.users[userID] = u
	return nil
}

func (m *memStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets[token] = userID
	return nil
}

func (m *memStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resets, token)
	return nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ store.SessionMeta, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[tokenHash] = userID
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refresh[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, tokenHash)
	return nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = true
	return nil
}

func (m *memStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[jti], nil
}

func (m *memStore) SaveVerification(_ context.Context, identifier, value string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications[identifier] = value
	return nil
}

func (m *memStore) ConsumeVerification(_ context.Context, identifier string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.verifications[identifier]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(m.verifications, identifier)
	return value, nil
}

func (m *memStore) ListUsers(context.Context) ([]store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetUserByAccount(_ context.Context, providerID, accountID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[providerID+"/"+accountID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return m.users[acc.UserID], nil
}

func (m *memStore) UpsertAccount(_ context.Context, acc store.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.ProviderID+"/"+acc.AccountID] = acc
	return nil
}

func (m *memStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Organization, 0, len(m.orgs))
	for _, o := range m.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) ListOrganizationsForUser(_ context.Context, userID string) ([]store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Organization
	for _, mem := range m.members {
		if mem.UserID == userID {
			out = append(out, m.orgs[mem.OrganizationID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) ListMembershipsForUser(_ context.Context, userID string) ([]store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Member
	for _, mem := range m.members {
		if mem.UserID == userID {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *memStore) GetOrganization(_ context.Context, id string) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return o, nil
}

func (m *memStore) GetOrganizationBySlug(_ context.Context, slug string) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orgs {
		if o.Slug == slug {
			return o, nil
		}
	}
	return store.Organization{}, sql.ErrNoRows
}

func (m *memStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := m.GetOrganizationBySlug(ctx, slug)
	return err == nil, nil
}

func (m *memStore) CreateOrganization(ctx context.Context, org store.Organization, owner store.Member) error {
	if exists, _ := m.SlugExists(ctx, org.Slug); exists {
		return store.ErrDuplicate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[org.ID] = org
	m.members[memberKey(org.ID, owner.UserID)] = owner
	return nil
}

func (m *memStore) UpdateOrganization(_ context.Context, id string, patch store.OrganizationPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orgs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if patch.Name != nil {
		o.Name = *patch.Name
	}
	if patch.Slug != nil {
		o.Slug = *patch.Slug
	}
	if patch.Logo != nil {
		o.Logo = *patch.Logo
	}
	if patch.Metadata != nil {
		o.Metadata = *patch.Metadata
	}
	if patch.TypeID != nil {
		o.TypeID = *patch.TypeID
	}
	m.orgs[id] = o
	return nil
}

func (m *memStore) DeleteOrganization(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, mem := range m.members {
		if mem.OrganizationID == id {
			delete(m.members, key)
		}
	}
	for key, inv := range m.invitations {
		if inv.OrganizationID == id {
			delete(m.invitations, key)
		}
	}
	delete(m.orgs, id)
	return nil
}

func (m *memStore) ListOrganizationTypes(context.Context) ([]store.OrganizationType, error) {
	return m.orgTypes, nil
}

func (m *memStore) GetMemberRole(_ context.Context, orgID, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberKey(orgID, userID)]
	if !ok {
		return "", sql.ErrNoRows
	}
	return mem.Role, nil
}

func (m *memStore) ListMembers(_ context.Context, orgID string) ([]store.MemberProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.MemberProfile
	for _, mem := range m.members {
		if mem.OrganizationID != orgID {
			continue
		}
		u := m.users[mem.UserID]
		out = append(out, store.MemberProfile{UserID: u.ID, Name: u.Name, Email: u.Email, Image: u.Image, Role: mem.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) AddMember(_ context.Context, mem store.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(mem.OrganizationID, mem.UserID)
	if _, ok := m.members[key]; ok {
		return store.ErrDuplicate
	}
	m.members[key] = mem
	return nil
}

func (m *memStore) UpdateMemberRole(_ context.Context, orgID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(orgID, userID)
	mem, ok := m.members[key]
	if !ok {
		return sql.ErrNoRows
	}
	mem.Role = role
	m.members[key] = mem
	return nil
}

func (m *memStore) RemoveMember(_ context.Context, orgID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(orgID, userID)
	if _, ok := m.members[key]; !ok {
		return sql.ErrNoRows
	}
	delete(m.members, key)
	return nil
}

func (m *memStore) CreateInvitation(_ context.Context, inv store.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invitations[inv.ID] = inv
	return nil
}

func (m *memStore) ListInvitations(_ context.Context, orgID string) ([]store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Invitation
	for _, inv := range m.invitations {
		if inv.OrganizationID == orgID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) ListInvitationsForEmail(_ context.Context, email string) ([]store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Invitation
	for _, inv := range m.invitations {
		if strings.EqualFold(inv.Email, email) && inv.Status == store.InvitationPending && inv.ExpiresAt.After(time.Now()) {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *memStore) GetInvitation(_ context.Context, id string) (store.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return store.Invitation{}, sql.ErrNoRows
	}
	return inv, nil
}

func (m *memStore) UpdateInvitationStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invitations[id]
	if !ok {
		return sql.ErrNoRows
	}
	inv.Status = status
	m.invitations[id] = inv
	return nil
}

func (m *memStore) ListDocuments(_ context.Context, userID string, filter store.DocumentFilter) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Document
	for _, d := range m.documents {
		_, member := m.members[memberKey(d.OrganizationID, userID)]
		if d.UserID != userID && !member {
			continue
		}
		if filter.OrganizationID != "" && d.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.ParentDocumentID != "" && d.ParentDocumentID != filter.ParentDocumentID {
			continue
		}
		if filter.Archived != nil && d.IsArchived != *filter.Archived {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return d, nil
}

func (m *memStore) InsertDocument(_ context.Context, d store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

func (m *memStore) UpdateDocument(_ context.Context, d store.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[d.ID]; !ok {
		return sql.ErrNoRows
	}
	m.documents[d.ID] = d
	return nil
}

func (m *memStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	return nil
}

func (m *memStore) InsertDocumentVersion(_ context.Context, v store.DocumentVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[v.ID] = v
	return nil
}

func (m *memStore) ListDocumentVersions(_ context.Context, documentID string) ([]store.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DocumentVersion
	for _, v := range m.versions {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) GetDocumentVersion(_ context.Context, documentID, versionID string) (store.DocumentVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok || v.DocumentID != documentID {
		return store.DocumentVersion{}, sql.ErrNoRows
	}
	return v, nil
}

func (m *memStore) ListDiscussions(_ context.Context, documentID string) ([]store.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Discussion
	for _, d := range m.discussions {
		if d.DocumentID == documentID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetDiscussion(_ context.Context, id string) (store.Discussion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return store.Discussion{}, sql.ErrNoRows
	}
	d.Comments = append([]store.Comment(nil), d.Comments...)
	return d, nil
}

func (m *memStore) InsertDiscussion(_ context.Context, d store.Discussion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discussions[d.ID] = d
	return nil
}

func (m *memStore) SetDiscussionResolved(_ context.Context, id string, resolved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[id]
	if !ok {
		return sql.ErrNoRows
	}
	d.IsResolved = resolved
	m.discussions[id] = d
	return nil
}

func (m *memStore) DeleteDiscussion(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.discussions, id)
	return nil
}

func (m *memStore) InsertComment(_ context.Context, c store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.discussions[c.DiscussionID]
	if !ok {
		return sql.ErrNoRows
	}
	d.Comments = append(d.Comments, c)
	m.discussions[d.ID] = d
	return nil
}

func (m *memStore) UpdateComment(_ context.Context, c store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.discussions[c.DiscussionID]
	for i := range d.Comments {
		if d.Comments[i].ID == c.ID {
			d.Comments[i] = c
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) DeleteComment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, d := range m.discussions {
		for i, c := range d.Comments {
			if c.ID == id {
				d.Comments = append(d.Comments[:i:i], d.Comments[i+1:]...)
				m.discussions[key] = d
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (m *memStore) InsertFile(_ context.Context, f store.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *memStore) GetFile(_ context.Context, id string) (store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return store.File{}, sql.ErrNoRows
	}
	return f, nil
}

func (m *memStore) ListFiles(_ context.Context, documentID string) ([]store.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.File
	for _, f := range m.files {
		if f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

type fakeFiles struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeFiles) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (storage.Object, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.Object{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return storage.Object{Key: key, Size: int64(len(data)), URL: "http://files.test/bucket/" + key}, nil
}

func (f *fakeFiles) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type sentMail struct {
	to   string
	link string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) IsConfigured() bool { return true }

func (f *fakeMailer) record(to, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, link: link})
	return nil
}

func (f *fakeMailer) SendVerificationEmail(to, _, link string) error  { return f.record(to, link) }
func (f *fakeMailer) SendPasswordResetEmail(to, _, link string) error { return f.record(to, link) }
func (f *fakeMailer) SendInvitationEmail(to string, data email.InvitationData) error {
	return f.record(to, data.AcceptURL)
}

type fakeGitHub struct {
	profile oauth.Profile
	err     error
}

func (f *fakeGitHub) AuthCodeURL(state string) string {
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(context.Context, string) (oauth.Profile, error) {
	return f.profile, f.err
}

// newTestService returns a service over ms with a real git history in a
// temporary directory.
func newTestService(t *testing.T, ms *memStore) *Service {
	t.Helper()
	svc := newService(config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		AppURL:         "http://app.test",
		DefaultOrgSlug: "all",
	}, ms, nil)
	svc.git = gitrepo.New(t.TempDir())
	return svc
}

func newTestServer(svc *Service) http.Handler {
	return NewHTTPServer(svc, "*", nil).Handler()
}

func addUser(t *testing.T, ms *memStore, id, name, email string) store.User {
	t.Helper()
	user := store.User{ID: id, Name: name, Email: email, EmailVerified: true, Role: "user"}
	if err := ms.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func addOrg(t *testing.T, ms *memStore, id, slug string, members map[string]string) {
	t.Helper()
	ms.orgs[id] = store.Organization{ID: id, Name: strings.ToUpper(slug), Slug: slug, CreatedAt: time.Now()}
	for userID, role := range members {
		ms.members[memberKey(id, userID)] = store.Member{ID: "mem-" + userID, UserID: userID, OrganizationID: id, Role: role}
	}
}

func tokenFor(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	session, err := svc.issueSession(context.Background(), user, store.SessionMeta{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
}

// staticProvider streams fixed text deltas.
type staticProvider struct {
	deltas []string
	got    provider.Request
}

func (p *staticProvider) Stream(_ context.Context, req provider.Request) (<-chan stream.Part, error) {
	p.got = req
	out := make(chan stream.Part, len(p.deltas)+1)
	for _, d := range p.deltas {
		out <- stream.TextPart(d)
	}
	out <- stream.FinishPart("stop", stream.Usage{})
	close(out)
	return out, nil
}

// fakeOpenAI streams like staticProvider and completes with gen.
type fakeOpenAI struct {
	staticProvider
	key     string
	gen     provider.Generation
	err     error
	request provider.CompletionRequest
}

func (p *fakeOpenAI) HasKey(requestKey string) bool { return requestKey != "" || p.key != "" }

func (p *fakeOpenAI) Complete(_ context.Context, req provider.CompletionRequest) (provider.Generation, error) {
	p.request = req
	return p.gen, p.err
}
