package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inkwell/api/internal/email"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const invitationTTL = 48 * time.Hour

type OrganizationInput struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Slug     *string `json:"slug"`
	Logo     *string `json:"logo"`
	Metadata *string `json:"metadata"`
	TypeID   *string `json:"typeId"`
}

type MemberInput struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Role           string `json:"role"`
}

type InvitationInput struct {
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email"`
	Role           string `json:"role"`
}

func slugTaken() *DomainError {
	return domainError(http.StatusConflict, "SLUG_TAKEN", "This slug is already taken", nil)
}

func memberNotFound() *DomainError {
	return domainError(http.StatusNotFound, "MEMBER_NOT_FOUND", "Member not found in this organization", nil)
}

func organizationPayload(org store.Organization) map[string]any {
	return map[string]any{
		"id":        org.ID,
		"name":      org.Name,
		"slug":      org.Slug,
		"logo":      nilIfEmpty(org.Logo),
		"metadata":  nilIfEmpty(org.Metadata),
		"typeId":    nilIfEmpty(org.TypeID),
		"createdAt": formatTime(org.CreatedAt),
	}
}

func invitationPayload(inv store.Invitation) map[string]any {
	return map[string]any{
		"id":             inv.ID,
		"email":          inv.Email,
		"organizationId": inv.OrganizationID,
		"role":           inv.Role,
		"status":         inv.Status,
		"inviterId":      inv.InviterID,
		"expiresAt":      formatTime(inv.ExpiresAt),
		"createdAt":      formatTime(inv.CreatedAt),
	}
}

func (s *Service) ListOrganizations(ctx context.Context, session Session) (map[string]any, error) {
	orgs, err := s.store.ListOrganizationsForUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(orgs))
	for _, org := range orgs {
		items = append(items, organizationPayload(org))
	}
	return map[string]any{"organizations": items}, nil
}

// ListAllOrganizations returns every organization annotated with the
// caller's membership.
func (s *Service) ListAllOrganizations(ctx context.Context, session Session) (map[string]any, error) {
	var (
		orgs        []store.Organization
		memberships []store.Member
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orgs, err = s.store.ListOrganizations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		memberships, err = s.store.ListMembershipsForUser(gctx, session.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	roles := make(map[string]string, len(memberships))
	for _, m := range memberships {
		roles[m.OrganizationID] = m.Role
	}
	items := make([]map[string]any, 0, len(orgs))
	for _, org := range orgs {
		item := organizationPayload(org)
		role, ok := roles[org.ID]
		item["isMember"] = ok
		item["userRole"] = nilIfEmpty(role)
		items = append(items, item)
	}
	return map[string]any{"organizations": items}, nil
}

func (s *Service) CreateOrganization(ctx context.Context, session Session, input OrganizationInput) (map[string]any, error) {
	name := strings.TrimSpace(deref(input.Name))
	slug := strings.TrimSpace(deref(input.Slug))
	if name == "" || slug == "" {
		return nil, validationError("Name and slug are required")
	}
	exists, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, slugTaken()
	}

	org := store.Organization{
		ID:        util.NewID("org"),
		Name:      name,
		Slug:      slug,
		Logo:      deref(input.Logo),
		Metadata:  deref(input.Metadata),
		TypeID:    deref(input.TypeID),
		CreatedAt: s.now(),
	}
	owner := store.Member{
		ID:             util.NewID("mem"),
		UserID:         session.UserID,
		OrganizationID: org.ID,
		Role:           string(rbac.RoleOwner),
		CreatedAt:      org.CreatedAt,
	}
	if err := s.store.CreateOrganization(ctx, org, owner); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, slugTaken()
		}
		return nil, err
	}
	return map[string]any{"organization": organizationPayload(org)}, nil
}

func (s *Service) UpdateOrganization(ctx context.Context, session Session, input OrganizationInput) (map[string]any, error) {
	if input.ID == "" {
		return nil, validationError("Organization ID is required")
	}
	if err := s.requireOrgAdmin(ctx, session, input.ID, "You don't have permission to update this organization"); err != nil {
		return nil, err
	}

	if input.Slug != nil {
		slug := strings.TrimSpace(*input.Slug)
		if slug == "" {
			return nil, validationError("Slug cannot be empty")
		}
		input.Slug = &slug
		existing, err := s.store.GetOrganizationBySlug(ctx, slug)
		switch {
		case err == nil && existing.ID != input.ID:
			return nil, slugTaken()
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}
	}

	err := s.store.UpdateOrganization(ctx, input.ID, store.OrganizationPatch{
		Name:     input.Name,
		Slug:     input.Slug,
		Logo:     input.Logo,
		Metadata: input.Metadata,
		TypeID:   input.TypeID,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, slugTaken()
	}
	if err != nil {
		return nil, err
	}

	org, err := s.store.GetOrganization(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"organization": organizationPayload(org)}, nil
}

func (s *Service) DeleteOrganization(ctx context.Context, session Session, orgID string) error {
	if orgID == "" {
		return validationError("Organization ID is required")
	}
	if err := s.requireOrgAdmin(ctx, session, orgID, "You don't have permission to delete this organization"); err != nil {
		return err
	}
	return s.store.DeleteOrganization(ctx, orgID)
}

func (s *Service) CheckSlug(ctx context.Context, slug string) (map[string]any, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, validationError("Slug is required")
	}
	exists, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, slugTaken()
	}
	return map[string]any{"available": true}, nil
}

func (s *Service) ListOrganizationTypes(ctx context.Context) (map[string]any, error) {
	types, err := s.store.ListOrganizationTypes(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"types": types}, nil
}

func (s *Service) ListMembers(ctx context.Context, session Session, orgID string) (map[string]any, error) {
	if orgID == "" {
		return nil, validationError("Organization ID is required")
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Organization not found", nil)
		}
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, map[string]any{
			"id":    m.UserID,
			"name":  m.Name,
			"email": m.Email,
			"image": nilIfEmpty(m.Image),
			"role":  m.Role,
		})
	}
	return map[string]any{"members": items, "currentUserId": session.UserID}, nil
}

func validateMemberInput(input MemberInput) error {
	if input.UserID == "" || input.OrganizationID == "" || input.Role == "" {
		return validationError("User ID, organization ID, and role are required")
	}
	if !rbac.Valid(input.Role) {
		return validationError("Invalid role")
	}
	return nil
}

func (s *Service) AddMember(ctx context.Context, session Session, input MemberInput) (map[string]any, error) {
	if err := validateMemberInput(input); err != nil {
		return nil, err
	}
	if err := s.requireOrgAdmin(ctx, session, input.OrganizationID, "You don't have permission to add members"); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, input.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
		}
		return nil, err
	}

	member := store.Member{
		ID:             util.NewID("mem"),
		UserID:         input.UserID,
		OrganizationID: input.OrganizationID,
		Role:           input.Role,
		CreatedAt:      s.now(),
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "User is already a member of this organization", nil)
		}
		return nil, err
	}
	return map[string]any{"success": true, "member": map[string]any{
		"id":             member.ID,
		"userId":         member.UserID,
		"organizationId": member.OrganizationID,
		"role":           member.Role,
	}}, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, session Session, input MemberInput) (map[string]any, error) {
	if err := validateMemberInput(input); err != nil {
		return nil, err
	}
	if err := s.requireOrgAdmin(ctx, session, input.OrganizationID, "You don't have permission to change member roles"); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMemberRole(ctx, input.OrganizationID, input.UserID, input.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, memberNotFound()
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) RemoveMember(ctx context.Context, session Session, orgID, userID string) error {
	if orgID == "" || userID == "" {
		return validationError("Organization ID and user ID are required")
	}
	if err := s.requireOrgAdmin(ctx, session, orgID, "You don't have permission to remove members"); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, orgID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memberNotFound()
		}
		return err
	}
	return nil
}

func (s *Service) CreateInvitation(ctx context.Context, session Session, input InvitationInput) (map[string]any, error) {
	address := strings.ToLower(strings.TrimSpace(input.Email))
	if input.OrganizationID == "" || address == "" {
		return nil, validationError("Organization ID and email are required")
	}
	role := firstNonBlank(input.Role, string(rbac.RoleMember))
	if !rbac.Valid(role) {
		return nil, validationError("Invalid role")
	}
	if err := s.requireOrgAdmin(ctx, session, input.OrganizationID, "You don't have permission to invite members"); err != nil {
		return nil, err
	}
	org, err := s.store.GetOrganization(ctx, input.OrganizationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inv := store.Invitation{
		ID:             util.NewID("inv"),
		Email:          address,
		OrganizationID: org.ID,
		Role:           role,
		Status:         store.InvitationPending,
		InviterID:      session.UserID,
		ExpiresAt:      now.Add(invitationTTL),
		CreatedAt:      now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	if s.mailConfigured() {
		err := s.mailer.SendInvitationEmail(address, email.InvitationData{
			InviterName:      session.UserName,
			OrganizationName: org.Name,
			Role:             role,
			AcceptURL:        s.cfg.AppURL + "/invitations/" + inv.ID,
		})
		if err != nil {
			s.logger.Error("send invitation email failed", zap.String("invitation_id", inv.ID), zap.Error(err))
		}
	}
	return map[string]any{"invitation": invitationPayload(inv)}, nil
}

func (s *Service) ListInvitations(ctx context.Context, session Session, orgID string) (map[string]any, error) {
	if orgID == "" {
		return nil, validationError("Organization ID is required")
	}
	if _, err := s.requireMember(ctx, session, orgID); err != nil {
		return nil, err
	}
	invitations, err := s.store.ListInvitations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"invitations": invitationItems(invitations)}, nil
}

func (s *Service) CancelInvitation(ctx context.Context, session Session, invitationID string) error {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return err
	}
	if err := s.requireOrgAdmin(ctx, session, inv.OrganizationID, "You don't have permission to cancel invitations"); err != nil {
		return err
	}
	return s.store.UpdateInvitationStatus(ctx, inv.ID, store.InvitationCanceled)
}

func (s *Service) ListMyInvitations(ctx context.Context, session Session) (map[string]any, error) {
	invitations, err := s.store.ListInvitationsForEmail(ctx, strings.ToLower(session.Email))
	if err != nil {
		return nil, err
	}
	return map[string]any{"invitations": invitationItems(invitations)}, nil
}

// pendingInvitation loads an invitation addressed to the caller that can
// still be answered.
func (s *Service) pendingInvitation(ctx context.Context, session Session, invitationID string) (store.Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID)
	if err != nil {
		return store.Invitation{}, err
	}
	if !strings.EqualFold(inv.Email, session.Email) {
		return store.Invitation{}, forbidden("This invitation was sent to a different email")
	}
	if inv.Status != store.InvitationPending {
		return store.Invitation{}, domainError(http.StatusConflict, "INVITATION_NOT_PENDING", "Invitation is no longer pending", nil)
	}
	if !inv.ExpiresAt.After(s.now()) {
		return store.Invitation{}, domainError(http.StatusGone, "INVITATION_EXPIRED", "Invitation has expired", nil)
	}
	return inv, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, session Session, invitationID string) (map[string]any, error) {
	inv, err := s.pendingInvitation(ctx, session, invitationID)
	if err != nil {
		return nil, err
	}
	err = s.store.AddMember(ctx, store.Member{
		ID:             util.NewID("mem"),
		UserID:         session.UserID,
		OrganizationID: inv.OrganizationID,
		Role:           inv.Role,
		CreatedAt:      s.now(),
	})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return nil, err
	}
	if err := s.store.UpdateInvitationStatus(ctx, inv.ID, store.InvitationAccepted); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "organizationId": inv.OrganizationID, "role": inv.Role}, nil
}

func (s *Service) RejectInvitation(ctx context.Context, session Session, invitationID string) error {
	inv, err := s.pendingInvitation(ctx, session, invitationID)
	if err != nil {
		return err
	}
	return s.store.UpdateInvitationStatus(ctx, inv.ID, store.InvitationRejected)
}

func invitationItems(invitations []store.Invitation) []map[string]any {
	items := make([]map[string]any, 0, len(invitations))
	for _, inv := range invitations {
		items = append(items, invitationPayload(inv))
	}
	return items
}

func (s *Service) ListUsers(ctx context.Context) (map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, map[string]any{
			"id":    u.ID,
			"name":  u.Name,
			"email": u.Email,
			"image": nilIfEmpty(u.Image),
		})
	}
	return map[string]any{"users": items}, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
