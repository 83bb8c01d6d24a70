package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const organizationColumns = `id, name, slug, COALESCE(logo, ''), COALESCE(type_id, ''), COALESCE(metadata, ''), created_at`

func scanOrganization(row rowScanner) (Organization, error) {
	var org Organization
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Logo, &org.TypeID, &org.Metadata, &org.CreatedAt); err != nil {
		return Organization{}, err
	}
	return org, nil
}

func collectOrganizations(rows *sql.Rows) ([]Organization, error) {
	defer rows.Close()
	orgs := make([]Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+organizationColumns+` FROM organizations ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return collectOrganizations(rows)
}

func (s *PostgresStore) ListOrganizationsForUser(ctx context.Context, userID string) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixColumns("o", organizationColumns)+`
		FROM organizations o
		JOIN members m ON m.organization_id = o.id
		WHERE m.user_id=$1
		ORDER BY o.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user organizations: %w", err)
	}
	return collectOrganizations(rows)
}

func (s *PostgresStore) ListMembershipsForUser(ctx context.Context, userID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, organization_id, role, created_at FROM members WHERE user_id=$1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE id=$1`, orgID))
}

func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE slug=$1`, slug))
}

func (s *PostgresStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE slug=$1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// CreateOrganization inserts the organization and its owner membership in one
// transaction.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization, owner Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create organization: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, logo, type_id, metadata) VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, org.Slug, nullString(org.Logo), nullString(org.TypeID), nullString(org.Metadata)); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert organization: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO members (id, user_id, organization_id, role) VALUES ($1, $2, $3, $4)
	`, owner.ID, owner.UserID, org.ID, owner.Role); err != nil {
		return fmt.Errorf("insert owner member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, orgID string, patch OrganizationPatch) error {
	sets := make([]string, 0, 5)
	args := []any{orgID}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, nullString(*value))
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	add("name", patch.Name)
	add("slug", patch.Slug)
	add("logo", patch.Logo)
	add("metadata", patch.Metadata)
	add("type_id", patch.TypeID)
	if len(sets) == 0 {
		return nil
	}

	result, err := s.db.ExecContext(ctx, `UPDATE organizations SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update organization: %w", err)
	}
	return requireAffected(result)
}

// DeleteOrganization removes the organization. Members and invitations go
// with it by cascade; documents are detached.
func (s *PostgresStore) DeleteOrganization(ctx context.Context, orgID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete organization: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET organization_id=NULL WHERE organization_id=$1`, orgID); err != nil {
		return fmt.Errorf("detach documents: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM organizations WHERE id=$1`, orgID)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrganizationTypes(ctx context.Context) ([]OrganizationType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, slug FROM organization_types ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list organization types: %w", err)
	}
	defer rows.Close()

	types := make([]OrganizationType, 0)
	for rows.Next() {
		var t OrganizationType
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug); err != nil {
			return nil, fmt.Errorf("scan organization type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// GetMemberRole returns sql.ErrNoRows when the user is not a member.
func (s *PostgresStore) GetMemberRole(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM members WHERE organization_id=$1 AND user_id=$2
	`, orgID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]MemberProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, COALESCE(u.image, ''), m.role
		FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id=$1
		ORDER BY u.name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]MemberProfile, 0)
	for rows.Next() {
		var m MemberProfile
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &m.Image, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, user_id, organization_id, role) VALUES ($1, $2, $3, $4)
	`, member.ID, member.UserID, member.OrganizationID, member.Role)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE members SET role=$3 WHERE organization_id=$1 AND user_id=$2
	`, orgID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE organization_id=$1 AND user_id=$2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return requireAffected(result)
}

const invitationColumns = `id, email, organization_id, role, status, COALESCE(inviter_id, ''), expires_at, created_at`

func scanInvitation(row rowScanner) (Invitation, error) {
	var inv Invitation
	err := row.Scan(&inv.ID, &inv.Email, &inv.OrganizationID, &inv.Role, &inv.Status, &inv.InviterID, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return Invitation{}, err
	}
	return inv, nil
}

func collectInvitations(rows *sql.Rows) ([]Invitation, error) {
	defer rows.Close()
	invitations := make([]Invitation, 0)
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

func (s *PostgresStore) CreateInvitation(ctx context.Context, inv Invitation) error {
	status := inv.Status
	if status == "" {
		status = InvitationPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, email, organization_id, role, status, inviter_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, strings.TrimSpace(inv.Email), inv.OrganizationID, inv.Role, status, nullString(inv.InviterID), inv.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInvitations(ctx context.Context, orgID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations WHERE organization_id=$1 ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return collectInvitations(rows)
}

// ListInvitationsForEmail returns pending, unexpired invitations addressed to
// email.
func (s *PostgresStore) ListInvitationsForEmail(ctx context.Context, email string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE LOWER(email)=LOWER($1) AND status=$2 AND expires_at > $3
		ORDER BY created_at DESC
	`, strings.TrimSpace(email), InvitationPending, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list invitations for email: %w", err)
	}
	return collectInvitations(rows)
}

func (s *PostgresStore) GetInvitation(ctx context.Context, invitationID string) (Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=$1`, invitationID))
}

func (s *PostgresStore) UpdateInvitationStatus(ctx context.Context, invitationID, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE invitations SET status=$2 WHERE id=$1`, invitationID, status)
	if err != nil {
		return fmt.Errorf("update invitation status: %w", err)
	}
	return requireAffected(result)
}
