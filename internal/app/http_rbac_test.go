package app

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"inkwell/api/internal/store"
)

func TestCreateOrganizationMakesCallerOwner(t *testing.T) {
	ms := newMemStore()
	user := addUser(t, ms, "usr-1", "Avery", "avery@example.com")
	svc := newTestService(t, ms)
	server := newTestServer(svc)
	token := tokenFor(t, svc, user)

	rr := doJSON(t, server, http.MethodPost, "/api/organizations", token, map[string]string{"name": "Acme", "slug": "acme"})
	expectStatus(t, rr, http.StatusCreated)
	org, _ := decodeJSON(t, rr)["organization"].(map[string]any)
	orgID, _ := org["id"].(string)
	if orgID == "" {
		t.Fatalf("expected organization id, got %v", org)
	}
	role, err := ms.GetMemberRole(context.Background(), orgID, user.ID)
	if err != nil || role != "owner" {
		t.Fatalf("expected owner membership, got %q err=%v", role, err)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/organizations", token, map[string]string{"name": "Other", "slug": "acme"})
	expectStatus(t, rr, http.StatusConflict)
	if msg, _ := decodeJSON(t, rr)["error"].(string); msg != "This slug is already taken" {
		t.Fatalf("unexpected message %q", msg)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/organizations", token, map[string]string{"name": "No slug"})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = doJSON(t, server, http.MethodGet, "/api/organizations/check-slug?slug=acme", token, nil)
	expectStatus(t, rr, http.StatusConflict)
	rr = doJSON(t, server, http.MethodGet, "/api/organizations/check-slug?slug=free", token, nil)
	expectStatus(t, rr, http.StatusOK)
	rr = doJSON(t, server, http.MethodGet, "/api/organizations/check-slug", token, nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestOrganizationAdminChecks(t *testing.T) {
	ms := newMemStore()
	owner := addUser(t, ms, "usr-owner", "Owner", "owner@example.com")
	member := addUser(t, ms, "usr-member", "Member", "member@example.com")
	outsider := addUser(t, ms, "usr-out", "Outsider", "out@example.com")
	addOrg(t, ms, "org-1", "acme", map[string]string{owner.ID: "owner", member.ID: "member"})
	addOrg(t, ms, "org-2", "taken", nil)
	svc := newTestService(t, ms)
	server := newTestServer(svc)

	memberToken := tokenFor(t, svc, member)
	ownerToken := tokenFor(t, svc, owner)

	rr := doJSON(t, server, http.MethodPut, "/api/organizations", memberToken, map[string]string{"id": "org-1", "name": "Renamed"})
	expectStatus(t, rr, http.StatusForbidden)

	rr = doJSON(t, server, http.MethodPut, "/api/organizations", ownerToken, map[string]string{"id": "org-1", "slug": "taken"})
	expectStatus(t, rr, http.StatusConflict)

	rr = doJSON(t, server, http.MethodPut, "/api/organizations", ownerToken, map[string]string{"id": "org-1", "name": "Renamed"})
	expectStatus(t, rr, http.StatusOK)
	org, _ := decodeJSON(t, rr)["organization"].(map[string]any)
	if org["name"] != "Renamed" || org["slug"] != "acme" {
		t.Fatalf("expected partial update, got %v", org)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/organizations/members", memberToken, map[string]string{
		"userId": outsider.ID, "organizationId": "org-1", "role": "member",
	})
	expectStatus(t, rr, http.StatusForbidden)

	rr = doJSON(t, server, http.MethodPost, "/api/organizations/members", ownerToken, map[string]string{
		"userId": outsider.ID, "organizationId": "org-1", "role": "superuser",
	})
	expectStatus(t, rr, http.StatusBadRequest)

	rr = doJSON(t, server, http.MethodPost, "/api/organizations/members", ownerToken, map[string]string{
		"userId": outsider.ID, "organizationId": "org-1", "role": "member",
	})
	expectStatus(t, rr, http.StatusCreated)

	rr = doJSON(t, server, http.MethodPost, "/api/organizations/members", ownerToken, map[string]string{
		"userId": outsider.ID, "organizationId": "org-1", "role": "member",
	})
	expectStatus(t, rr, http.StatusConflict)

	rr = doJSON(t, server, http.MethodPut, "/api/organizations/members", ownerToken, map[string]string{
		"userId": "usr-missing", "organizationId": "org-1", "role": "admin",
	})
	expectStatus(t, rr, http.StatusNotFound)
	if msg, _ := decodeJSON(t, rr)["error"].(string); msg != "Member not found in this organization" {
		t.Fatalf("unexpected message %q", msg)
	}

	rr = doJSON(t, server, http.MethodPut, "/api/organizations/members", ownerToken, map[string]string{
		"userId": member.ID, "organizationId": "org-1", "role": "admin",
	})
	expectStatus(t, rr, http.StatusOK)

	rr = doJSON(t, server, http.MethodDelete, "/api/organizations/members?organizationId=org-1&userId="+outsider.ID, memberToken, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = doJSON(t, server, http.MethodDelete, "/api/organizations/members?organizationId=org-1&userId="+outsider.ID, memberToken, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestListMembersAndAllOrganizations(t *testing.T) {
	ms := newMemStore()
	owner := addUser(t, ms, "usr-owner", "Owner", "owner@example.com")
	addOrg(t, ms, "org-1", "acme", map[string]string{owner.ID: "owner"})
	addOrg(t, ms, "org-2", "other", nil)
	svc := newTestService(t, ms)
	server := newTestServer(svc)
	token := tokenFor(t, svc, owner)

	rr := doJSON(t, server, http.MethodGet, "/api/organizations/members", token, nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = doJSON(t, server, http.MethodGet, "/api/organizations/members?organizationId=org-x", token, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = doJSON(t, server, http.MethodGet, "/api/organizations/members?organizationId=org-1", token, nil)
	expectStatus(t, rr, http.StatusOK)
	payload := decodeJSON(t, rr)
	members, _ := payload["members"].([]any)
	if len(members) != 1 || payload["currentUserId"] != owner.ID {
		t.Fatalf("unexpected members payload %v", payload)
	}
	first, _ := members[0].(map[string]any)
	if first["id"] != owner.ID || first["role"] != "owner" {
		t.Fatalf("member id must be the user id, got %v", first)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/organizations/list", token, nil)
	expectStatus(t, rr, http.StatusOK)
	orgs, _ := decodeJSON(t, rr)["organizations"].([]any)
	if len(orgs) != 2 {
		t.Fatalf("expected every organization, got %v", orgs)
	}
	for _, raw := range orgs {
		org, _ := raw.(map[string]any)
		switch org["id"] {
		case "org-1":
			if org["isMember"] != true || org["userRole"] != "owner" {
				t.Fatalf("unexpected membership annotation %v", org)
			}
		case "org-2":
			if org["isMember"] != false || org["userRole"] != nil {
				t.Fatalf("unexpected membership annotation %v", org)
			}
		}
	}

	rr = doJSON(t, server, http.MethodGet, "/api/organizations", token, nil)
	expectStatus(t, rr, http.StatusOK)
	mine, _ := decodeJSON(t, rr)["organizations"].([]any)
	if len(mine) != 1 {
		t.Fatalf("expected only member organizations, got %v", mine)
	}
}

func TestDeleteOrganizationRemovesMembersAndInvitations(t *testing.T) {
	ms := newMemStore()
	owner := addUser(t, ms, "usr-owner", "Owner", "owner@example.com")
	addOrg(t, ms, "org-1", "acme", map[string]string{owner.ID: "owner"})
	ms.invitations["inv-1"] = store.Invitation{ID: "inv-1", OrganizationID: "org-1", Email: "x@example.com", Status: store.InvitationPending}
	svc := newTestService(t, ms)
	server := newTestServer(svc)

	rr := doJSON(t, server, http.MethodDelete, "/api/organizations?id=org-1", tokenFor(t, svc, owner), nil)
	expectStatus(t, rr, http.StatusOK)
	if len(ms.orgs) != 0 || len(ms.members) != 0 || len(ms.invitations) != 0 {
		t.Fatalf("expected organization, members and invitations to be removed")
	}
}

func TestInvitationLifecycle(t *testing.T) {
	ms := newMemStore()
	owner := addUser(t, ms, "usr-owner", "Owner", "owner@example.com")
	invitee := addUser(t, ms, "usr-invitee", "Invitee", "invitee@example.com")
	stranger := addUser(t, ms, "usr-stranger", "Stranger", "stranger@example.com")
	addOrg(t, ms, "org-1", "acme", map[string]string{owner.ID: "owner"})
	mail := &fakeMailer{}
	svc := newTestService(t, ms)
	svc.mailer = mail
	server := newTestServer(svc)
	ownerToken := tokenFor(t, svc, owner)
	inviteeToken := tokenFor(t, svc, invitee)

	rr := doJSON(t, server, http.MethodPost, "/api/organizations/invitations", inviteeToken, map[string]string{
		"organizationId": "org-1", "email": invitee.Email,
	})
	expectStatus(t, rr, http.StatusForbidden)

	rr = doJSON(t, server, http.MethodPost, "/api/organizations/invitations", ownerToken, map[string]string{
		"organizationId": "org-1", "email": "Invitee@Example.com",
	})
	expectStatus(t, rr, http.StatusCreated)
	inv, _ := decodeJSON(t, rr)["invitation"].(map[string]any)
	invID, _ := inv["id"].(string)
	if inv["role"] != "member" || inv["status"] != "pending" || inv["email"] != invitee.Email {
		t.Fatalf("unexpected invitation %v", inv)
	}
	if len(mail.sent) != 1 || !strings.HasSuffix(mail.sent[0].link, "/invitations/"+invID) {
		t.Fatalf("expected invitation email, got %+v", mail.sent)
	}
	if got := ms.invitations[invID].ExpiresAt.Sub(ms.invitations[invID].CreatedAt); got != 48*time.Hour {
		t.Fatalf("expected 48h expiry, got %s", got)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/invitations", inviteeToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if mine, _ := decodeJSON(t, rr)["invitations"].([]any); len(mine) != 1 {
		t.Fatalf("expected one pending invitation, got %v", mine)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/organizations/invitations?organizationId=org-1", inviteeToken, nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = doJSON(t, server, http.MethodPost, "/api/invitations/"+invID+"/accept", tokenFor(t, svc, stranger), nil)
	expectStatus(t, rr, http.StatusForbidden)

	rr = doJSON(t, server, http.MethodPost, "/api/invitations/"+invID+"/accept", inviteeToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if role, err := ms.GetMemberRole(context.Background(), "org-1", invitee.ID); err != nil || role != "member" {
		t.Fatalf("expected invitee to join, got %q err=%v", role, err)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/invitations/"+invID+"/reject", inviteeToken, nil)
	expectStatus(t, rr, http.StatusConflict)

	rr = doJSON(t, server, http.MethodGet, "/api/organizations/invitations?organizationId=org-1", inviteeToken, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestExpiredAndCanceledInvitations(t *testing.T) {
	ms := newMemStore()
	owner := addUser(t, ms, "usr-owner", "Owner", "owner@example.com")
	invitee := addUser(t, ms, "usr-invitee", "Invitee", "invitee@example.com")
	addOrg(t, ms, "org-1", "acme", map[string]string{owner.ID: "owner"})
	ms.invitations["inv-old"] = store.Invitation{
		ID: "inv-old", OrganizationID: "org-1", Email: invitee.Email, Role: "member",
		Status: store.InvitationPending, ExpiresAt: time.Now().Add(-time.Hour),
	}
	ms.invitations["inv-new"] = store.Invitation{
		ID: "inv-new", OrganizationID: "org-1", Email: invitee.Email, Role: "admin",
		Status: store.InvitationPending, ExpiresAt: time.Now().Add(time.Hour),
	}
	svc := newTestService(t, ms)
	server := newTestServer(svc)
	inviteeToken := tokenFor(t, svc, invitee)

	rr := doJSON(t, server, http.MethodPost, "/api/invitations/inv-old/accept", inviteeToken, nil)
	expectStatus(t, rr, http.StatusGone)
	if code, _ := decodeJSON(t, rr)["code"].(string); code != "INVITATION_EXPIRED" {
		t.Fatalf("expected INVITATION_EXPIRED, got %q", code)
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/organizations/invitations?id=inv-new", tokenFor(t, svc, owner), nil)
	expectStatus(t, rr, http.StatusOK)
	if ms.invitations["inv-new"].Status != store.InvitationCanceled {
		t.Fatalf("expected canceled status, got %q", ms.invitations["inv-new"].Status)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/invitations/inv-new/reject", inviteeToken, nil)
	expectStatus(t, rr, http.StatusConflict)

	rr = doJSON(t, server, http.MethodPost, "/api/invitations/inv-missing/accept", inviteeToken, nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestListUsersOrderedByName(t *testing.T) {
	ms := newMemStore()
	zed := addUser(t, ms, "usr-z", "Zed", "zed@example.com")
	addUser(t, ms, "usr-a", "Ann", "ann@example.com")
	svc := newTestService(t, ms)

	rr := doJSON(t, newTestServer(svc), http.MethodGet, "/api/users", tokenFor(t, svc, zed), nil)
	expectStatus(t, rr, http.StatusOK)
	users, _ := decodeJSON(t, rr)["users"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected two users, got %v", users)
	}
	first, _ := users[0].(map[string]any)
	if first["name"] != "Ann" {
		t.Fatalf("expected users ordered by name, got %v", users)
	}
}
