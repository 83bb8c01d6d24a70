package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) organizationRoutes(r chi.Router) {
	r.Route("/api/organizations", func(r chi.Router) {
		r.Get("/", s.handleListOrganizations)
		r.Post("/", s.handleCreateOrganization)
		r.Put("/", s.handleUpdateOrganization)
		r.Delete("/", s.handleDeleteOrganization)
		r.Get("/check-slug", s.handleCheckSlug)
		r.Get("/list", s.handleListAllOrganizations)
		r.Get("/types", s.handleOrganizationTypes)

		r.Get("/members", s.handleListMembers)
		r.Post("/members", s.handleAddMember)
		r.Put("/members", s.handleUpdateMember)
		r.Delete("/members", s.handleRemoveMember)

		r.Get("/invitations", s.handleListInvitations)
		r.Post("/invitations", s.handleCreateInvitation)
		r.Delete("/invitations", s.handleCancelInvitation)
	})
	r.Route("/api/invitations", func(r chi.Router) {
		r.Get("/", s.handleMyInvitations)
		r.Post("/{invitationID}/accept", s.handleAcceptInvitation)
		r.Post("/{invitationID}/reject", s.handleRejectInvitation)
	})
}

func (s *HTTPServer) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListOrganizations(r.Context(), sessionFrom(r.Context()))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListAllOrganizations(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListAllOrganizations(r.Context(), sessionFrom(r.Context()))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var input OrganizationInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.CreateOrganization(r.Context(), sessionFrom(r.Context()), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var input OrganizationInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateOrganization(r.Context(), sessionFrom(r.Context()), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Organization ID is required", nil)
		return
	}
	err := s.service.DeleteOrganization(r.Context(), sessionFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}

func (s *HTTPServer) handleCheckSlug(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.CheckSlug(r.Context(), strings.TrimSpace(r.URL.Query().Get("slug")))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleOrganizationTypes(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListOrganizationTypes(r.Context())
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("organizationId"))
	payload, err := s.service.ListMembers(r.Context(), sessionFrom(r.Context()), orgID)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var input MemberInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.AddMember(r.Context(), sessionFrom(r.Context()), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var input MemberInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.UpdateMemberRole(r.Context(), sessionFrom(r.Context()), input)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orgID := strings.TrimSpace(query.Get("organizationId"))
	userID := strings.TrimSpace(query.Get("userId"))
	if orgID == "" || userID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Organization ID and user ID are required", nil)
		return
	}
	err := s.service.RemoveMember(r.Context(), sessionFrom(r.Context()), orgID, userID)
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}

func (s *HTTPServer) handleListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID := strings.TrimSpace(r.URL.Query().Get("organizationId"))
	payload, err := s.service.ListInvitations(r.Context(), sessionFrom(r.Context()), orgID)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var input InvitationInput
	if !decodeOrReject(w, r, &input) {
		return
	}
	payload, err := s.service.CreateInvitation(r.Context(), sessionFrom(r.Context()), input)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleCancelInvitation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invitation ID is required", nil)
		return
	}
	err := s.service.CancelInvitation(r.Context(), sessionFrom(r.Context()), id)
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}

func (s *HTTPServer) handleMyInvitations(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ListMyInvitations(r.Context(), sessionFrom(r.Context()))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.AcceptInvitation(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "invitationID"))
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleRejectInvitation(w http.ResponseWriter, r *http.Request) {
	err := s.service.RejectInvitation(r.Context(), sessionFrom(r.Context()), chi.URLParam(r, "invitationID"))
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}
