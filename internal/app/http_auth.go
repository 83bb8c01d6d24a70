package app

import (
	"net/http"
	"net/url"
	"strings"
)

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	payload, err := s.service.SignUp(r.Context(), body.Name, body.Email, body.Password)
	s.respond(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), body.Email, body.Password, sessionMeta(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	err := s.service.VerifyEmail(r.Context(), strings.TrimSpace(body.Token))
	s.respond(w, r, http.StatusOK, map[string]any{"verified": true}, err)
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	payload, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	s.respond(w, r, http.StatusOK, payload, err)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	err := s.service.ResetPassword(r.Context(), strings.TrimSpace(body.Token), body.Password)
	s.respond(w, r, http.StatusOK, map[string]any{"success": true}, err)
}

func (s *HTTPServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "refreshToken is required", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken, sessionMeta(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

// handleAuthLogout always succeeds; an invalid access token only skips
// revocation of the access JTI.
func (s *HTTPServer) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeOrReject(w, r, &body) {
		return
	}
	var session Session
	if token := bearerToken(r); token != "" {
		session, _ = s.service.SessionFromToken(r.Context(), token)
	}
	err := s.service.Logout(r.Context(), session, body.RefreshToken)
	s.respond(w, r, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *HTTPServer) handleGitHubStart(w http.ResponseWriter, r *http.Request) {
	target, err := s.service.GitHubAuthURL(r.Context())
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *HTTPServer) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	session, err := s.service.GitHubCallback(r.Context(), query.Get("state"), query.Get("code"), sessionMeta(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	fragment := url.Values{}
	fragment.Set("accessToken", session.Token)
	fragment.Set("refreshToken", session.RefreshToken)
	target := strings.TrimRight(s.service.cfg.AppURL, "/") + "/auth/callback#" + fragment.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}
