package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/authpw"
	"inkwell/api/internal/oauth"
	"inkwell/api/internal/rbac"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const (
	oauthStatePrefix = "oauth_state:"
	oauthStateTTL    = 10 * time.Minute
)

func passwordError(err error) error {
	var validation *authpw.ValidationError
	switch {
	case errors.As(err, &validation):
		return validationError(validation.Message)
	case errors.Is(err, authpw.ErrEmailExists):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	case errors.Is(err, authpw.ErrInvalidToken):
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", "Invalid or expired token", nil)
	default:
		return err
	}
}

func (s *Service) SignUp(ctx context.Context, name, emailAddress, password string) (map[string]any, error) {
	resp, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Name: name, Email: emailAddress, Password: password})
	if err != nil {
		return nil, passwordError(err)
	}
	s.afterUserCreated(ctx, resp.User)

	payload := map[string]any{
		"userId":  resp.User.ID,
		"message": "Please check your email to verify your account",
	}
	if !s.mailConfigured() {
		payload["devVerificationToken"] = resp.VerificationToken
		payload["message"] = "Account created. Verify your email to continue."
		return payload, nil
	}

	link := s.cfg.AppURL + "/verify-email?token=" + url.QueryEscape(resp.VerificationToken)
	if err := s.mailer.SendVerificationEmail(resp.User.Email, resp.User.Name, link); err != nil {
		s.logger.Error("send verification email failed", zap.String("user_id", resp.User.ID), zap.Error(err))
	}
	return payload, nil
}

func (s *Service) SignIn(ctx context.Context, emailAddress, password string, meta store.SessionMeta) (Session, error) {
	user, err := s.passwords.SignIn(ctx, emailAddress, password)
	if err != nil {
		return Session{}, passwordError(err)
	}
	return s.issueSession(ctx, user, meta)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return validationError("Token is required")
	}
	return passwordError(s.passwords.VerifyEmail(ctx, token))
}

// RequestPasswordReset never reveals whether the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddress string) (map[string]any, error) {
	payload := map[string]any{"message": "If an account exists, a reset email has been sent"}
	token, user, err := s.passwords.RequestPasswordReset(ctx, emailAddress)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return payload, nil
	}
	if !s.mailConfigured() {
		payload["devResetToken"] = token
		return payload, nil
	}
	link := s.cfg.AppURL + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.Name, link); err != nil {
		s.logger.Error("send password reset email failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return payload, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.passwords.ResetPassword(ctx, token, newPassword); err != nil {
		return passwordError(err)
	}
	return nil
}

func (s *Service) GitHubEnabled() bool {
	return s.github != nil
}

// GitHubAuthURL stores a fresh state and returns the GitHub consent URL.
func (s *Service) GitHubAuthURL(ctx context.Context) (string, error) {
	if s.github == nil {
		return "", domainError(http.StatusServiceUnavailable, "GITHUB_DISABLED", "GitHub sign-in is not configured", nil)
	}
	state, err := auth.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := s.sessions.SaveVerification(ctx, oauthStatePrefix+state, "github", s.now().Add(oauthStateTTL)); err != nil {
		return "", err
	}
	return s.github.AuthCodeURL(state), nil
}

// GitHubCallback checks the state, exchanges the code and links the GitHub
// account to an existing user by account id or email, creating the user
// when neither matches.
func (s *Service) GitHubCallback(ctx context.Context, state, code string, meta store.SessionMeta) (Session, error) {
	if s.github == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "GITHUB_DISABLED", "GitHub sign-in is not configured", nil)
	}
	invalidState := domainError(http.StatusBadRequest, "INVALID_OAUTH_STATE", "Invalid or expired sign-in state", nil)
	if state == "" || code == "" {
		return Session{}, invalidState
	}
	if _, err := s.sessions.ConsumeVerification(ctx, oauthStatePrefix+state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, invalidState
		}
		return Session{}, err
	}

	profile, err := s.github.Exchange(ctx, code)
	if errors.Is(err, oauth.ErrNoVerifiedEmail) {
		return Session{}, domainError(http.StatusBadRequest, "NO_VERIFIED_EMAIL", "Your GitHub account has no verified email", nil)
	}
	if err != nil {
		s.logger.Error("github exchange failed", zap.Error(err))
		return Session{}, domainError(http.StatusBadGateway, "OAUTH_FAILED", "GitHub sign-in failed", nil)
	}

	created := false
	user, err := s.store.GetUserByAccount(ctx, oauth.ProviderGitHub, profile.AccountID)
	if errors.Is(err, sql.ErrNoRows) {
		user, err = s.store.GetUserByEmail(ctx, profile.Email)
		if errors.Is(err, sql.ErrNoRows) {
			user = store.User{
				ID:            util.NewID("usr"),
				Name:          firstNonBlank(profile.Name, profile.Login),
				Email:         profile.Email,
				EmailVerified: true,
				Image:         profile.AvatarURL,
				Role:          "user",
			}
			err = s.store.CreateUser(ctx, user)
			created = err == nil
		}
	}
	if err != nil {
		return Session{}, err
	}

	if err := s.store.UpsertAccount(ctx, store.Account{
		ID:          util.NewID("acc"),
		UserID:      user.ID,
		AccountID:   profile.AccountID,
		ProviderID:  oauth.ProviderGitHub,
		AccessToken: profile.AccessToken,
		Scope:       profile.Scope,
	}); err != nil {
		return Session{}, err
	}
	if created {
		s.afterUserCreated(ctx, user)
	}
	return s.issueSession(ctx, user, meta)
}

// afterUserCreated joins a new user to the default organization. It never
// fails the sign-up.
func (s *Service) afterUserCreated(ctx context.Context, user store.User) {
	slug := s.cfg.DefaultOrgSlug
	if slug == "" {
		return
	}
	org, err := s.store.GetOrganizationBySlug(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return
	}
	if err != nil {
		s.logger.Warn("default organization lookup failed", zap.String("slug", slug), zap.Error(err))
		return
	}
	err = s.store.AddMember(ctx, store.Member{
		ID:             util.NewID("mem"),
		UserID:         user.ID,
		OrganizationID: org.ID,
		Role:           string(rbac.RoleMember),
		CreatedAt:      s.now(),
	})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		s.logger.Warn("default organization join failed", zap.String("user_id", user.ID), zap.String("organization_id", org.ID), zap.Error(err))
	}
}
