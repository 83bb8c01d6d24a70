// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour
)

var (
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// ValidationError reports a bad request field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// check validates input and turns the first failing rule into a
// ValidationError.
func check(input any) error {
	err := validate.Struct(input)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return &ValidationError{Message: field + " is required"}
	case "email":
		return &ValidationError{Message: "invalid email address"}
	case "min":
		return &ValidationError{Message: fmt.Sprintf("%s must be at least %s characters", field, fe.Param())}
	default:
		return &ValidationError{Message: field + " is invalid"}
	}
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

// Service provides email/password authentication
type Service struct {
	store UserStore
	cost  int
	now   func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(store UserStore, opts ...Option) *Service {
	s := &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// burnCompare spends one bcrypt comparison so unknown accounts take as long
// to reject as wrong passwords.
func (s *Service) burnCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("inkwell-placeholder"), s.cost)
	})
	_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type SignUpRequest struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
}

type SignUpResponse struct {
	User              store.User
	VerificationToken string
}

// SignUp creates an unverified user and its verification token.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := check(req); err != nil {
		return nil, err
	}

	switch _, err := s.store.GetUserByEmail(ctx, req.Email); {
	case err == nil:
		return nil, ErrEmailExists
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	token, err := auth.NewOpaqueToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(verificationTTL)
	user := store.User{
		ID:                    util.NewID("usr"),
		Name:                  req.Name,
		Email:                 req.Email,
		PasswordHash:          hash,
		Role:                  "user",
		VerificationToken:     token,
		VerificationExpiresAt: &expiresAt,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, token, expiresAt); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}
	return &SignUpResponse{User: user, VerificationToken: token}, nil
}

type signInRequest struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// SignIn checks the password before the verification state so unverified
// accounts are not revealed to callers without the password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	req := signInRequest{Email: normalizeEmail(email), Password: password}
	if err := check(req); err != nil {
		return store.User{}, err
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.burnCompare(password)
		return store.User{}, ErrInvalidCredentials
	case err != nil:
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	case user.PasswordHash == "":
		s.burnCompare(password)
		return store.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := check(struct {
		Token string `validate:"required"`
	}{strings.TrimSpace(token)}); err != nil {
		return err
	}
	err := s.store.VerifyUserEmail(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidToken
	}
	return err
}

// RequestPasswordReset returns an empty token without error when the email
// is unknown.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.User{}, nil
	}
	if err != nil {
		return "", store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	token, err := auth.NewOpaqueToken()
	if err != nil {
		return "", store.User{}, err
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, s.now().Add(resetTTL)); err != nil {
		return "", store.User{}, fmt.Errorf("save reset: %w", err)
	}
	return token, user, nil
}

type resetRequest struct {
	Token    string `validate:"required"`
	Password string `validate:"required,min=8"`
}

// ResetPassword sets a new password and burns the token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := check(resetRequest{Token: token, Password: newPassword}); err != nil {
		return err
	}

	userID, err := s.store.GetPasswordReset(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("lookup reset: %w", err)
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return s.store.MarkPasswordResetUsed(ctx, token)
}
