// Package service contains backend application services for authentication
// and document operations.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/carebridge/carelink/internal/crypto"
	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/limiter"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository"
)

// Token scopes. A password-scoped token may only call the password-change
// endpoint; everything else requires full scope.
const (
	ScopeFull     = "full"
	ScopePassword = "password"
)

// AccessClaims are the JWT claims issued by the registry backend.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role,omitempty"`
	Scope     string `json:"scope,omitempty"`
	PatientID string `json:"patientId,omitempty"`
}

// AuthService defines authentication operations.
type AuthService interface {
	// Register creates an account with secure password hashing.
	Register(ctx context.Context, u *model.User, password string) error
	// LoginWithIP applies rate limiting and authenticates the user. An
	// account pending a forced password change receives a password-scoped
	// token; everyone else gets full scope.
	LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error)
	// ChangePassword sets a new password and issues a full-scope token.
	ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) (model.Tokens, model.User, error)
	// Refresh issues a fresh full-scope token for an authenticated user.
	Refresh(ctx context.Context, userID uuid.UUID) (model.Tokens, error)
	// Authenticate verifies a bearer token and returns its claims.
	Authenticate(token string) (*AccessClaims, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// Register creates a new account with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, u *model.User, password string) error {
	if u.Username == "" || password == "" {
		return errors.New("validation: empty username/password")
	}
	if u.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		u.ID = id
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return err
	}
	u.Salt = salt
	u.PwdHash = pkgcrypto.HashPassword([]byte(password), salt)
	return s.users.Create(ctx, u)
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.Salt, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// hide account existence on wrong password or lookup error
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, username, ipHash)

	scope := ScopeFull
	if u.MustChangePassword {
		scope = ScopePassword
	}
	tok, err := s.issueToken(u, scope)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// ChangePassword replaces the password and returns a full-scope token.
func (s *AuthServiceImpl) ChangePassword(ctx context.Context, userID uuid.UUID, newPassword string) (model.Tokens, model.User, error) {
	if userID == uuid.Nil || newPassword == "" {
		return model.Tokens{}, model.User{}, errors.New("validation: empty userID/password")
	}
	salt, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	hash := pkgcrypto.HashPassword([]byte(newPassword), salt)
	if err := s.users.SetPassword(ctx, userID, hash, salt); err != nil {
		return model.Tokens{}, model.User{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	tok, err := s.issueToken(u, ScopeFull)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// Refresh issues a fresh full-scope token.
func (s *AuthServiceImpl) Refresh(ctx context.Context, userID uuid.UUID) (model.Tokens, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.Tokens{}, errs.ErrUnauthorized
	}
	if u.MustChangePassword {
		return model.Tokens{}, errs.ErrPasswordChangeRequired
	}
	return s.issueToken(u, ScopeFull)
}

// Authenticate verifies an HS256 token and validates its lifetime.
func (s *AuthServiceImpl) Authenticate(token string) (*AccessClaims, error) {
	var claims AccessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}
	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return nil, errs.ErrUnauthorized
	}
	return &claims, nil
}

// issueToken creates a signed HS256 JWT for the given account and scope.
func (s *AuthServiceImpl) issueToken(u *model.User, scope string) (model.Tokens, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role:  string(u.Role),
		Scope: scope,
	}
	if u.PatientID != uuid.Nil {
		claims.PatientID = u.PatientID.String()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: signed, ExpiresAt: exp}, nil
}
