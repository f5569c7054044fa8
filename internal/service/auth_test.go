package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/limiter"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository/memory"
)

var signKey = []byte("test-signing-key")

func newAuth(t *testing.T) (*AuthServiceImpl, *memory.UserStore) {
	t.Helper()
	users := memory.NewUserStore()
	lim := limiter.NewMemory(time.Minute, 3, time.Minute)
	return NewAuthService(users, signKey, 15*time.Minute, lim), users
}

func register(t *testing.T, s *AuthServiceImpl, username string, role model.Role, mustChange bool) *model.User {
	t.Helper()
	u := &model.User{Username: username, Name: username, Role: role, MustChangePassword: mustChange}
	if role == model.RolePatient {
		u.PatientID = uuid.Must(uuid.NewV4())
	}
	if err := s.Register(context.Background(), u, "correct horse"); err != nil {
		t.Fatalf("register: %v", err)
	}
	return u
}

func TestAuth_LoginIssuesFullScopeToken(t *testing.T) {
	s, _ := newAuth(t)
	register(t, s, "lucy", model.RoleClinician, false)
	ctx := context.Background()

	tok, u, err := s.LoginWithIP(ctx, "lucy", "correct horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.Username != "lucy" {
		t.Fatalf("user = %+v", u)
	}
	if tok.ExpiresAt.Before(time.Now()) {
		t.Fatal("token already expired")
	}

	claims, err := s.Authenticate(tok.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Scope != ScopeFull || claims.Role != string(model.RoleClinician) {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.PatientID != "" {
		t.Fatalf("clinician token carries a patient id: %q", claims.PatientID)
	}
}

func TestAuth_PatientTokenCarriesPatientID(t *testing.T) {
	s, _ := newAuth(t)
	u := register(t, s, "persephone", model.RolePatient, false)

	tok, _, err := s.LoginWithIP(context.Background(), "persephone", "correct horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := s.Authenticate(tok.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.PatientID != u.PatientID.String() {
		t.Fatalf("claims patient id = %q, want %q", claims.PatientID, u.PatientID)
	}
}

func TestAuth_LoginWrongPasswordHidesAccountExistence(t *testing.T) {
	s, _ := newAuth(t)
	register(t, s, "lucy", model.RoleClinician, false)
	ctx := context.Background()

	_, _, errWrongPw := s.LoginWithIP(ctx, "lucy", "nope", "10.0.0.1")
	_, _, errNoUser := s.LoginWithIP(ctx, "ghost", "nope", "10.0.0.1")
	if !errors.Is(errWrongPw, errs.ErrUnauthorized) || !errors.Is(errNoUser, errs.ErrUnauthorized) {
		t.Fatalf("errors differ: %v vs %v", errWrongPw, errNoUser)
	}
}

func TestAuth_LoginRateLimitsAfterRepeatedFailures(t *testing.T) {
	s, _ := newAuth(t)
	register(t, s, "lucy", model.RoleClinician, false)
	ctx := context.Background()

	var err error
	for i := 0; i < 3; i++ {
		_, _, err = s.LoginWithIP(ctx, "lucy", "nope", "10.0.0.1")
	}
	if !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("third failure err = %v, want ErrRateLimited", err)
	}
	// Blocked even with the right password.
	if _, _, err := s.LoginWithIP(ctx, "lucy", "correct horse", "10.0.0.1"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited while blocked", err)
	}
	// Another IP is not affected.
	if _, _, err := s.LoginWithIP(ctx, "lucy", "correct horse", "10.0.0.2"); err != nil {
		t.Fatalf("other ip: %v", err)
	}
}

func TestAuth_TempPasswordScopeAndChange(t *testing.T) {
	s, _ := newAuth(t)
	u := register(t, s, "persephone", model.RolePatient, true)
	ctx := context.Background()

	tok, got, err := s.LoginWithIP(ctx, "persephone", "correct horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !got.MustChangePassword {
		t.Fatal("MustChangePassword not reported")
	}
	claims, err := s.Authenticate(tok.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Scope != ScopePassword {
		t.Fatalf("scope = %q, want password scope before the change", claims.Scope)
	}

	// Refresh is refused until the password is changed.
	if _, err := s.Refresh(ctx, u.ID); !errors.Is(err, errs.ErrPasswordChangeRequired) {
		t.Fatalf("refresh err = %v, want ErrPasswordChangeRequired", err)
	}

	full, got, err := s.ChangePassword(ctx, u.ID, "a brand new password")
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if got.MustChangePassword {
		t.Fatal("flag not cleared by password change")
	}
	claims, err = s.Authenticate(full.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.Scope != ScopeFull {
		t.Fatalf("scope = %q, want full after the change", claims.Scope)
	}

	// Old password no longer works, the new one does.
	if _, _, err := s.LoginWithIP(ctx, "persephone", "correct horse", "10.0.0.3"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("old password err = %v", err)
	}
	if _, _, err := s.LoginWithIP(ctx, "persephone", "a brand new password", "10.0.0.4"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestAuth_Refresh(t *testing.T) {
	s, _ := newAuth(t)
	u := register(t, s, "lucy", model.RoleClinician, false)

	tok, err := s.Refresh(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := s.Authenticate(tok.AccessToken); err != nil {
		t.Fatalf("authenticate refreshed token: %v", err)
	}

	if _, err := s.Refresh(context.Background(), uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("unknown user refresh err = %v", err)
	}
}

func TestAuth_AuthenticateRejectsForgedAndExpiredTokens(t *testing.T) {
	s, _ := newAuth(t)
	register(t, s, "lucy", model.RoleClinician, false)
	ctx := context.Background()

	tok, _, err := s.LoginWithIP(ctx, "lucy", "correct horse", "10.0.0.1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewAuthService(memory.NewUserStore(), []byte("other key"), time.Minute, limiter.NewMemory(time.Minute, 3, time.Minute))
	if _, err := other.Authenticate(tok.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("foreign key token accepted: %v", err)
	}

	if _, err := s.Authenticate("not.a.token"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("garbage token err = %v", err)
	}

	expired, _ := newAuth(t)
	expired.accessTTL = -time.Hour
	etok, _, err := expiredLogin(t, expired)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s.Authenticate(etok.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expired token err = %v", err)
	}
}

func expiredLogin(t *testing.T, s *AuthServiceImpl) (model.Tokens, model.User, error) {
	t.Helper()
	register(t, s, "stale", model.RoleClinician, false)
	return s.LoginWithIP(context.Background(), "stale", "correct horse", "10.0.0.9")
}
