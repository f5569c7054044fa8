// Package authstore owns the client-side auth session: token lifecycle,
// identity, and the login state machine.
package authstore

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/httpx"
	"github.com/carebridge/carelink/internal/model"
)

// State of the auth session.
type State int

const (
	// NotAuthenticated is the initial state; also reached by logout and by
	// refresh failure.
	NotAuthenticated State = iota
	// Authenticating means a login call is in flight.
	Authenticating
	// Authenticated means a valid token and identity are held.
	Authenticated
	// NewPasswordRequired means the account must set a new password before a
	// full-scope token is issued.
	NewPasswordRequired
	// Failed means the last login attempt failed; Detail holds the reason.
	Failed
)

func (s State) String() string {
	switch s {
	case NotAuthenticated:
		return "not-authenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case NewPasswordRequired:
		return "new-password-required"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token              string         `json:"token"`
	ExpiresAt          time.Time      `json:"expiresAt"`
	MustChangePassword bool           `json:"mustChangePassword"`
	Identity           model.Identity `json:"identity"`
}

type passwordRequest struct {
	NewPassword string `json:"newPassword"`
}

// Store is the per-session auth state container. Login outcomes are recorded
// in state and detail rather than returned as errors, so passive observers
// and the caller see the same thing.
type Store struct {
	client *httpx.Client
	log    *zap.Logger

	mu        sync.Mutex
	state     State
	detail    string
	token     string
	expiresAt time.Time
	identity  model.Identity

	refreshing chan struct{} // non-nil while a refresh is in flight
	refreshErr error

	listeners map[int]func()
	nextID    int
}

// New constructs a Store talking through client.
func New(client *httpx.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{client: client, log: log}
}

// State returns the current auth state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Detail returns the display detail of the last failure.
func (s *Store) Detail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detail
}

// Token returns the latest token (empty when not authenticated). Always read
// through this accessor rather than capturing the value, so a refreshed
// token is picked up.
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// ExpiresAt returns the current token expiry.
func (s *Store) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// Identity returns the authenticated identity.
func (s *Store) Identity() (model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.state == Authenticated
}

// Subscribe registers fn to run after every state transition.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[int]func())
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Login authenticates and returns the resulting state. Failures do not cross
// the auth boundary as errors; they are recorded in state and detail.
func (s *Store) Login(ctx context.Context, username, password string) State {
	s.transition(func() {
		s.state = Authenticating
		s.detail = ""
	})

	var resp loginResponse
	err := s.client.Post(ctx, "auth/login", loginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		s.transition(func() {
			s.state = Failed
			s.detail = loginDetail(err)
		})
		s.log.Info("login failed", zap.String("username", username), zap.Error(err))
		return s.State()
	}

	s.transition(func() {
		s.token = resp.Token
		s.expiresAt = tokenExpiry(resp.Token, resp.ExpiresAt)
		s.identity = resp.Identity
		if resp.MustChangePassword {
			s.state = NewPasswordRequired
			s.detail = ""
		} else {
			s.state = Authenticated
			s.detail = ""
		}
	})
	return s.State()
}

// UpdateTempPassword completes a forced password change. Valid only from
// NewPasswordRequired; on failure the state is unchanged and detail updated.
func (s *Store) UpdateTempPassword(ctx context.Context, newPassword string) State {
	if s.State() != NewPasswordRequired {
		s.transition(func() { s.detail = "no password change pending" })
		return s.State()
	}

	var resp loginResponse
	err := s.client.Post(ctx, "auth/password", passwordRequest{NewPassword: newPassword}, &resp)
	if err != nil {
		s.transition(func() { s.detail = loginDetail(err) })
		return s.State()
	}

	s.transition(func() {
		s.token = resp.Token
		s.expiresAt = tokenExpiry(resp.Token, resp.ExpiresAt)
		s.identity = resp.Identity
		s.state = Authenticated
		s.detail = ""
	})
	return s.State()
}

// RefreshToken replaces the stored token without changing state. Concurrent
// calls are coalesced into the single in-flight refresh. A failed refresh
// demotes the session to NotAuthenticated.
func (s *Store) RefreshToken(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Authenticated {
		s.mu.Unlock()
		return errors.New("not authenticated")
	}
	if ch := s.refreshing; ch != nil {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		s.mu.Lock()
		err := s.refreshErr
		s.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	s.refreshing = ch
	s.mu.Unlock()

	var tok model.Tokens
	err := s.client.Post(ctx, "auth/refresh", nil, &tok)

	s.mu.Lock()
	if err == nil {
		s.token = tok.AccessToken
		s.expiresAt = tokenExpiry(tok.AccessToken, tok.ExpiresAt)
	} else {
		s.state = NotAuthenticated
		s.token = ""
		s.identity = model.Identity{}
		s.detail = "session expired"
	}
	s.refreshErr = err
	s.refreshing = nil
	s.mu.Unlock()
	close(ch)
	s.notify()
	return err
}

// Logout clears the session from any state.
func (s *Store) Logout() {
	s.transition(func() {
		s.state = NotAuthenticated
		s.token = ""
		s.expiresAt = time.Time{}
		s.identity = model.Identity{}
		s.detail = ""
	})
}

// Restore resumes a previously saved session. Returns false when the token
// is already expired.
func (s *Store) Restore(token string, identity model.Identity) bool {
	exp := tokenExpiry(token, time.Time{})
	if token == "" || (!exp.IsZero() && !exp.After(time.Now())) {
		return false
	}
	s.transition(func() {
		s.state = Authenticated
		s.token = token
		s.expiresAt = exp
		s.identity = identity
		s.detail = ""
	})
	return true
}

// HandleUnauthorized is wired as the ServiceClient's access-denied callback:
// it forces re-authentication by demoting the session.
func (s *Store) HandleUnauthorized() {
	s.transition(func() {
		if s.state == Authenticated {
			s.state = NotAuthenticated
			s.token = ""
			s.identity = model.Identity{}
			s.detail = "access denied"
		}
	})
}

func (s *Store) transition(apply func()) {
	s.mu.Lock()
	apply()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func loginDetail(err error) string {
	var se *httpx.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "incorrect username or password"
		case http.StatusTooManyRequests:
			return "too many attempts, try again later"
		}
	}
	return "service unavailable, try again later"
}

// tokenExpiry prefers the server-reported expiry and falls back to the JWT
// exp claim (parsed without verification; the server remains authoritative).
func tokenExpiry(token string, reported time.Time) time.Time {
	if !reported.IsZero() {
		return reported
	}
	var claims jwt.RegisteredClaims
	_, _ = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) { return nil, nil },
		jwt.WithoutClaimsValidation(),
	)
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Time{}
}
