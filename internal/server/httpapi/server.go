// Package httpapi exposes the registry document API over JSON HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/service"
)

// Server wires services into HTTP handlers.
type Server struct {
	auth   service.AuthService
	docs   service.DocumentService
	config model.AppConfig
	log    *zap.Logger
}

// New constructs the API server with injected services.
func New(auth service.AuthService, docs service.DocumentService, config model.AppConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, docs: docs, config: config, log: log}
}

// Handler returns the routed handler with logging and recovery applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/password", s.requireAuth(s.handleChangePassword, service.ScopePassword))
	mux.HandleFunc("POST /auth/refresh", s.requireAuth(s.handleRefresh, service.ScopeFull))

	mux.HandleFunc("GET /app/config", s.requireAuth(s.handleConfig, service.ScopeFull))
	mux.HandleFunc("GET /patients", s.requireAuth(s.handleListPatients, service.ScopeFull))
	mux.HandleFunc("POST /patients", s.requireAuth(s.handleCreatePatient, service.ScopeFull))

	for _, name := range []string{model.DocProfile, model.DocClinicalHistory, model.DocSafetyPlan, model.DocValuesInventory} {
		mux.HandleFunc("GET /patient/{patientID}/"+name, s.requireAuth(s.handleGetSingleton(name), service.ScopeFull))
		mux.HandleFunc("PUT /patient/{patientID}/"+name, s.requireAuth(s.handlePutSingleton(name), service.ScopeFull))
	}
	for _, name := range []string{model.DocSession, model.DocAssessment, model.DocMoodLog, model.DocActivityLog} {
		mux.HandleFunc("GET /patient/{patientID}/"+name+"s", s.requireAuth(s.handleList(name), service.ScopeFull))
		mux.HandleFunc("POST /patient/{patientID}/"+name+"s", s.requireAuth(s.handleAdd(name), service.ScopeFull))
		mux.HandleFunc("PUT /patient/{patientID}/"+name+"/{docID}", s.requireAuth(s.handlePutItem(name), service.ScopeFull))
	}

	h := Logging(s.log)(mux)
	return Recover(s.log)(h)
}

// ---- auth plumbing ----

// remoteIP strips the ephemeral port so rate limiting keys on the address.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// requireAuth verifies the bearer token and scope. A password-scoped
// endpoint also accepts full scope.
func (s *Server) requireAuth(next http.HandlerFunc, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.auth.Authenticate(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if scope == service.ScopeFull && claims.Scope != service.ScopeFull {
			writeError(w, http.StatusForbidden, "insufficient scope")
			return
		}
		next(w, r.WithContext(withClaims(r.Context(), claims)))
	}
}

// patientScoped resolves the {patientID} path value and enforces that a
// patient-role caller only touches its own record.
func (s *Server) patientScoped(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.FromString(r.PathValue("patientID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad patient id")
		return uuid.Nil, false
	}
	claims, ok := claimsFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return uuid.Nil, false
	}
	if claims.Role == string(model.RolePatient) && claims.PatientID != id.String() {
		writeError(w, http.StatusForbidden, "forbidden")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) requireClinician(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := claimsFromCtx(r.Context())
	if !ok || claims.Role != string(model.RoleClinician) {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// ---- auth endpoints ----

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token              string         `json:"token"`
	ExpiresAt          string         `json:"expiresAt"`
	MustChangePassword bool           `json:"mustChangePassword"`
	Identity           model.Identity `json:"identity"`
}

func identityOf(u model.User) model.Identity {
	ident := model.Identity{UserID: u.ID.String(), Name: u.Name, Role: u.Role}
	if u.PatientID != uuid.Nil {
		ident.PatientID = u.PatientID.String()
	}
	return ident
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	tok, u, err := s.auth.LoginWithIP(r.Context(), req.Username, req.Password, remoteIP(r))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "bad credentials")
		case errors.Is(err, errs.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		default:
			s.log.Error("login", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal")
		}
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:              tok.AccessToken,
		ExpiresAt:          tok.ExpiresAt.UTC().Format(timeLayout),
		MustChangePassword: u.MustChangePassword,
		Identity:           identityOf(u),
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromCtx(r.Context())
	userID, err := uuid.FromString(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad subject")
		return
	}
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}
	tok, u, err := s.auth.ChangePassword(r.Context(), userID, req.NewPassword)
	if err != nil {
		s.log.Error("change password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tok.AccessToken,
		ExpiresAt: tok.ExpiresAt.UTC().Format(timeLayout),
		Identity:  identityOf(u),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromCtx(r.Context())
	userID, err := uuid.FromString(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "bad subject")
		return
	}
	tok, err := s.auth.Refresh(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "refresh rejected")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     tok.AccessToken,
		"expiresAt": tok.ExpiresAt.UTC().Format(timeLayout),
	})
}

// ---- app config ----

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]model.AppConfig{"config": s.config})
}

// ---- patients ----

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	if !s.requireClinician(w, r) {
		return
	}
	docs, err := s.docs.ListPatients(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeDocList(w, model.DocPatient+"s", docs)
}

func (s *Server) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	if !s.requireClinician(w, r) {
		return
	}
	body, _, err := parseDocBody(r, model.DocPatient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := uuid.NewV4()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	doc, err := s.docs.CreatePatient(r.Context(), id, body)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeDoc(w, http.StatusCreated, model.DocPatient, doc)
}

// ---- documents ----

func (s *Server) handleGetSingleton(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := s.patientScoped(w, r)
		if !ok {
			return
		}
		doc, err := s.docs.GetSingleton(r.Context(), patientID, name)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeDoc(w, http.StatusOK, name, doc)
	}
}

func (s *Server) handlePutSingleton(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := s.patientScoped(w, r)
		if !ok {
			return
		}
		body, baseRev, err := parseDocBody(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := s.docs.PutSingleton(r.Context(), patientID, name, body, baseRev)
		if errors.Is(err, errs.ErrRevConflict) && doc != nil {
			// 409 carries the authoritative document for client reconciliation.
			writeDoc(w, http.StatusConflict, name, doc)
			return
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeDoc(w, http.StatusOK, name, doc)
	}
}

func (s *Server) handleList(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := s.patientScoped(w, r)
		if !ok {
			return
		}
		docs, err := s.docs.List(r.Context(), patientID, name)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeDocList(w, name+"s", docs)
	}
}

func (s *Server) handleAdd(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := s.patientScoped(w, r)
		if !ok {
			return
		}
		body, _, err := parseDocBody(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := s.docs.Add(r.Context(), patientID, name, body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeDoc(w, http.StatusCreated, name, doc)
	}
}

func (s *Server) handlePutItem(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := s.patientScoped(w, r)
		if !ok {
			return
		}
		docID, err := uuid.FromString(r.PathValue("docID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad document id")
			return
		}
		body, baseRev, err := parseDocBody(r, name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := s.docs.Put(r.Context(), patientID, name, docID, body, baseRev)
		if errors.Is(err, errs.ErrRevConflict) && doc != nil {
			writeDoc(w, http.StatusConflict, name, doc)
			return
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeDoc(w, http.StatusOK, name, doc)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, "already exists")
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case strings.HasPrefix(err.Error(), "validation:"):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("service error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}
