package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carebridge/carelink/internal/fake"
	"github.com/carebridge/carelink/internal/limiter"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository/memory"
	"github.com/carebridge/carelink/internal/service"
)

type testEnv struct {
	srv       *httptest.Server
	auth      *service.AuthServiceImpl
	docs      *service.DocumentServiceImpl
	patientID uuid.UUID
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	docRepo := memory.NewDocStore()
	userRepo := memory.NewUserStore()
	lim := limiter.NewMemory(time.Minute, 3, time.Minute)
	authSvc := service.NewAuthService(userRepo, []byte("test-key"), 15*time.Minute, lim)
	docSvc := service.NewDocumentService(docRepo)

	if err := fake.Seed(context.Background(), docRepo, authSvc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(authSvc, docSvc, fake.DefaultAppConfig(), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	patients, err := docSvc.ListPatients(context.Background())
	if err != nil || len(patients) == 0 {
		t.Fatalf("list patients: %v", err)
	}
	return &testEnv{srv: srv, auth: authSvc, docs: docSvc, patientID: patients[0].ID}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var env map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp, env
}

func (e *testEnv) login(t *testing.T, username, password string) (string, model.Identity) {
	t.Helper()
	resp, env := e.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": username, "password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var token string
	var ident model.Identity
	_ = json.Unmarshal(env["token"], &token)
	_ = json.Unmarshal(env["identity"], &ident)
	return token, ident
}

func TestAPI_LoginAndConfig(t *testing.T) {
	e := newEnv(t)
	token, ident := e.login(t, fake.ClinicianUsername, fake.DemoPassword)
	if ident.Role != model.RoleClinician {
		t.Fatalf("identity = %+v", ident)
	}

	resp, env := e.request(t, http.MethodGet, "/app/config", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config status = %d", resp.StatusCode)
	}
	var cfg model.AppConfig
	if err := json.Unmarshal(env["config"], &cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if len(cfg.Assessments) != 2 {
		t.Fatalf("assessments = %d, want PHQ-9 and GAD-7", len(cfg.Assessments))
	}
}

func TestAPI_LoginFailures(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": fake.ClinicianUsername, "password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		e.request(t, http.MethodPost, "/auth/login", "", map[string]string{
			"username": fake.ClinicianUsername, "password": "wrong",
		})
	}
	resp, _ = e.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": fake.ClinicianUsername, "password": "wrong",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after repeated failures", resp.StatusCode)
	}
}

func TestAPI_UnauthenticatedRejected(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.request(t, http.MethodGet, "/patients", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp, _ = e.request(t, http.MethodGet, "/patients", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a bad token", resp.StatusCode)
	}
}

func TestAPI_PasswordScopeBlocksOtherEndpoints(t *testing.T) {
	e := newEnv(t)
	// The seeded patient account has a temporary password.
	resp, env := e.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": fake.PatientUsername, "password": fake.TempPassword,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var mustChange bool
	var token string
	_ = json.Unmarshal(env["mustChangePassword"], &mustChange)
	_ = json.Unmarshal(env["token"], &token)
	if !mustChange {
		t.Fatal("mustChangePassword not reported")
	}

	resp, _ = e.request(t, http.MethodGet, "/app/config", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a password-scoped token", resp.StatusCode)
	}

	resp, env = e.request(t, http.MethodPost, "/auth/password", token, map[string]string{
		"newPassword": "a much better one",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("password change status = %d", resp.StatusCode)
	}
	_ = json.Unmarshal(env["token"], &token)

	resp, _ = e.request(t, http.MethodGet, "/app/config", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 with the full-scope token", resp.StatusCode)
	}
}

func TestAPI_PatientRoleScopedToOwnRecord(t *testing.T) {
	e := newEnv(t)
	// Promote the patient account past the forced change first.
	tempToken, _ := e.login(t, fake.PatientUsername, fake.TempPassword)
	resp, env := e.request(t, http.MethodPost, "/auth/password", tempToken, map[string]string{
		"newPassword": "patient password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("password change status = %d", resp.StatusCode)
	}
	var token string
	var ident model.Identity
	_ = json.Unmarshal(env["token"], &token)
	_ = json.Unmarshal(env["identity"], &ident)

	// Own profile works.
	resp, _ = e.request(t, http.MethodGet, "/patient/"+ident.PatientID+"/profile", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own profile status = %d", resp.StatusCode)
	}

	// Another patient's record is forbidden.
	other := uuid.Must(uuid.NewV4())
	resp, _ = e.request(t, http.MethodGet, fmt.Sprintf("/patient/%s/profile", other), token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign profile status = %d, want 403", resp.StatusCode)
	}

	// The registry list is clinician-only.
	resp, _ = e.request(t, http.MethodGet, "/patients", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("patients status = %d, want 403", resp.StatusCode)
	}
}

func TestAPI_SingletonPutConflictCarriesCurrentDocument(t *testing.T) {
	e := newEnv(t)
	token, _ := e.login(t, fake.ClinicianUsername, fake.DemoPassword)
	path := "/patient/" + e.patientID.String() + "/profile"

	resp, env := e.request(t, http.MethodGet, path, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var profile map[string]any
	if err := json.Unmarshal(env["profile"], &profile); err != nil {
		t.Fatalf("decode: %v", err)
	}

	// First writer wins.
	profile["phone"] = "555-0199"
	resp, _ = e.request(t, http.MethodPut, path, token, map[string]any{"profile": profile})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	// Second write against the stale revision conflicts and returns the
	// authoritative document.
	profile["phone"] = "555-0000"
	resp, env = e.request(t, http.MethodPut, path, token, map[string]any{"profile": profile})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale put status = %d, want 409", resp.StatusCode)
	}
	var current map[string]any
	if err := json.Unmarshal(env["profile"], &current); err != nil {
		t.Fatalf("conflict body: %v", err)
	}
	if current["phone"] != "555-0199" {
		t.Fatalf("conflict body phone = %v, want the accepted write", current["phone"])
	}
	if current["_rev"] == profile["_rev"] {
		t.Fatal("conflict body revision did not advance")
	}
}

func TestAPI_CollectionAddAndItemPut(t *testing.T) {
	e := newEnv(t)
	token, _ := e.login(t, fake.ClinicianUsername, fake.DemoPassword)
	base := "/patient/" + e.patientID.String()

	resp, env := e.request(t, http.MethodPost, base+"/moodlogs", token, map[string]any{
		"moodlog": map[string]any{"recordedAt": "2026-08-28T09:00:00.000Z", "rating": 8},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status = %d", resp.StatusCode)
	}
	var created map[string]any
	if err := json.Unmarshal(env["moodlog"], &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	id, _ := created["_id"].(string)
	rev, _ := created["_rev"].(string)
	if id == "" || rev == "" {
		t.Fatalf("created doc missing identity: %v", created)
	}

	created["rating"] = float64(3)
	resp, env = e.request(t, http.MethodPut, base+"/moodlog/"+id, token, map[string]any{"moodlog": created})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("item put status = %d", resp.StatusCode)
	}
	var updated map[string]any
	_ = json.Unmarshal(env["moodlog"], &updated)
	if updated["rating"] != float64(3) || updated["_rev"] == rev {
		t.Fatalf("updated = %v", updated)
	}

	resp, env = e.request(t, http.MethodGet, base+"/moodlogs", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []map[string]any
	if err := json.Unmarshal(env["moodlogs"], &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("empty mood log list")
	}
}

func TestAPI_CreatePatientClinicianOnly(t *testing.T) {
	e := newEnv(t)
	token, _ := e.login(t, fake.ClinicianUsername, fake.DemoPassword)

	resp, env := e.request(t, http.MethodPost, "/patients", token, map[string]any{
		"patient": map[string]any{"name": "New Enrollee", "mrn": "MRN-777", "treatmentStatus": "active"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created map[string]any
	_ = json.Unmarshal(env["patient"], &created)
	if created["_id"] == "" || created["name"] != "New Enrollee" {
		t.Fatalf("created = %v", created)
	}

	resp, env = e.request(t, http.MethodGet, "/patients", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var list []map[string]any
	if err := json.Unmarshal(env["patients"], &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("patients = %d, want the 3 seeded plus 1 created", len(list))
	}
}
