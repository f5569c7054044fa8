// Command carectl is a CLI client for the CareLink registry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/asyncquery"
	"github.com/carebridge/carelink/internal/authstore"
	"github.com/carebridge/carelink/internal/httpx"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/store"
)

// ---- config/session store ----

type sessionFile struct {
	AccessToken string         `json:"access_token"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Identity    model.Identity `json:"identity"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "carelink")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "carelink")
}

func sessionPath() string { return filepath.Join(cfgDir(), "session.json") }

func saveSession(auth *authstore.Store) error {
	ident, _ := auth.Identity()
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(sessionPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(sessionFile{
		AccessToken: auth.Token(),
		ExpiresAt:   auth.ExpiresAt(),
		Identity:    ident,
	})
}

func restoreSession(auth *authstore.Store) error {
	b, err := os.ReadFile(sessionPath())
	if err != nil {
		return errors.New("no saved session (login required)")
	}
	var sf sessionFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return err
	}
	if !auth.Restore(sf.AccessToken, sf.Identity) {
		return errors.New("saved session expired (login required)")
	}
	return nil
}

func clearSession() { _ = os.Remove(sessionPath()) }

// ---- helpers ----

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: carectl [-addr URL] <command> [args]

commands:
  login <username>              authenticate and save the session
  logout                        discard the saved session
  whoami                        show the authenticated identity
  config                        show the app configuration
  patients                      list registry patients
  patient <id>                  show one patient's full record
  profile <id> [flags]          update profile fields
  sessions <id>                 list treatment sessions
  session add <id> [flags]      record a treatment session
  assessments <id>              list assessments with scores
  mood add <id> -rating N       record a mood log entry
  safetyplan <id>               show the safety plan`)
	os.Exit(2)
}

func newRoot(addr string) (*store.RootStore, *authstore.Store) {
	log := zap.NewNop()
	client, err := httpx.New(addr, httpx.WithLogger(log))
	if err != nil {
		fail("bad address %q: %v", addr, err)
	}
	auth := authstore.New(client, log)
	return store.NewRootStore(client, auth, log), auth
}

func requireSession(auth *authstore.Store) {
	if err := restoreSession(auth); err != nil {
		fail("%v", err)
	}
}

func readPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var pw string
	if _, err := fmt.Scanln(&pw); err != nil {
		fail("read password: %v", err)
	}
	return pw
}

// ---- commands ----

func main() {
	addr := flag.String("addr", "http://localhost:8080", "registry base URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	ctx := context.Background()
	root, auth := newRoot(*addr)

	switch args[0] {
	case "login":
		cmdLogin(ctx, auth, args[1:])
	case "logout":
		auth.Logout()
		clearSession()
		fmt.Println("logged out")
	case "whoami":
		requireSession(auth)
		ident, _ := auth.Identity()
		printJSON(ident)
	case "config":
		requireSession(auth)
		cfg, err := root.LoadConfig(ctx)
		if err != nil {
			fail("load config: %v", err)
		}
		printJSON(cfg)
	case "patients":
		requireSession(auth)
		cmdPatients(ctx, root)
	case "patient":
		requireSession(auth)
		cmdPatient(ctx, root, args[1:])
	case "profile":
		requireSession(auth)
		cmdProfile(ctx, root, args[1:])
	case "sessions":
		requireSession(auth)
		cmdSessions(ctx, root, args[1:])
	case "session":
		requireSession(auth)
		cmdSessionAdd(ctx, root, args[1:])
	case "assessments":
		requireSession(auth)
		cmdAssessments(ctx, root, args[1:])
	case "mood":
		requireSession(auth)
		cmdMoodAdd(ctx, root, args[1:])
	case "safetyplan":
		requireSession(auth)
		cmdSafetyPlan(ctx, root, args[1:])
	default:
		usage()
	}
}

func cmdLogin(ctx context.Context, auth *authstore.Store, args []string) {
	if len(args) != 1 {
		usage()
	}
	username := args[0]
	password := readPassword("password: ")

	switch auth.Login(ctx, username, password) {
	case authstore.Authenticated:
	case authstore.NewPasswordRequired:
		fmt.Fprintln(os.Stderr, "a new password is required")
		newPassword := readPassword("new password: ")
		if auth.UpdateTempPassword(ctx, newPassword) != authstore.Authenticated {
			fail("password change failed: %s", auth.Detail())
		}
	default:
		fail("login failed: %s", auth.Detail())
	}

	if err := saveSession(auth); err != nil {
		fail("save session: %v", err)
	}
	ident, _ := auth.Identity()
	fmt.Printf("logged in as %s (%s)\n", ident.Name, ident.Role)
}

func cmdPatients(ctx context.Context, root *store.RootStore) {
	patients, err := root.Patients.Load(ctx)
	if err != nil {
		fail("load patients: %v", err)
	}
	for _, p := range patients {
		flag := " "
		if p.FlaggedForSafety {
			flag = "!"
		}
		fmt.Printf("%s %-36s %-12s %s\n", flag, p.ID, p.MRN, p.Name)
	}
}

func cmdPatient(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) != 1 {
		usage()
	}
	ps := root.PatientStoreFor(args[0])
	if err := ps.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "partial load: %v\n", err)
	}
	out := map[string]any{
		"profile":         ps.Profile().Value(),
		"clinicalHistory": ps.ClinicalHistory().Value(),
		"safetyPlan":      ps.SafetyPlan().Value(),
		"valuesInventory": ps.ValuesInventory().Value(),
		"sessions":        ps.Sessions().Value(),
		"assessments":     ps.Assessments().Value(),
		"moodLogs":        ps.MoodLogs().Value(),
		"activityLogs":    ps.ActivityLogs().Value(),
	}
	printJSON(out)
}

func cmdProfile(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) < 1 {
		usage()
	}
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	phone := fs.String("phone", "", "contact phone")
	status := fs.String("status", "", "treatment status")
	flagSafety := fs.String("flag-safety", "", "safety flag (true/false)")
	_ = fs.Parse(args[1:])

	ps := root.PatientStoreFor(args[0])
	if _, err := ps.LoadProfile(ctx); err != nil {
		fail("load profile: %v", err)
	}

	var u model.ProfileUpdate
	if *phone != "" {
		u.Phone = phone
	}
	if *status != "" {
		st := model.TreatmentStatus(*status)
		u.TreatmentStatus = &st
	}
	if *flagSafety != "" {
		v, err := strconv.ParseBool(*flagSafety)
		if err != nil {
			fail("bad -flag-safety value: %v", err)
		}
		u.FlaggedForSafety = &v
	}

	profile, err := ps.UpdateProfile(ctx, u)
	if err != nil {
		if ps.Profile().State() == asyncquery.Conflicted {
			fmt.Fprintln(os.Stderr, "conflict: showing the server's current profile")
			printJSON(ps.Profile().Value())
			os.Exit(1)
		}
		fail("update profile: %v", err)
	}
	printJSON(profile)
}

func cmdSessions(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) != 1 {
		usage()
	}
	ps := root.PatientStoreFor(args[0])
	sessions, err := ps.LoadSessions(ctx)
	if err != nil {
		fail("load sessions: %v", err)
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-12s %3dmin  %s\n", s.Date.Format("2006-01-02"), s.SessionType, s.DurationMinutes, s.Note)
	}
}

func cmdSessionAdd(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) < 2 || args[0] != "add" {
		usage()
	}
	fs := flag.NewFlagSet("session add", flag.ExitOnError)
	typ := fs.String("type", string(model.SessionClinic), "session type")
	minutes := fs.Int("minutes", 30, "duration in minutes")
	note := fs.String("note", "", "session note")
	_ = fs.Parse(args[2:])

	ps := root.PatientStoreFor(args[1])
	if _, err := ps.LoadSessions(ctx); err != nil {
		fail("load sessions: %v", err)
	}
	sessions, err := ps.AddSession(ctx, model.Session{
		SessionType:     model.SessionType(*typ),
		Date:            time.Now().UTC(),
		DurationMinutes: *minutes,
		Note:            *note,
	})
	if err != nil {
		fail("add session: %v", err)
	}
	fmt.Printf("recorded; %d sessions on file\n", len(sessions))
}

func cmdAssessments(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) != 1 {
		usage()
	}
	ps := root.PatientStoreFor(args[0])
	assessments, err := ps.LoadAssessments(ctx)
	if err != nil {
		fail("load assessments: %v", err)
	}
	for _, a := range assessments {
		status := "assigned"
		if a.Completed() {
			status = fmt.Sprintf("score %d", a.Score())
		}
		fmt.Printf("%s  %-6s %s\n", a.AssignedAt.Format("2006-01-02"), a.AssessmentType, status)
	}
}

func cmdMoodAdd(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) < 2 || args[0] != "add" {
		usage()
	}
	fs := flag.NewFlagSet("mood add", flag.ExitOnError)
	rating := fs.Int("rating", 0, "mood rating 1..10")
	comment := fs.String("comment", "", "optional comment")
	_ = fs.Parse(args[2:])
	if *rating < 1 || *rating > 10 {
		fail("-rating must be 1..10")
	}

	ps := root.PatientStoreFor(args[1])
	if _, err := ps.LoadMoodLogs(ctx); err != nil {
		fail("load mood logs: %v", err)
	}
	logs, err := ps.AddMoodLog(ctx, model.MoodLog{
		RecordedAt: time.Now().UTC(),
		Rating:     *rating,
		Comment:    *comment,
	})
	if err != nil {
		fail("add mood log: %v", err)
	}
	fmt.Printf("recorded; %d entries on file\n", len(logs))
}

func cmdSafetyPlan(ctx context.Context, root *store.RootStore, args []string) {
	if len(args) != 1 {
		usage()
	}
	ps := root.PatientStoreFor(args[0])
	plan, err := ps.LoadSafetyPlan(ctx)
	if err != nil {
		fail("load safety plan: %v", err)
	}
	printJSON(plan)
}
