// Package fake seeds deterministic demo data for database-free runs and
// handler tests.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository"
	"github.com/carebridge/carelink/internal/service"
)

// Demo credentials created by Seed.
const (
	ClinicianUsername = "lucy.vasquez"
	PatientUsername   = "persephone.rosenberg"
	DemoPassword      = "carelink-demo"
	TempPassword      = "welcome-1"
)

var phq9Questions = []string{
	"Little interest or pleasure in doing things",
	"Feeling down, depressed, or hopeless",
	"Trouble falling or staying asleep, or sleeping too much",
	"Feeling tired or having little energy",
	"Poor appetite or overeating",
	"Feeling bad about yourself",
	"Trouble concentrating on things",
	"Moving or speaking noticeably slowly, or being fidgety or restless",
	"Thoughts that you would be better off dead or of hurting yourself",
}

var gad7Questions = []string{
	"Feeling nervous, anxious, or on edge",
	"Not being able to stop or control worrying",
	"Worrying too much about different things",
	"Trouble relaxing",
	"Being so restless that it is hard to sit still",
	"Becoming easily annoyed or irritable",
	"Feeling afraid as if something awful might happen",
}

var frequencyOptions = []string{
	"Not at all",
	"Several days",
	"More than half the days",
	"Nearly every day",
}

// DefaultAppConfig returns the instrument and taxonomy configuration served
// from /app/config.
func DefaultAppConfig() model.AppConfig {
	return model.AppConfig{
		Assessments: []model.AssessmentDefinition{
			{AssessmentType: model.AssessmentPHQ9, Questions: phq9Questions, Options: frequencyOptions},
			{AssessmentType: model.AssessmentGAD7, Questions: gad7Questions, Options: frequencyOptions},
		},
		LifeAreas: []model.LifeArea{
			{ID: "relationships", Name: "Relationships", Examples: []string{"Call a friend", "Family dinner"}},
			{ID: "education", Name: "Education and career", Examples: []string{"Attend a class", "Update resume"}},
			{ID: "recreation", Name: "Recreation and interests", Examples: []string{"Go for a walk", "Read a book"}},
			{ID: "health", Name: "Mind, body, spirituality", Examples: []string{"Cook a healthy meal", "Meditate"}},
			{ID: "responsibilities", Name: "Daily responsibilities", Examples: []string{"Pay bills", "Tidy one room"}},
		},
		Resources: []model.Resource{
			{Name: "988 Suicide and Crisis Lifeline", Phone: "988"},
			{Name: "Crisis Text Line", Phone: "741741"},
			{Name: "NAMI HelpLine", URL: "https://www.nami.org/help"},
		},
	}
}

var demoNames = []struct {
	name string
	mrn  string
}{
	{"Persephone Rosenberg", "MRN-100231"},
	{"Otis Delacroix", "MRN-100457"},
	{"Wilhelmina Okafor", "MRN-100612"},
}

// Seed populates the repositories with demo accounts and patients. The data
// is generated from a fixed random seed so repeated runs produce the same
// registry.
func Seed(ctx context.Context, docs repository.DocumentRepository, auth service.AuthService) error {
	rng := rand.New(rand.NewSource(7))
	now := time.Now().UTC().Truncate(time.Hour)

	var patientIDs []uuid.UUID
	for i, p := range demoNames {
		id, err := seedPatient(ctx, docs, rng, now, i, p.name, p.mrn)
		if err != nil {
			return fmt.Errorf("seed patient %s: %w", p.name, err)
		}
		patientIDs = append(patientIDs, id)
	}

	clinician := &model.User{
		Username: ClinicianUsername,
		Name:     "Lucy Vasquez, LICSW",
		Role:     model.RoleClinician,
	}
	if err := auth.Register(ctx, clinician, DemoPassword); err != nil {
		return fmt.Errorf("seed clinician: %w", err)
	}
	patient := &model.User{
		Username:           PatientUsername,
		Name:               demoNames[0].name,
		Role:               model.RolePatient,
		PatientID:          patientIDs[0],
		MustChangePassword: true,
	}
	if err := auth.Register(ctx, patient, TempPassword); err != nil {
		return fmt.Errorf("seed patient account: %w", err)
	}
	return nil
}

func seedPatient(
	ctx context.Context, docs repository.DocumentRepository,
	rng *rand.Rand, now time.Time, idx int, name, mrn string,
) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	enrolled := now.AddDate(0, 0, -90+idx*14)
	flagged := idx == 1

	summary := model.PatientSummary{
		Name:             name,
		MRN:              mrn,
		TreatmentStatus:  model.StatusActive,
		FlaggedForSafety: flagged,
	}
	if err := createDoc(ctx, docs, &model.Document{
		ID: id, Collection: model.DocPatient, PatientID: id,
	}, summary); err != nil {
		return uuid.Nil, err
	}

	profile := model.Profile{
		Name:             name,
		MRN:              mrn,
		BirthDate:        time.Date(1970+rng.Intn(35), time.Month(1+rng.Intn(12)), 1+rng.Intn(28), 0, 0, 0, 0, time.UTC),
		Sex:              []string{"female", "male"}[idx%2],
		Phone:            fmt.Sprintf("555-01%02d", 10+idx),
		PrimaryCare:      "Dr. Imani Clarke",
		Psychiatrist:     "Dr. Raj Mehta",
		EnrolledAt:       enrolled,
		TreatmentStatus:  model.StatusActive,
		FlaggedForSafety: flagged,
	}
	if err := createSingleton(ctx, docs, id, model.DocProfile, profile); err != nil {
		return uuid.Nil, err
	}

	history := model.ClinicalHistory{
		PrimaryDiagnosis:   []string{"Major depressive disorder", "Generalized anxiety disorder", "Persistent depressive disorder"}[idx%3],
		Comorbidities:      []string{"Hypertension"},
		CurrentMedications: "sertraline 50mg daily",
		PastTreatment:      "Brief CBT course in 2023",
		ReviewedAt:         enrolled,
	}
	if err := createSingleton(ctx, docs, id, model.DocClinicalHistory, history); err != nil {
		return uuid.Nil, err
	}

	plan := model.SafetyPlan{Assigned: flagged}
	if flagged {
		plan.AssignedAt = enrolled.AddDate(0, 0, 7)
		plan.WarningSigns = []string{"Withdrawing from friends", "Sleeping through the day"}
		plan.CopingStrategies = []string{"Walk around the block", "Breathing exercise"}
		plan.SupportContacts = []model.Contact{{Name: "Sibling", Phone: "555-0144"}}
		plan.Professionals = []model.Contact{{Name: "Care manager", Phone: "555-0100"}}
	}
	if err := createSingleton(ctx, docs, id, model.DocSafetyPlan, plan); err != nil {
		return uuid.Nil, err
	}

	inventory := model.ValuesInventory{Assigned: true, AssignedAt: enrolled}
	if idx == 0 {
		inventory.LastUpdatedAt = enrolled.AddDate(0, 0, 10)
		inventory.Values = []model.LifeAreaValue{
			{LifeAreaID: "relationships", Name: "Being a present parent", Activities: []string{"Game night", "Walk kids to school"}},
			{LifeAreaID: "health", Name: "Taking care of my body", Activities: []string{"Swim twice a week"}},
		}
	}
	if err := createSingleton(ctx, docs, id, model.DocValuesInventory, inventory); err != nil {
		return uuid.Nil, err
	}

	for week := 0; week < 8; week++ {
		at := enrolled.AddDate(0, 0, week*7)
		session := model.Session{
			SessionType:          []model.SessionType{model.SessionClinic, model.SessionPhone}[week%2],
			Date:                 at,
			DurationMinutes:      30 + rng.Intn(4)*15,
			BehavioralStrategies: []string{"Behavioral Activation"},
			Note:                 fmt.Sprintf("Week %d check-in. Reviewed activity schedule.", week+1),
		}
		if err := addItem(ctx, docs, id, model.DocSession, session); err != nil {
			return uuid.Nil, err
		}
	}

	phqBase := 14 + rng.Intn(6)
	for week := 0; week < 8; week += 2 {
		at := enrolled.AddDate(0, 0, week*7)
		score := phqBase - week
		if score < 3 {
			score = 3
		}
		a := model.Assessment{
			AssessmentType: model.AssessmentPHQ9,
			AssignedAt:     at,
			CompletedAt:    at.AddDate(0, 0, 1),
			Answers:        spreadAnswers(rng, score, len(phq9Questions)),
		}
		if err := addItem(ctx, docs, id, model.DocAssessment, a); err != nil {
			return uuid.Nil, err
		}
		g := model.Assessment{
			AssessmentType: model.AssessmentGAD7,
			AssignedAt:     at,
			CompletedAt:    at.AddDate(0, 0, 1),
			Answers:        spreadAnswers(rng, score-3, len(gad7Questions)),
		}
		if err := addItem(ctx, docs, id, model.DocAssessment, g); err != nil {
			return uuid.Nil, err
		}
	}

	for day := 0; day < 30; day += 2 {
		at := now.AddDate(0, 0, -day)
		mood := model.MoodLog{
			RecordedAt: at,
			Rating:     3 + rng.Intn(6),
		}
		if err := addItem(ctx, docs, id, model.DocMoodLog, mood); err != nil {
			return uuid.Nil, err
		}
	}

	activities := []string{"Morning walk", "Call a friend", "Cook dinner", "Read before bed"}
	for day := 0; day < 14; day += 3 {
		at := now.AddDate(0, 0, -day)
		act := model.ActivityLog{
			RecordedAt: at,
			Activity:   activities[rng.Intn(len(activities))],
			Completed:  rng.Intn(4) > 0,
			Pleasure:   3 + rng.Intn(6),
			Accomplish: 3 + rng.Intn(6),
		}
		if err := addItem(ctx, docs, id, model.DocActivityLog, act); err != nil {
			return uuid.Nil, err
		}
	}

	return id, nil
}

// spreadAnswers distributes a total score over n items, clamped to 0..3.
func spreadAnswers(rng *rand.Rand, total, n int) []int {
	if total < 0 {
		total = 0
	}
	answers := make([]int, n)
	for total > 0 {
		i := rng.Intn(n)
		if answers[i] < 3 {
			answers[i]++
			total--
		}
	}
	return answers
}

func createSingleton(ctx context.Context, docs repository.DocumentRepository, patientID uuid.UUID, collection string, v any) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return createDoc(ctx, docs, &model.Document{
		ID: id, Collection: collection, PatientID: patientID, Singleton: true,
	}, v)
}

func addItem(ctx context.Context, docs repository.DocumentRepository, patientID uuid.UUID, collection string, v any) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	return createDoc(ctx, docs, &model.Document{ID: id, Collection: collection, PatientID: patientID}, v)
}

func createDoc(ctx context.Context, docs repository.DocumentRepository, doc *model.Document, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	doc.Body = body
	return docs.Create(ctx, doc)
}
