// Package model defines the care-registry documents exchanged with the backend.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Document names used as the single top-level key of PUT/POST bodies and as
// backend collection names.
const (
	DocPatient         = "patient"
	DocProfile         = "profile"
	DocClinicalHistory = "clinicalhistory"
	DocSafetyPlan      = "safetyplan"
	DocValuesInventory = "valuesinventory"
	DocSession         = "session"
	DocAssessment      = "assessment"
	DocMoodLog         = "moodlog"
	DocActivityLog     = "activitylog"
)

// Meta carries the document-database identity pair. Every document embeds it.
type Meta struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`
}

// DocumentID returns the document id; used by conflict reconciliation to
// match a disputed item inside a cached collection.
func (m Meta) DocumentID() string { return m.ID }

// Identified is satisfied by every registry document.
type Identified interface {
	DocumentID() string
}

// Role of an authenticated identity.
type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
)

// Identity describes the authenticated user as returned by the login endpoint.
type Identity struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	PatientID string `json:"patientId,omitempty"` // set for patient-role accounts
}

// Tokens collects an issued access token and its expiry.
type Tokens struct {
	AccessToken string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// TreatmentStatus of a patient within the collaborative-care program.
type TreatmentStatus string

const (
	StatusActive      TreatmentStatus = "active"
	StatusRelapse     TreatmentStatus = "relapse-prevention"
	StatusDischarged  TreatmentStatus = "discharged"
	StatusDeactivated TreatmentStatus = "deactivated"
)

// Profile is the patient demographic and enrollment document (singleton).
type Profile struct {
	Meta
	Name            string          `json:"name"`
	MRN             string          `json:"mrn"`
	BirthDate       time.Time       `json:"birthDate"`
	Sex             string          `json:"sex,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	PrimaryCare     string          `json:"primaryCare,omitempty"`
	Psychiatrist    string          `json:"psychiatrist,omitempty"`
	EnrolledAt      time.Time       `json:"enrolledAt"`
	TreatmentStatus TreatmentStatus `json:"treatmentStatus"`
	FlaggedForSafety bool           `json:"flaggedForSafety,omitempty"`
	FlaggedForDiscuss bool          `json:"flaggedForDiscuss,omitempty"`
}

// ProfileUpdate is a typed partial update for Profile. Nil fields are left
// unchanged. This replaces ad hoc per-key patching with a statically
// checkable update surface.
type ProfileUpdate struct {
	Name              *string
	Phone             *string
	PrimaryCare       *string
	Psychiatrist      *string
	TreatmentStatus   *TreatmentStatus
	FlaggedForSafety  *bool
	FlaggedForDiscuss *bool
}

// Apply returns a copy of p with the non-nil fields of u applied.
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.PrimaryCare != nil {
		p.PrimaryCare = *u.PrimaryCare
	}
	if u.Psychiatrist != nil {
		p.Psychiatrist = *u.Psychiatrist
	}
	if u.TreatmentStatus != nil {
		p.TreatmentStatus = *u.TreatmentStatus
	}
	if u.FlaggedForSafety != nil {
		p.FlaggedForSafety = *u.FlaggedForSafety
	}
	if u.FlaggedForDiscuss != nil {
		p.FlaggedForDiscuss = *u.FlaggedForDiscuss
	}
	return p
}

// ClinicalHistory is the intake clinical background document (singleton).
type ClinicalHistory struct {
	Meta
	PrimaryDiagnosis   string    `json:"primaryDiagnosis,omitempty"`
	Comorbidities      []string  `json:"comorbidities,omitempty"`
	CurrentMedications string    `json:"currentMedications,omitempty"`
	PastTreatment      string    `json:"pastTreatment,omitempty"`
	ReviewedAt         time.Time `json:"reviewedAt,omitempty"`
}

// SafetyPlan is the patient's crisis/safety plan document (singleton).
type SafetyPlan struct {
	Meta
	Assigned        bool      `json:"assigned"`
	AssignedAt      time.Time `json:"assignedAt,omitempty"`
	LastUpdatedAt   time.Time `json:"lastUpdatedAt,omitempty"`
	WarningSigns    []string  `json:"warningSigns,omitempty"`
	CopingStrategies []string `json:"copingStrategies,omitempty"`
	Distractions    []string  `json:"distractions,omitempty"`
	SupportContacts []Contact `json:"supportContacts,omitempty"`
	Professionals   []Contact `json:"professionals,omitempty"`
	EnvironmentSafety string  `json:"environmentSafety,omitempty"`
	ReasonsForLiving  string  `json:"reasonsForLiving,omitempty"`
}

// Contact is a name/phone pair inside a safety plan.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// LifeAreaValue is one value within a life area plus the activities that
// express it.
type LifeAreaValue struct {
	LifeAreaID string   `json:"lifeAreaId"`
	Name       string   `json:"name"`
	Activities []string `json:"activities,omitempty"`
}

// ValuesInventory is the values/activities inventory document (singleton).
type ValuesInventory struct {
	Meta
	Assigned      bool            `json:"assigned"`
	AssignedAt    time.Time       `json:"assignedAt,omitempty"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt,omitempty"`
	Values        []LifeAreaValue `json:"values,omitempty"`
}

// SessionType distinguishes treatment contact kinds.
type SessionType string

const (
	SessionClinic SessionType = "clinic"
	SessionPhone  SessionType = "phone"
	SessionReview SessionType = "case-review"
)

// Session is one treatment session or case review entry.
type Session struct {
	Meta
	SessionType          SessionType `json:"sessionType"`
	Date                 time.Time   `json:"date"`
	DurationMinutes      int         `json:"durationMinutes,omitempty"`
	BehavioralStrategies []string    `json:"behavioralStrategies,omitempty"`
	Referrals            []string    `json:"referrals,omitempty"`
	Note                 string      `json:"note,omitempty"`
}

// AssessmentType identifies a standardized instrument.
type AssessmentType string

const (
	AssessmentPHQ9 AssessmentType = "PHQ-9"
	AssessmentGAD7 AssessmentType = "GAD-7"
)

// Assessment is one administered instrument with per-question answers.
type Assessment struct {
	Meta
	AssessmentType AssessmentType `json:"assessmentType"`
	AssignedAt     time.Time      `json:"assignedAt"`
	CompletedAt    time.Time      `json:"completedAt,omitempty"`
	Answers        []int          `json:"answers,omitempty"`
	Comment        string         `json:"comment,omitempty"`
}

// Completed reports whether the assessment has been submitted.
func (a Assessment) Completed() bool { return !a.CompletedAt.IsZero() }

// Score is the instrument total (sum of item answers).
func (a Assessment) Score() int {
	total := 0
	for _, v := range a.Answers {
		total += v
	}
	return total
}

// MoodLog is one patient-recorded mood rating.
type MoodLog struct {
	Meta
	RecordedAt time.Time `json:"recordedAt"`
	Rating     int       `json:"rating"` // 1..10
	Comment    string    `json:"comment,omitempty"`
}

// ActivityLog is one patient-recorded scheduled-activity outcome.
type ActivityLog struct {
	Meta
	RecordedAt time.Time `json:"recordedAt"`
	Activity   string    `json:"activity"`
	Completed  bool      `json:"completed"`
	Pleasure   int       `json:"pleasure,omitempty"`     // 1..10
	Accomplish int       `json:"accomplishment,omitempty"` // 1..10
	Comment    string    `json:"comment,omitempty"`
}

// PatientSummary is one row of the registry console patient list.
type PatientSummary struct {
	Meta
	Name            string          `json:"name"`
	MRN             string          `json:"mrn"`
	TreatmentStatus TreatmentStatus `json:"treatmentStatus"`
	LastSessionAt   time.Time       `json:"lastSessionAt,omitempty"`
	LastPHQ9        int             `json:"lastPhq9,omitempty"`
	LastGAD7        int             `json:"lastGad7,omitempty"`
	FlaggedForSafety bool           `json:"flaggedForSafety,omitempty"`
}

// AssessmentDefinition describes one instrument served in the app config.
type AssessmentDefinition struct {
	AssessmentType AssessmentType `json:"assessmentType"`
	Questions      []string       `json:"questions"`
	Options        []string       `json:"options"`
}

// LifeArea is one entry of the values-inventory taxonomy.
type LifeArea struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Examples []string `json:"examples,omitempty"`
}

// Resource is a patient-facing support resource link.
type Resource struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// AppConfig is the server-delivered application configuration document.
type AppConfig struct {
	Assessments []AssessmentDefinition `json:"assessments"`
	LifeAreas   []LifeArea             `json:"lifeAreas"`
	Resources   []Resource             `json:"resources"`
}

// ---- backend-side records ----

// Document is the backend storage record: an opaque JSON body plus identity,
// revision, and placement metadata.
type Document struct {
	ID         uuid.UUID // document id (client-visible as _id)
	Collection string    // document name, e.g. "profile", "moodlog"
	PatientID  uuid.UUID // owning patient; Nil for top-level docs
	Singleton  bool      // at most one per (patient, collection)
	Seq        int64     // revision sequence, starts at 1
	Rev        string    // revision token, "<seq>-<fragment>"
	Body       []byte    // canonical JSON body without _id/_rev
	UpdatedAt  time.Time
}

// User represents a backend account.
type User struct {
	ID                 uuid.UUID
	Username           string
	Name               string
	Role               Role
	PatientID          uuid.UUID // Nil for clinician accounts
	PwdHash            []byte    // Argon2id(password, Salt)
	Salt               []byte
	MustChangePassword bool
	CreatedAt          time.Time
}
