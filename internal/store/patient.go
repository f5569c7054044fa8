// Package store implements the entity stores consumed by the view layer:
// each logical resource is owned by exactly one AsyncQuery, loaded and saved
// through the shared ServiceClient, with conflicts reconciled against the
// cached state.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/asyncquery"
	"github.com/carebridge/carelink/internal/httpx"
	"github.com/carebridge/carelink/internal/model"
)

// PatientStore holds the queries for one patient's documents.
type PatientStore struct {
	client    *httpx.Client
	log       *zap.Logger
	patientID string

	profile         *asyncquery.Query[model.Profile]
	clinicalHistory *asyncquery.Query[model.ClinicalHistory]
	safetyPlan      *asyncquery.Query[model.SafetyPlan]
	valuesInventory *asyncquery.Query[model.ValuesInventory]
	sessions        *asyncquery.Query[[]model.Session]
	assessments     *asyncquery.Query[[]model.Assessment]
	moodLogs        *asyncquery.Query[[]model.MoodLog]
	activityLogs    *asyncquery.Query[[]model.ActivityLog]
}

// NewPatientStore constructs the store for patientID. Queries live for the
// lifetime of the store; each logical resource owns exactly one.
func NewPatientStore(client *httpx.Client, log *zap.Logger, patientID string) *PatientStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PatientStore{
		client:    client,
		log:       log.With(zap.String("patient", patientID)),
		patientID: patientID,

		profile:         asyncquery.New[model.Profile]("profile"),
		clinicalHistory: asyncquery.New[model.ClinicalHistory]("clinicalHistory"),
		safetyPlan:      asyncquery.New[model.SafetyPlan]("safetyPlan"),
		valuesInventory: asyncquery.New[model.ValuesInventory]("valuesInventory"),
		sessions:        asyncquery.New[[]model.Session]("sessions"),
		assessments:     asyncquery.New[[]model.Assessment]("assessments"),
		moodLogs:        asyncquery.New[[]model.MoodLog]("moodLogs"),
		activityLogs:    asyncquery.New[[]model.ActivityLog]("activityLogs"),
	}
}

// PatientID returns the owning patient id.
func (p *PatientStore) PatientID() string { return p.patientID }

// Query accessors; views read states and values, and subscribe for changes.

func (p *PatientStore) Profile() *asyncquery.Query[model.Profile]                { return p.profile }
func (p *PatientStore) ClinicalHistory() *asyncquery.Query[model.ClinicalHistory] {
	return p.clinicalHistory
}
func (p *PatientStore) SafetyPlan() *asyncquery.Query[model.SafetyPlan] { return p.safetyPlan }
func (p *PatientStore) ValuesInventory() *asyncquery.Query[model.ValuesInventory] {
	return p.valuesInventory
}
func (p *PatientStore) Sessions() *asyncquery.Query[[]model.Session]         { return p.sessions }
func (p *PatientStore) Assessments() *asyncquery.Query[[]model.Assessment]   { return p.assessments }
func (p *PatientStore) MoodLogs() *asyncquery.Query[[]model.MoodLog]         { return p.moodLogs }
func (p *PatientStore) ActivityLogs() *asyncquery.Query[[]model.ActivityLog] { return p.activityLogs }

func (p *PatientStore) singletonPath(name string) string {
	return fmt.Sprintf("patient/%s/%s", p.patientID, name)
}

func (p *PatientStore) listPath(name string) string {
	return fmt.Sprintf("patient/%s/%ss", p.patientID, name)
}

func (p *PatientStore) itemPath(name, id string) string {
	return fmt.Sprintf("patient/%s/%s/%s", p.patientID, name, id)
}

// ---- profile ----

// LoadProfile fetches the profile document.
func (p *PatientStore) LoadProfile(ctx context.Context) (model.Profile, error) {
	return LoadAndLog(ctx, p.log, p.profile,
		func(ctx context.Context) (model.Profile, error) {
			return fetchDoc[model.Profile](ctx, p.client, p.singletonPath(model.DocProfile), model.DocProfile)
		},
		OnSingletonConflict[model.Profile](model.DocProfile),
	)
}

// SaveProfile replaces the profile document. On a revision conflict the
// query captures the server's authoritative profile.
func (p *PatientStore) SaveProfile(ctx context.Context, profile model.Profile) (model.Profile, error) {
	return LoadAndLog(ctx, p.log, p.profile,
		func(ctx context.Context) (model.Profile, error) {
			return putDoc(ctx, p.client, p.singletonPath(model.DocProfile), model.DocProfile, profile)
		},
		OnSingletonConflict[model.Profile](model.DocProfile),
	)
}

// UpdateProfile applies a typed partial update to the cached profile and
// saves the result.
func (p *PatientStore) UpdateProfile(ctx context.Context, u model.ProfileUpdate) (model.Profile, error) {
	cur := p.profile.Value()
	if cur.ID == "" {
		return model.Profile{}, errors.New("profile not loaded")
	}
	return p.SaveProfile(ctx, u.Apply(cur))
}

// ---- clinical history ----

func (p *PatientStore) LoadClinicalHistory(ctx context.Context) (model.ClinicalHistory, error) {
	return LoadAndLog(ctx, p.log, p.clinicalHistory,
		func(ctx context.Context) (model.ClinicalHistory, error) {
			return fetchDoc[model.ClinicalHistory](ctx, p.client, p.singletonPath(model.DocClinicalHistory), model.DocClinicalHistory)
		},
		OnSingletonConflict[model.ClinicalHistory](model.DocClinicalHistory),
	)
}

func (p *PatientStore) SaveClinicalHistory(ctx context.Context, h model.ClinicalHistory) (model.ClinicalHistory, error) {
	return LoadAndLog(ctx, p.log, p.clinicalHistory,
		func(ctx context.Context) (model.ClinicalHistory, error) {
			return putDoc(ctx, p.client, p.singletonPath(model.DocClinicalHistory), model.DocClinicalHistory, h)
		},
		OnSingletonConflict[model.ClinicalHistory](model.DocClinicalHistory),
	)
}

// ---- safety plan ----

func (p *PatientStore) LoadSafetyPlan(ctx context.Context) (model.SafetyPlan, error) {
	return LoadAndLog(ctx, p.log, p.safetyPlan,
		func(ctx context.Context) (model.SafetyPlan, error) {
			return fetchDoc[model.SafetyPlan](ctx, p.client, p.singletonPath(model.DocSafetyPlan), model.DocSafetyPlan)
		},
		OnSingletonConflict[model.SafetyPlan](model.DocSafetyPlan),
	)
}

func (p *PatientStore) SaveSafetyPlan(ctx context.Context, sp model.SafetyPlan) (model.SafetyPlan, error) {
	return LoadAndLog(ctx, p.log, p.safetyPlan,
		func(ctx context.Context) (model.SafetyPlan, error) {
			return putDoc(ctx, p.client, p.singletonPath(model.DocSafetyPlan), model.DocSafetyPlan, sp)
		},
		OnSingletonConflict[model.SafetyPlan](model.DocSafetyPlan),
	)
}

// ---- values inventory ----

func (p *PatientStore) LoadValuesInventory(ctx context.Context) (model.ValuesInventory, error) {
	return LoadAndLog(ctx, p.log, p.valuesInventory,
		func(ctx context.Context) (model.ValuesInventory, error) {
			return fetchDoc[model.ValuesInventory](ctx, p.client, p.singletonPath(model.DocValuesInventory), model.DocValuesInventory)
		},
		OnSingletonConflict[model.ValuesInventory](model.DocValuesInventory),
	)
}

func (p *PatientStore) SaveValuesInventory(ctx context.Context, vi model.ValuesInventory) (model.ValuesInventory, error) {
	return LoadAndLog(ctx, p.log, p.valuesInventory,
		func(ctx context.Context) (model.ValuesInventory, error) {
			return putDoc(ctx, p.client, p.singletonPath(model.DocValuesInventory), model.DocValuesInventory, vi)
		},
		OnSingletonConflict[model.ValuesInventory](model.DocValuesInventory),
	)
}

// ---- sessions ----

func (p *PatientStore) LoadSessions(ctx context.Context) ([]model.Session, error) {
	return LoadAndLog(ctx, p.log, p.sessions,
		func(ctx context.Context) ([]model.Session, error) {
			return fetchList[model.Session](ctx, p.client, p.listPath(model.DocSession), model.DocSession+"s")
		},
		p.sessionsConflict(),
	)
}

// AddSession creates a session entry and folds it into the cached list.
func (p *PatientStore) AddSession(ctx context.Context, s model.Session) ([]model.Session, error) {
	return LoadAndLog(ctx, p.log, p.sessions,
		func(ctx context.Context) ([]model.Session, error) {
			created, err := postDoc(ctx, p.client, p.listPath(model.DocSession), model.DocSession, s)
			if err != nil {
				return nil, err
			}
			return mergeItem(p.sessions.Value(), created), nil
		},
		p.sessionsConflict(),
	)
}

// SaveSession replaces one session entry; a conflict reconciles only the
// disputed item, keeping the rest of the cached list.
func (p *PatientStore) SaveSession(ctx context.Context, s model.Session) ([]model.Session, error) {
	return LoadAndLog(ctx, p.log, p.sessions,
		func(ctx context.Context) ([]model.Session, error) {
			updated, err := putDoc(ctx, p.client, p.itemPath(model.DocSession, s.ID), model.DocSession, s)
			if err != nil {
				return nil, err
			}
			return mergeItem(p.sessions.Value(), updated), nil
		},
		p.sessionsConflict(),
	)
}

func (p *PatientStore) sessionsConflict() asyncquery.ConflictResolver[[]model.Session] {
	return OnArrayConflict(p.log, model.DocSession, func() []model.Session { return p.sessions.Value() })
}

// ---- assessments ----

func (p *PatientStore) LoadAssessments(ctx context.Context) ([]model.Assessment, error) {
	return LoadAndLog(ctx, p.log, p.assessments,
		func(ctx context.Context) ([]model.Assessment, error) {
			return fetchList[model.Assessment](ctx, p.client, p.listPath(model.DocAssessment), model.DocAssessment+"s")
		},
		p.assessmentsConflict(),
	)
}

// AddAssessment assigns a new assessment.
func (p *PatientStore) AddAssessment(ctx context.Context, a model.Assessment) ([]model.Assessment, error) {
	return LoadAndLog(ctx, p.log, p.assessments,
		func(ctx context.Context) ([]model.Assessment, error) {
			created, err := postDoc(ctx, p.client, p.listPath(model.DocAssessment), model.DocAssessment, a)
			if err != nil {
				return nil, err
			}
			return mergeItem(p.assessments.Value(), created), nil
		},
		p.assessmentsConflict(),
	)
}

// SaveAssessment submits answers for (or edits) one assessment.
func (p *PatientStore) SaveAssessment(ctx context.Context, a model.Assessment) ([]model.Assessment, error) {
	return LoadAndLog(ctx, p.log, p.assessments,
		func(ctx context.Context) ([]model.Assessment, error) {
			updated, err := putDoc(ctx, p.client, p.itemPath(model.DocAssessment, a.ID), model.DocAssessment, a)
			if err != nil {
				return nil, err
			}
			return mergeItem(p.assessments.Value(), updated), nil
		},
		p.assessmentsConflict(),
	)
}

func (p *PatientStore) assessmentsConflict() asyncquery.ConflictResolver[[]model.Assessment] {
	return OnArrayConflict(p.log, model.DocAssessment, func() []model.Assessment { return p.assessments.Value() })
}

// ---- mood logs ----

func (p *PatientStore) LoadMoodLogs(ctx context.Context) ([]model.MoodLog, error) {
	return LoadAndLog(ctx, p.log, p.moodLogs,
		func(ctx context.Context) ([]model.MoodLog, error) {
			return fetchList[model.MoodLog](ctx, p.client, p.listPath(model.DocMoodLog), model.DocMoodLog+"s")
		},
		p.moodLogsConflict(),
	)
}

func (p *PatientStore) AddMoodLog(ctx context.Context, m model.MoodLog) ([]model.MoodLog, error) {
	return LoadAndLog(ctx, p.log, p.moodLogs,
		func(ctx context.Context) ([]model.MoodLog, error) {
			created, err := postDoc(ctx, p.client, p.listPath(model.DocMoodLog), model.DocMoodLog, m)
			if err != nil {
				return nil, err
			}
			return mergeItem(p.moodLogs.Value(), created), nil
		},
		p.moodLogsConflict(),
	)
}

func (p *PatientStore) moodLogsConflict() asyncquery.ConflictResolver[[]model.MoodLog] {
	return OnArrayConflict(p.log, model.DocMoodLog, func() []model.MoodLog { return p.moodLogs.Value() })
}

// ---- activity logs ----

func (p *PatientStore) LoadActivityLogs(ctx context.Context) ([]model.ActivityLog, error) {
	return LoadAndLog(ctx, p.log, p.activityLogs,
		func(ctx context.Context) ([]model.ActivityLog, error) {
			return fetchList[model.ActivityLog](ctx, p.client, p.listPath(model.DocActivityLog), model.DocActivityLog+"s")
		},
		p.activityLogsConflict(),
	)
}

func (p *PatientStore) AddActivityLog(ctx context.Context, a model.ActivityLog) ([]model.ActivityLog, error) {
	return LoadAndLog(ctx, p.log, p.activityLogs,
		func(ctx context.Context) ([]model.ActivityLog, error) {
			created, err := postDoc(ctx, p.client, p.listPath(model.DocActivityLog), model.DocActivityLog, a)
			if err != nil {
				return nil, err
			}
			return mergeItem(p.activityLogs.Value(), created), nil
		},
		p.activityLogsConflict(),
	)
}

func (p *PatientStore) activityLogsConflict() asyncquery.ConflictResolver[[]model.ActivityLog] {
	return OnArrayConflict(p.log, model.DocActivityLog, func() []model.ActivityLog { return p.activityLogs.Value() })
}

// ---- derived read models ----

// LatestAssessment returns the most recently completed assessment of the
// given instrument.
func (p *PatientStore) LatestAssessment(typ model.AssessmentType) (model.Assessment, bool) {
	var best model.Assessment
	found := false
	for _, a := range p.assessments.Value() {
		if a.AssessmentType != typ || !a.Completed() {
			continue
		}
		if !found || a.CompletedAt.After(best.CompletedAt) {
			best = a
			found = true
		}
	}
	return best, found
}

// LatestMood returns the most recent mood log entry.
func (p *PatientStore) LatestMood() (model.MoodLog, bool) {
	var best model.MoodLog
	found := false
	for _, m := range p.moodLogs.Value() {
		if !found || m.RecordedAt.After(best.RecordedAt) {
			best = m
			found = true
		}
	}
	return best, found
}

// Load fetches every resource concurrently with an all-settled join: each
// query records its own outcome and a partial failure does not abort the
// rest. The combined error lists every failed resource.
func (p *PatientStore) Load(ctx context.Context) error {
	loads := []func(context.Context) error{
		func(ctx context.Context) error { _, err := p.LoadProfile(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadClinicalHistory(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadSafetyPlan(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadValuesInventory(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadSessions(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadAssessments(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadMoodLogs(ctx); return err },
		func(ctx context.Context) error { _, err := p.LoadActivityLogs(ctx); return err },
	}
	return allSettled(ctx, loads)
}

func allSettled(ctx context.Context, loads []func(context.Context) error) error {
	errs := make([]error, len(loads))
	var wg sync.WaitGroup
	for i, load := range loads {
		wg.Add(1)
		go func(i int, load func(context.Context) error) {
			defer wg.Done()
			errs[i] = load(ctx)
		}(i, load)
	}
	wg.Wait()
	return errors.Join(errs...)
}
