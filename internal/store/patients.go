package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/asyncquery"
	"github.com/carebridge/carelink/internal/httpx"
	"github.com/carebridge/carelink/internal/model"
)

// PatientsStore holds the registry console's patient list.
type PatientsStore struct {
	client   *httpx.Client
	log      *zap.Logger
	patients *asyncquery.Query[[]model.PatientSummary]
}

// NewPatientsStore constructs the registry patient list store.
func NewPatientsStore(client *httpx.Client, log *zap.Logger) *PatientsStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &PatientsStore{
		client:   client,
		log:      log,
		patients: asyncquery.New[[]model.PatientSummary]("patients"),
	}
}

// Patients returns the list query.
func (s *PatientsStore) Patients() *asyncquery.Query[[]model.PatientSummary] { return s.patients }

// Load fetches the patient list.
func (s *PatientsStore) Load(ctx context.Context) ([]model.PatientSummary, error) {
	return LoadAndLog(ctx, s.log, s.patients,
		func(ctx context.Context) ([]model.PatientSummary, error) {
			return fetchList[model.PatientSummary](ctx, s.client, "patients", model.DocPatient+"s")
		},
		OnArrayConflict(s.log, model.DocPatient, func() []model.PatientSummary { return s.patients.Value() }),
	)
}

// ByStatus returns the cached patients with the given treatment status.
func (s *PatientsStore) ByStatus(status model.TreatmentStatus) []model.PatientSummary {
	var out []model.PatientSummary
	for _, p := range s.patients.Value() {
		if p.TreatmentStatus == status {
			out = append(out, p)
		}
	}
	return out
}

// FlaggedForSafety returns the cached patients flagged for safety review.
func (s *PatientsStore) FlaggedForSafety() []model.PatientSummary {
	var out []model.PatientSummary
	for _, p := range s.patients.Value() {
		if p.FlaggedForSafety {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the cached summary for a patient id.
func (s *PatientsStore) Find(id string) (model.PatientSummary, bool) {
	for _, p := range s.patients.Value() {
		if p.ID == id {
			return p, true
		}
	}
	return model.PatientSummary{}, false
}
