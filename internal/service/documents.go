package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository"
)

// singletonCollections maps each known collection to whether it is a
// one-per-patient document.
var singletonCollections = map[string]bool{
	model.DocProfile:         true,
	model.DocClinicalHistory: true,
	model.DocSafetyPlan:      true,
	model.DocValuesInventory: true,
	model.DocSession:         false,
	model.DocAssessment:      false,
	model.DocMoodLog:         false,
	model.DocActivityLog:     false,
}

// DocumentService defines revisioned document operations scoped to patients.
// Updates return the current document together with errs.ErrRevConflict when
// the base revision is stale, so handlers can emit the authoritative 409 body.
type DocumentService interface {
	// GetSingleton returns the patient's singleton document.
	GetSingleton(ctx context.Context, patientID uuid.UUID, collection string) (*model.Document, error)
	// PutSingleton replaces the patient's singleton document with a rev check.
	PutSingleton(ctx context.Context, patientID uuid.UUID, collection string, body []byte, baseRev string) (*model.Document, error)
	// List returns the patient's documents of a collection.
	List(ctx context.Context, patientID uuid.UUID, collection string) ([]model.Document, error)
	// Add creates a collection item for the patient.
	Add(ctx context.Context, patientID uuid.UUID, collection string, body []byte) (*model.Document, error)
	// Put replaces one collection item with a rev check.
	Put(ctx context.Context, patientID uuid.UUID, collection string, id uuid.UUID, body []byte, baseRev string) (*model.Document, error)
	// ListPatients returns every patient summary document.
	ListPatients(ctx context.Context) ([]model.Document, error)
	// CreatePatient registers a new patient summary document.
	CreatePatient(ctx context.Context, id uuid.UUID, body []byte) (*model.Document, error)
}

type DocumentServiceImpl struct {
	repo repository.DocumentRepository
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(repo repository.DocumentRepository) *DocumentServiceImpl {
	return &DocumentServiceImpl{repo: repo}
}

func validateCollection(collection string, wantSingleton bool) error {
	singleton, ok := singletonCollections[collection]
	if !ok {
		return fmt.Errorf("validation: unknown collection %q", collection)
	}
	if singleton != wantSingleton {
		return fmt.Errorf("validation: collection %q kind mismatch", collection)
	}
	return nil
}

// GetSingleton returns the patient's singleton document.
func (s *DocumentServiceImpl) GetSingleton(ctx context.Context, patientID uuid.UUID, collection string) (*model.Document, error) {
	if patientID == uuid.Nil {
		return nil, errors.New("validation: empty patientID")
	}
	if err := validateCollection(collection, true); err != nil {
		return nil, err
	}
	return s.repo.GetSingleton(ctx, patientID, collection)
}

// PutSingleton replaces the patient's singleton document (rev CAS).
func (s *DocumentServiceImpl) PutSingleton(
	ctx context.Context, patientID uuid.UUID, collection string, body []byte, baseRev string,
) (*model.Document, error) {
	if patientID == uuid.Nil {
		return nil, errors.New("validation: empty patientID")
	}
	if err := validateCollection(collection, true); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("validation: empty body")
	}
	if baseRev == "" {
		return nil, errors.New("validation: missing base revision")
	}
	cur, err := s.repo.GetSingleton(ctx, patientID, collection)
	if err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, collection, cur.ID, baseRev, body)
}

// List returns the patient's documents of a collection, oldest first.
func (s *DocumentServiceImpl) List(ctx context.Context, patientID uuid.UUID, collection string) ([]model.Document, error) {
	if patientID == uuid.Nil {
		return nil, errors.New("validation: empty patientID")
	}
	if err := validateCollection(collection, false); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, patientID, collection)
}

// Add creates a collection item owned by the patient.
func (s *DocumentServiceImpl) Add(ctx context.Context, patientID uuid.UUID, collection string, body []byte) (*model.Document, error) {
	if patientID == uuid.Nil {
		return nil, errors.New("validation: empty patientID")
	}
	if err := validateCollection(collection, false); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("validation: empty body")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	doc := &model.Document{ID: id, Collection: collection, PatientID: patientID, Body: body}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Put replaces one collection item (rev CAS). The item must belong to the
// patient in the URL.
func (s *DocumentServiceImpl) Put(
	ctx context.Context, patientID uuid.UUID, collection string, id uuid.UUID, body []byte, baseRev string,
) (*model.Document, error) {
	if patientID == uuid.Nil || id == uuid.Nil {
		return nil, errors.New("validation: empty patientID/id")
	}
	if err := validateCollection(collection, false); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("validation: empty body")
	}
	if baseRev == "" {
		return nil, errors.New("validation: missing base revision")
	}
	cur, err := s.repo.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if cur.PatientID != patientID {
		return nil, errs.ErrNotFound
	}
	return s.repo.Update(ctx, collection, id, baseRev, body)
}

// ListPatients returns every patient summary document.
func (s *DocumentServiceImpl) ListPatients(ctx context.Context) ([]model.Document, error) {
	return s.repo.ListAll(ctx, model.DocPatient)
}

// CreatePatient registers a new patient summary document.
func (s *DocumentServiceImpl) CreatePatient(ctx context.Context, id uuid.UUID, body []byte) (*model.Document, error) {
	if id == uuid.Nil {
		return nil, errors.New("validation: empty id")
	}
	if len(body) == 0 {
		return nil, errors.New("validation: empty body")
	}
	doc := &model.Document{ID: id, Collection: model.DocPatient, PatientID: id, Body: body}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
