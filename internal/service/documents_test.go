package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository/memory"
)

func newDocs(t *testing.T) (*DocumentServiceImpl, *memory.DocStore) {
	t.Helper()
	repo := memory.NewDocStore()
	return NewDocumentService(repo), repo
}

func seedSingleton(t *testing.T, repo *memory.DocStore, patientID uuid.UUID, collection string, body string) *model.Document {
	t.Helper()
	doc := &model.Document{
		ID:         uuid.Must(uuid.NewV4()),
		Collection: collection,
		PatientID:  patientID,
		Singleton:  true,
		Body:       []byte(body),
	}
	if err := repo.Create(context.Background(), doc); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return doc
}

func TestDocuments_SingletonRoundTrip(t *testing.T) {
	s, repo := newDocs(t)
	ctx := context.Background()
	patientID := uuid.Must(uuid.NewV4())
	seeded := seedSingleton(t, repo, patientID, model.DocProfile, `{"name":"A"}`)

	got, err := s.GetSingleton(ctx, patientID, model.DocProfile)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != seeded.ID || got.Rev != seeded.Rev {
		t.Fatalf("got %+v, want the seeded document", got)
	}

	updated, err := s.PutSingleton(ctx, patientID, model.DocProfile, []byte(`{"name":"B"}`), got.Rev)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if updated.Seq != 2 || updated.Rev == got.Rev {
		t.Fatalf("revision not advanced: %+v", updated)
	}
	var body map[string]string
	_ = json.Unmarshal(updated.Body, &body)
	if body["name"] != "B" {
		t.Fatalf("body = %s", updated.Body)
	}
}

func TestDocuments_PutSingletonStaleRevReturnsCurrent(t *testing.T) {
	s, repo := newDocs(t)
	ctx := context.Background()
	patientID := uuid.Must(uuid.NewV4())
	seeded := seedSingleton(t, repo, patientID, model.DocSafetyPlan, `{"assigned":false}`)

	if _, err := s.PutSingleton(ctx, patientID, model.DocSafetyPlan, []byte(`{"assigned":true}`), seeded.Rev); err != nil {
		t.Fatalf("first put: %v", err)
	}

	cur, err := s.PutSingleton(ctx, patientID, model.DocSafetyPlan, []byte(`{"assigned":false}`), seeded.Rev)
	if !errors.Is(err, errs.ErrRevConflict) {
		t.Fatalf("err = %v, want ErrRevConflict", err)
	}
	if cur == nil || cur.Seq != 2 {
		t.Fatalf("conflict did not return the current document: %+v", cur)
	}
}

func TestDocuments_CollectionKindChecked(t *testing.T) {
	s, _ := newDocs(t)
	ctx := context.Background()
	patientID := uuid.Must(uuid.NewV4())

	if _, err := s.GetSingleton(ctx, patientID, model.DocMoodLog); err == nil || !strings.HasPrefix(err.Error(), "validation:") {
		t.Fatalf("singleton read of a collection: %v", err)
	}
	if _, err := s.List(ctx, patientID, model.DocProfile); err == nil || !strings.HasPrefix(err.Error(), "validation:") {
		t.Fatalf("list of a singleton: %v", err)
	}
	if _, err := s.List(ctx, patientID, "unknown"); err == nil || !strings.HasPrefix(err.Error(), "validation:") {
		t.Fatalf("unknown collection: %v", err)
	}
}

func TestDocuments_AddAndList(t *testing.T) {
	s, _ := newDocs(t)
	ctx := context.Background()
	patientID := uuid.Must(uuid.NewV4())

	for i := 0; i < 3; i++ {
		if _, err := s.Add(ctx, patientID, model.DocMoodLog, []byte(`{"rating":5}`)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	// A different patient's entries stay invisible.
	if _, err := s.Add(ctx, uuid.Must(uuid.NewV4()), model.DocMoodLog, []byte(`{"rating":1}`)); err != nil {
		t.Fatalf("add other: %v", err)
	}

	docs, err := s.List(ctx, patientID, model.DocMoodLog)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("len = %d, want 3", len(docs))
	}
	for _, d := range docs {
		if d.Seq != 1 || d.Rev == "" {
			t.Fatalf("created doc missing revision: %+v", d)
		}
	}
}

func TestDocuments_PutEnforcesOwnership(t *testing.T) {
	s, _ := newDocs(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	intruder := uuid.Must(uuid.NewV4())

	doc, err := s.Add(ctx, owner, model.DocSession, []byte(`{"note":"x"}`))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := s.Put(ctx, intruder, model.DocSession, doc.ID, []byte(`{"note":"y"}`), doc.Rev); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("cross-patient put err = %v, want ErrNotFound", err)
	}
	if _, err := s.Put(ctx, owner, model.DocSession, doc.ID, []byte(`{"note":"y"}`), doc.Rev); err != nil {
		t.Fatalf("owner put: %v", err)
	}
}

func TestDocuments_Patients(t *testing.T) {
	s, _ := newDocs(t)
	ctx := context.Background()

	id := uuid.Must(uuid.NewV4())
	doc, err := s.CreatePatient(ctx, id, []byte(`{"name":"New Patient","mrn":"MRN-9"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.PatientID != id {
		t.Fatalf("patient doc owns itself: %+v", doc)
	}

	all, err := s.ListPatients(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].ID != id {
		t.Fatalf("patients = %+v", all)
	}
}
