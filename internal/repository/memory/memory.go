// Package memory provides in-process repository implementations for tests
// and database-free demo runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository"
)

type docKey struct {
	collection string
	id         uuid.UUID
}

// DocStore is an in-memory DocumentRepository.
type DocStore struct {
	mu   sync.RWMutex
	docs map[docKey]*model.Document
}

// NewDocStore constructs an empty in-memory document store.
func NewDocStore() *DocStore {
	return &DocStore{docs: make(map[docKey]*model.Document)}
}

func copyDoc(d *model.Document) *model.Document {
	c := *d
	c.Body = append([]byte(nil), d.Body...)
	return &c
}

// Get returns a document by collection and id.
func (s *DocStore) Get(_ context.Context, collection string, id uuid.UUID) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[docKey{collection, id}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyDoc(d), nil
}

// GetSingleton returns the patient's singleton document of a collection.
func (s *DocStore) GetSingleton(_ context.Context, patientID uuid.UUID, collection string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.Singleton && d.Collection == collection && d.PatientID == patientID {
			return copyDoc(d), nil
		}
	}
	return nil, errs.ErrNotFound
}

// List returns a patient's documents of a collection, oldest first.
func (s *DocStore) List(_ context.Context, patientID uuid.UUID, collection string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, d := range s.docs {
		if d.Collection == collection && d.PatientID == patientID {
			out = append(out, *copyDoc(d))
		}
	}
	sortDocs(out)
	return out, nil
}

// ListAll returns every document of a collection.
func (s *DocStore) ListAll(_ context.Context, collection string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Document
	for _, d := range s.docs {
		if d.Collection == collection {
			out = append(out, *copyDoc(d))
		}
	}
	sortDocs(out)
	return out, nil
}

func sortDocs(docs []model.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.Before(docs[j].UpdatedAt)
		}
		return docs[i].ID.String() < docs[j].ID.String()
	})
}

// Create inserts a document at revision 1.
func (s *DocStore) Create(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{doc.Collection, doc.ID}
	if _, exists := s.docs[k]; exists {
		return errs.ErrAlreadyExists
	}
	if doc.Singleton {
		for _, d := range s.docs {
			if d.Singleton && d.Collection == doc.Collection && d.PatientID == doc.PatientID {
				return errs.ErrAlreadyExists
			}
		}
	}
	doc.Seq = 1
	doc.Rev = repository.NewRev(doc.Seq)
	doc.UpdatedAt = time.Now().UTC()
	s.docs[k] = copyDoc(doc)
	return nil
}

// Update replaces a document body with a base revision check.
func (s *DocStore) Update(
	_ context.Context, collection string, id uuid.UUID, baseRev string, body []byte,
) (*model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docKey{collection, id}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if d.Rev != baseRev {
		return copyDoc(d), errs.ErrRevConflict
	}
	d.Seq++
	d.Rev = repository.NewRev(d.Seq)
	d.Body = append([]byte(nil), body...)
	d.UpdatedAt = time.Now().UTC()
	return copyDoc(d), nil
}

// UserStore is an in-memory UserRepository.
type UserStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*model.User
	names map[string]uuid.UUID
}

// NewUserStore constructs an empty in-memory user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:  make(map[uuid.UUID]*model.User),
		names: make(map[string]uuid.UUID),
	}
}

// Create inserts a new account.
func (s *UserStore) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.names[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cpy := *u
	s.byID[u.ID] = &cpy
	s.names[u.Username] = u.ID
	return nil
}

// GetByID loads an account by id.
func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *u
	return &cpy, nil
}

// GetByUsername loads an account by username.
func (s *UserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cpy := *s.byID[id]
	return &cpy, nil
}

// SetPassword replaces the password hash and clears the forced-change flag.
func (s *UserStore) SetPassword(_ context.Context, id uuid.UUID, hash, salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.PwdHash = append([]byte(nil), hash...)
	u.Salt = append([]byte(nil), salt...)
	u.MustChangePassword = false
	return nil
}
