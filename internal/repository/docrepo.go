// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/carebridge/carelink/internal/model"
	"github.com/gofrs/uuid/v5"
)

// DocumentRepository provides revisioned access to registry documents.
// Update methods enforce optimistic concurrency: a stale base revision
// yields errs.ErrRevConflict together with the current document so callers
// can return it as the authoritative conflict body.
type DocumentRepository interface {
	// Get returns a document by collection and id.
	Get(ctx context.Context, collection string, id uuid.UUID) (*model.Document, error)

	// GetSingleton returns the patient's singleton document of a collection.
	GetSingleton(ctx context.Context, patientID uuid.UUID, collection string) (*model.Document, error)

	// List returns a patient's documents of a collection, oldest first.
	List(ctx context.Context, patientID uuid.UUID, collection string) ([]model.Document, error)

	// ListAll returns every document of a collection (e.g. all patients).
	ListAll(ctx context.Context, collection string) ([]model.Document, error)

	// Create inserts a new document at revision 1. The caller assigns the id.
	Create(ctx context.Context, doc *model.Document) error

	// Update replaces a document body with a base revision check. On a stale
	// revision it returns the current document and errs.ErrRevConflict.
	Update(ctx context.Context, collection string, id uuid.UUID, baseRev string, body []byte) (*model.Document, error)
}

// NewRev builds a revision token for a sequence number: "<seq>-<fragment>".
// The random fragment distinguishes divergent writes at the same sequence.
func NewRev(seq int64) string {
	u, err := uuid.NewV4()
	if err != nil {
		// crypto/rand failure; revision uniqueness degrades to seq only
		return fmt.Sprintf("%d-0", seq)
	}
	return fmt.Sprintf("%d-%s", seq, hex.EncodeToString(u.Bytes()[:4]))
}
