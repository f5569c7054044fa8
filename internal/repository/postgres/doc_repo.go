package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
	"github.com/carebridge/carelink/internal/repository"
)

// DocRepo implements DocumentRepository using PostgreSQL (jsonb bodies).
type DocRepo struct{ db *DB }

// NewDocRepo constructs a document repository.
func NewDocRepo(db *DB) *DocRepo { return &DocRepo{db: db} }

const docColumns = `id, collection, patient_id, singleton, seq, rev, body, updated_at`

func scanDoc(row pgx.Row) (*model.Document, error) {
	var d model.Document
	var patientID *uuid.UUID
	err := row.Scan(&d.ID, &d.Collection, &patientID, &d.Singleton, &d.Seq, &d.Rev, &d.Body, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if patientID != nil {
		d.PatientID = *patientID
	}
	return &d, nil
}

// Get returns a document by collection and id.
func (r *DocRepo) Get(ctx context.Context, collection string, id uuid.UUID) (*model.Document, error) {
	const q = `SELECT ` + docColumns + ` FROM documents WHERE collection=$1 AND id=$2`
	return scanDoc(r.db.Pool.QueryRow(ctx, q, collection, id))
}

// GetSingleton returns the patient's singleton document of a collection.
func (r *DocRepo) GetSingleton(ctx context.Context, patientID uuid.UUID, collection string) (*model.Document, error) {
	const q = `SELECT ` + docColumns + ` FROM documents WHERE patient_id=$1 AND collection=$2 AND singleton`
	return scanDoc(r.db.Pool.QueryRow(ctx, q, patientID, collection))
}

// List returns a patient's documents of a collection, oldest first.
func (r *DocRepo) List(ctx context.Context, patientID uuid.UUID, collection string) ([]model.Document, error) {
	const q = `
SELECT ` + docColumns + `
FROM documents
WHERE patient_id=$1 AND collection=$2
ORDER BY updated_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, patientID, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocs(rows)
}

// ListAll returns every document of a collection.
func (r *DocRepo) ListAll(ctx context.Context, collection string) ([]model.Document, error) {
	const q = `
SELECT ` + docColumns + `
FROM documents
WHERE collection=$1
ORDER BY updated_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDocs(rows)
}

func collectDocs(rows pgx.Rows) ([]model.Document, error) {
	var out []model.Document
	for rows.Next() {
		var d model.Document
		var patientID *uuid.UUID
		if err := rows.Scan(&d.ID, &d.Collection, &patientID, &d.Singleton, &d.Seq, &d.Rev, &d.Body, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if patientID != nil {
			d.PatientID = *patientID
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Create inserts a document at revision 1.
func (r *DocRepo) Create(ctx context.Context, doc *model.Document) error {
	doc.Seq = 1
	doc.Rev = repository.NewRev(doc.Seq)
	doc.UpdatedAt = time.Now().UTC()

	var patientID *uuid.UUID
	if doc.PatientID != uuid.Nil {
		patientID = &doc.PatientID
	}
	const q = `
INSERT INTO documents (id, collection, patient_id, singleton, seq, rev, body, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Pool.Exec(ctx, q,
		doc.ID, doc.Collection, patientID, doc.Singleton, doc.Seq, doc.Rev, doc.Body, doc.UpdatedAt)
	if isDuplicateKey(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Update replaces a document body with a base revision check. On a stale
// revision the current document is returned along with errs.ErrRevConflict.
func (r *DocRepo) Update(
	ctx context.Context, collection string, id uuid.UUID, baseRev string, body []byte,
) (doc *model.Document, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const sel = `SELECT ` + docColumns + ` FROM documents WHERE collection=$1 AND id=$2 FOR UPDATE`
	cur, scanErr := scanDoc(tx.QueryRow(ctx, sel, collection, id))
	if scanErr != nil {
		return nil, scanErr
	}
	if cur.Rev != baseRev {
		// Hand the authoritative document back for the 409 body.
		return cur, errs.ErrRevConflict
	}

	updated := *cur
	updated.Seq = cur.Seq + 1
	updated.Rev = repository.NewRev(updated.Seq)
	updated.Body = body
	updated.UpdatedAt = time.Now().UTC()

	const upd = `UPDATE documents SET body=$3, seq=$4, rev=$5, updated_at=$6 WHERE collection=$1 AND id=$2`
	if _, err = tx.Exec(ctx, upd, collection, id, updated.Body, updated.Seq, updated.Rev, updated.UpdatedAt); err != nil {
		return nil, err
	}
	return &updated, nil
}
