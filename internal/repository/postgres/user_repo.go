package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new account.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var patientID *uuid.UUID
	if u.PatientID != uuid.Nil {
		patientID = &u.PatientID
	}
	const q = `
INSERT INTO users (id, username, name, role, patient_id, pwd_hash, salt, must_change_password, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, u.Username, u.Name, string(u.Role), patientID, u.PwdHash, u.Salt, u.MustChangePassword, u.CreatedAt)
	if isDuplicateKey(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

const userColumns = `id, username, name, role, patient_id, pwd_hash, salt, must_change_password, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	var patientID *uuid.UUID
	err := row.Scan(&u.ID, &u.Username, &u.Name, &role, &patientID, &u.PwdHash, &u.Salt, &u.MustChangePassword, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	if patientID != nil {
		u.PatientID = *patientID
	}
	return &u, nil
}

// GetByID loads an account by id.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername loads an account by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username=$1`
	return scanUser(r.db.Pool.QueryRow(ctx, q, username))
}

// SetPassword replaces the password hash and clears the forced-change flag.
func (r *UserRepo) SetPassword(ctx context.Context, id uuid.UUID, hash, salt []byte) error {
	const q = `UPDATE users SET pwd_hash=$2, salt=$3, must_change_password=false WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, hash, salt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
