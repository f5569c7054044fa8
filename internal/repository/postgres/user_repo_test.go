package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/carelink/internal/errs"
	"github.com/carebridge/carelink/internal/model"
)

var userCols = []string{"id", "username", "name", "role", "patient_id", "pwd_hash", "salt", "must_change_password", "created_at"}

func TestUserRepo_Create_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "lucy.vasquez",
		Name:     "Lucy Vasquez",
		Role:     model.RoleClinician,
		PwdHash:  []byte("hash"),
		Salt:     []byte("salt"),
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Username, u.Name, "clinician", (*uuid.UUID)(nil), u.PwdHash, u.Salt, false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Create(context.Background(), u))
	require.False(t, u.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_Create_DuplicateUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: "lucy.vasquez", Role: model.RoleClinician}
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Username, u.Name, "clinician", (*uuid.UUID)(nil), u.PwdHash, u.Salt, false, pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.ErrorIs(t, r.Create(context.Background(), u), errs.ErrAlreadyExists)
}

func TestUserRepo_GetByUsername_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	patientID := uuid.Must(uuid.NewV4())
	rows := pgxmock.NewRows(userCols).
		AddRow(id, "persephone", "Persephone Rosenberg", "patient", &patientID, []byte("hash"), []byte("salt"), true, time.Now().UTC())

	mock.ExpectQuery(`SELECT .+ FROM users WHERE username=\$1`).
		WithArgs("persephone").
		WillReturnRows(rows)

	u, err := r.GetByUsername(context.Background(), "persephone")
	require.NoError(t, err)
	require.Equal(t, model.RolePatient, u.Role)
	require.Equal(t, patientID, u.PatientID)
	require.True(t, u.MustChangePassword)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`SELECT .+ FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(userCols))

	_, err := r.GetByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUserRepo_SetPassword_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE users SET pwd_hash=\$2, salt=\$3, must_change_password=false WHERE id=\$1`).
		WithArgs(id, []byte("newhash"), []byte("newsalt")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, r.SetPassword(context.Background(), id, []byte("newhash"), []byte("newsalt")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepo_SetPassword_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`UPDATE users SET`).
		WithArgs(id, []byte("h"), []byte("s")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, r.SetPassword(context.Background(), id, []byte("h"), []byte("s")), errs.ErrNotFound)
}
