package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/carebridge/carelink/internal/asyncquery"
	"github.com/carebridge/carelink/internal/authstore"
	"github.com/carebridge/carelink/internal/httpx"
	"github.com/carebridge/carelink/internal/model"
)

// RootStore is the app-session composition root: it wires the auth session
// into the shared client and owns the session-wide queries (app config,
// patient list). Per-patient stores are created on demand.
type RootStore struct {
	client *httpx.Client
	log    *zap.Logger

	Auth     *authstore.Store
	Patients *PatientsStore
	config   *asyncquery.Query[model.AppConfig]
}

type configEnvelope struct {
	Config model.AppConfig `json:"config"`
}

// NewRootStore wires auth into the client (live token accessor plus the
// access-denied callback) and constructs the session stores.
func NewRootStore(client *httpx.Client, auth *authstore.Store, log *zap.Logger) *RootStore {
	if log == nil {
		log = zap.NewNop()
	}
	client.ApplyAuth(auth.Token, auth.HandleUnauthorized)
	return &RootStore{
		client:   client,
		log:      log,
		Auth:     auth,
		Patients: NewPatientsStore(client, log),
		config:   asyncquery.New[model.AppConfig]("appConfig"),
	}
}

// Config returns the app configuration query.
func (r *RootStore) Config() *asyncquery.Query[model.AppConfig] { return r.config }

// LoadConfig fetches the server-delivered application configuration.
func (r *RootStore) LoadConfig(ctx context.Context) (model.AppConfig, error) {
	return LoadAndLog(ctx, r.log, r.config,
		func(ctx context.Context) (model.AppConfig, error) {
			var env configEnvelope
			if err := r.client.Get(ctx, "app/config", &env); err != nil {
				return model.AppConfig{}, err
			}
			return env.Config, nil
		},
		nil,
	)
}

// Load fetches the session-wide resources with an all-settled join; a
// failing resource does not abort the others.
func (r *RootStore) Load(ctx context.Context) error {
	return allSettled(ctx, []func(context.Context) error{
		func(ctx context.Context) error { _, err := r.LoadConfig(ctx); return err },
		func(ctx context.Context) error { _, err := r.Patients.Load(ctx); return err },
	})
}

// PatientStoreFor creates the per-patient store sharing this session's
// client (and therefore its revision map and auth configuration).
func (r *RootStore) PatientStoreFor(patientID string) *PatientStore {
	return NewPatientStore(r.client, r.log, patientID)
}
