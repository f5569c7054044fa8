// Command carelinkd starts the CareLink registry HTTP backend.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/carelink/internal/fake"
	"github.com/carebridge/carelink/internal/limiter"
	"github.com/carebridge/carelink/internal/migrate"
	"github.com/carebridge/carelink/internal/repository"
	"github.com/carebridge/carelink/internal/repository/memory"
	"github.com/carebridge/carelink/internal/repository/postgres"
	"github.com/carebridge/carelink/internal/server/httpapi"
	"github.com/carebridge/carelink/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations when a database is configured,
// and starts the HTTP server.
func main() {
	// Flags
	addr := flag.String("addr", ":8080", "listen address")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (empty runs an in-memory registry)")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (required)")
	accessTTL := flag.Duration("access-ttl", 15*time.Minute, "access token TTL")
	certFile := flag.String("tls-cert", "", "TLS certificate (PEM, optional)")
	keyFile := flag.String("tls-key", "", "TLS private key (PEM, optional)")
	seed := flag.Bool("seed", false, "seed demo accounts and patients")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	if *jwtKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		docRepo  repository.DocumentRepository
		userRepo repository.UserRepository
		lim      limiter.Limiter
	)
	if *dsn != "" {
		if err := migrate.Up(ctx, *dsn); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		pool, err := pgxpool.New(ctx, *dsn)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer pool.Close()

		db := &postgres.DB{Pool: pool}
		docRepo = postgres.NewDocRepo(db)
		userRepo = postgres.NewUserRepo(db)
		lim = limiter.NewPG(pool, 15*time.Minute, 5, 15*time.Minute)
	} else {
		logger.Info("no DSN configured, using in-memory registry")
		docRepo = memory.NewDocStore()
		userRepo = memory.NewUserStore()
		lim = limiter.NewMemory(15*time.Minute, 5, 15*time.Minute)
		*seed = true
	}

	// Services
	authSvc := service.NewAuthService(userRepo, []byte(*jwtKey), *accessTTL, lim)
	docSvc := service.NewDocumentService(docRepo)

	if *seed {
		if err := fake.Seed(ctx, docRepo, authSvc); err != nil {
			logger.Fatal("seed demo data", zap.Error(err))
		}
		logger.Info("seeded demo registry",
			zap.String("clinician", fake.ClinicianUsername),
			zap.String("patient", fake.PatientUsername),
		)
	}

	api := httpapi.New(authSvc, docSvc, fake.DefaultAppConfig(), logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if *certFile != "" && *keyFile != "" {
			logger.Info("listening (TLS)", zap.String("addr", *addr))
			errCh <- srv.ListenAndServeTLS(*certFile, *keyFile)
			return
		}
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
