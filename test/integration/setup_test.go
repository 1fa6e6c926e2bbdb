package integration

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medconnect/medconnect/internal/domain/appointment"
	"github.com/medconnect/medconnect/internal/domain/identity"
	"github.com/medconnect/medconnect/internal/platform/db"
)

// globalPool points at a throwaway schema that TestMain migrates and drops.
var globalPool *pgxpool.Pool

// TestMain runs the suite against TEST_DATABASE_URL. Without it every test in
// the package is skipped.
func TestMain(m *testing.M) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		fmt.Println("TEST_DATABASE_URL not set; skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()
	pool, cleanup, err := setupSchema(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// setupSchema creates a uniquely named schema, pins every pooled connection
// to it and applies the migrations.
func setupSchema(ctx context.Context, url string) (*pgxpool.Pool, func(), error) {
	schema := "medconnect_it_" + randomSuffix()

	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		return nil, nil, fmt.Errorf("create schema: %w", err)
	}
	dropSchema := func() {
		if _, err := admin.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to drop schema %s: %v\n", schema, err)
		}
		admin.Close()
	}

	cfg, err := db.ParsePoolConfig(db.PoolConfig{URL: url, MaxConns: 10, AppName: "medconnect-integration"})
	if err != nil {
		dropSchema()
		return nil, nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		dropSchema()
		return nil, nil, fmt.Errorf("create pool: %w", err)
	}

	if _, err := db.NewMigrator(pool, findMigrationsDir()).Up(ctx); err != nil {
		pool.Close()
		dropSchema()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return pool, func() {
		pool.Close()
		dropSchema()
	}, nil
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// findMigrationsDir locates the migrations directory relative to this test file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// createTestUser inserts a user with a unique email.
func createTestUser(t *testing.T, ctx context.Context, name string, role identity.Role) *identity.User {
	t.Helper()
	u := &identity.User{
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@example.test", role, randomSuffix()),
		Role:         role,
		PasswordHash: "not-a-real-hash",
	}
	if err := identity.NewUserRepo(globalPool).Create(ctx, u); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

// createTestAppointment inserts an appointment directly; scheduling is owned
// by another service.
func createTestAppointment(t *testing.T, ctx context.Context, patientID, doctorID uuid.UUID, at time.Time, status appointment.Status) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := globalPool.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, status)
		VALUES ($1, $2, $3, $4, $5)`,
		id, patientID, doctorID, at, string(status))
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return id
}

func ptrInt(v int) *int { return &v }
