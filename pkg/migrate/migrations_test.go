package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/formpay/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.Validate("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := migrate.Validate(""); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}

func TestValidateRejectsEmptyDir(t *testing.T) {
	if err := migrate.Validate(t.TempDir()); err == nil {
		t.Fatal("expected error for a dir without migrations")
	}
}

func TestValidateRejectsDuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\n-- +goose Down\n")
	for _, name := range []string{"20260101000000_a.sql", "20260101000000_b.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := migrate.Validate(dir); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestRunRequiresDB(t *testing.T) {
	if err := migrate.Run(context.Background(), nil, "", "up", nil); err == nil {
		t.Fatal("expected error without db")
	}
	if err := migrate.MigrateToVersion(context.Background(), nil, "", "abc", nil); err == nil {
		t.Fatal("expected invalid version error")
	}
}

func TestSettlementJobsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_settlement_jobs.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS settlement_jobs",
		"CONSTRAINT settlement_jobs_payment_id_key UNIQUE (payment_id)",
		"REFERENCES submissions(id) ON DELETE CASCADE",
		"CHECK (status IN ('queued', 'processing', 'success', 'failure'))",
		"DROP TABLE IF EXISTS settlement_jobs",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSubmissionsMigrationHasVersionColumn(t *testing.T) {
	content := readMigration(t, "*_create_submissions.sql")
	for _, sub := range []string{
		"version integer NOT NULL DEFAULT 1",
		"CONSTRAINT ux_submissions_webform_serial UNIQUE (webform_id, serial)",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := migrate.Validate(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Charge-Index!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_charge_index.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected error for unusable name")
	}
	if err := migrate.Validate(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
