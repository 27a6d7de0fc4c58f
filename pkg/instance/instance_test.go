package instance

import "testing"

func TestGetIDPrefersWorkerID(t *testing.T) {
	t.Setenv("FORMPAY_WORKER_ID", "settlement-3")
	t.Setenv("DYNO", "worker.1")
	if got := GetID(); got != "settlement-3" {
		t.Fatalf("expected settlement-3, got %q", got)
	}
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	t.Setenv("FORMPAY_WORKER_ID", "")
	t.Setenv("DYNO", "worker.1")
	if got := GetID(); got != "worker.1" {
		t.Fatalf("expected worker.1, got %q", got)
	}
}

func TestGetIDNeverEmpty(t *testing.T) {
	t.Setenv("FORMPAY_WORKER_ID", "")
	t.Setenv("DYNO", "")
	if GetID() == "" {
		t.Fatalf("expected a non-empty id")
	}
}
