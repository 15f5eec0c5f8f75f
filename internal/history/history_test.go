package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridianspace/antdeploy/internal/ants"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func sampleRecord(started time.Time) ants.DeploymentRecord {
	return ants.DeploymentRecord{
		RunID:      uuid.New().String(),
		Operation:  "deploy",
		Channel:    2,
		Mode:       "automatic",
		Burn:       8 * time.Second,
		Attempts:   1,
		Outcome:    "deployed",
		StartedAt:  started,
		FinishedAt: started.Add(9 * time.Second),
	}
}

func TestRecordDeployment_RoundTrip(t *testing.T) {
	store, _ := openTestStore(t)

	started := time.Date(2026, 3, 14, 10, 30, 0, 500_000_000, time.UTC)
	want := sampleRecord(started)
	want.Outcome = "error"
	want.Error = "deploy retries exhausted"
	want.Attempts = 3

	if err := store.RecordDeployment(want); err != nil {
		t.Fatalf("Failed to record run: %v", err)
	}

	runs, err := store.Runs(10)
	if err != nil {
		t.Fatalf("Failed to query runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}

	got := runs[0]
	if got.RunID != want.RunID {
		t.Errorf("RunID = %q, want %q", got.RunID, want.RunID)
	}
	if got.Operation != want.Operation || got.Channel != want.Channel || got.Mode != want.Mode {
		t.Errorf("Identity fields = %q/%d/%q, want %q/%d/%q",
			got.Operation, got.Channel, got.Mode, want.Operation, want.Channel, want.Mode)
	}
	if got.Burn != want.Burn {
		t.Errorf("Burn = %v, want %v", got.Burn, want.Burn)
	}
	if got.Attempts != want.Attempts {
		t.Errorf("Attempts = %d, want %d", got.Attempts, want.Attempts)
	}
	if got.Outcome != want.Outcome || got.Error != want.Error {
		t.Errorf("Result fields = %q/%q, want %q/%q", got.Outcome, got.Error, want.Outcome, want.Error)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}
	if !got.FinishedAt.Equal(want.FinishedAt) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, want.FinishedAt)
	}
}

func TestRuns_NewestFirst(t *testing.T) {
	store, _ := openTestStore(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := sampleRecord(base.Add(time.Duration(i) * time.Minute))
		ids = append(ids, rec.RunID)
		if err := store.RecordDeployment(rec); err != nil {
			t.Fatalf("Failed to record run %d: %v", i, err)
		}
	}

	runs, err := store.Runs(10)
	if err != nil {
		t.Fatalf("Failed to query runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if runs[i].RunID != want {
			t.Errorf("runs[%d].RunID = %q, want %q", i, runs[i].RunID, want)
		}
	}
}

func TestRuns_LimitApplied(t *testing.T) {
	store, _ := openTestStore(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := store.RecordDeployment(sampleRecord(base.Add(time.Duration(i) * time.Second))); err != nil {
			t.Fatalf("Failed to record run %d: %v", i, err)
		}
	}

	runs, err := store.Runs(2)
	if err != nil {
		t.Fatalf("Failed to query runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected 2 runs, got %d", len(runs))
	}

	// Out-of-range limits fall back to the default rather than failing.
	runs, err = store.Runs(0)
	if err != nil {
		t.Fatalf("Failed to query runs with zero limit: %v", err)
	}
	if len(runs) != 5 {
		t.Errorf("Expected 5 runs with default limit, got %d", len(runs))
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	rec := sampleRecord(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	if err := store.RecordDeployment(rec); err != nil {
		t.Fatalf("Failed to record run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer store.Close()

	runs, err := store.Runs(10)
	if err != nil {
		t.Fatalf("Failed to query runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != rec.RunID {
		t.Errorf("Reopened store returned %d runs", len(runs))
	}
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "history.db"))
	if err == nil {
		t.Fatal("Expected an error for a path in a missing directory")
	}
}
