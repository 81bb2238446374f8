package database

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Manager {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer second.Close()

	var version int
	if err := second.queryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements(`
		-- comment
		CREATE TABLE a (id INTEGER);

		CREATE TABLE b (
			id INTEGER
		);
		SELECT 1
	`)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
}

func TestSettings_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	if v, err := db.GetSetting("missing"); err != nil || v != "" {
		t.Fatalf("GetSetting(missing) = %q, %v", v, err)
	}
	if err := db.SetSetting("k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := db.SetSetting("k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	if v, _ := db.GetSetting("k"); v != "v2" {
		t.Errorf("GetSetting = %q, want v2", v)
	}
	if err := db.SetSettingJSON("j", []string{"a"}); err != nil {
		t.Fatalf("SetSettingJSON: %v", err)
	}
	if v, _ := db.GetSetting("j"); v != `["a"]` {
		t.Errorf("GetSetting(j) = %q", v)
	}
	if err := db.DeleteSetting("k"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if v, _ := db.GetSetting("k"); v != "" {
		t.Errorf("expected deleted setting, got %q", v)
	}
}

func TestTaskRuns_Lifecycle(t *testing.T) {
	db := openTestDB(t)

	run := &TaskRun{TaskKey: "ExtractSubtitles", TriggeredBy: "manual"}
	if err := db.CreateTaskRun(run); err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run ID to be set")
	}

	if err := db.UpdateTaskRunProgress(run.ID, 50, 5, 10); err != nil {
		t.Fatalf("UpdateTaskRunProgress: %v", err)
	}

	got, err := db.GetTaskRun(run.ID)
	if err != nil || got == nil {
		t.Fatalf("GetTaskRun: %v, %v", got, err)
	}
	if got.Status != RunStatusRunning || got.Progress != 50 || got.ItemsProcessed != 5 {
		t.Errorf("unexpected running state: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("running run should not have completed_at")
	}

	run.Status = RunStatusCompleted
	run.Progress = 100
	run.ItemsProcessed = 10
	run.ItemsTotal = 10
	if err := db.FinishTaskRun(run); err != nil {
		t.Fatalf("FinishTaskRun: %v", err)
	}

	latest, err := db.GetLatestTaskRun("ExtractSubtitles")
	if err != nil || latest == nil {
		t.Fatalf("GetLatestTaskRun: %v, %v", latest, err)
	}
	if latest.Status != RunStatusCompleted || latest.CompletedAt == nil {
		t.Errorf("unexpected finished state: %+v", latest)
	}

	if missing, err := db.GetTaskRun(9999); err != nil || missing != nil {
		t.Errorf("GetTaskRun(missing) = %v, %v", missing, err)
	}
}

func TestTaskRuns_ListAndInterrupted(t *testing.T) {
	db := openTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := range 3 {
		run := &TaskRun{TaskKey: "ExtractSubtitles", TriggeredBy: "schedule", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateTaskRun(run); err != nil {
			t.Fatalf("CreateTaskRun: %v", err)
		}
	}
	other := &TaskRun{TaskKey: "Other", TriggeredBy: "manual"}
	if err := db.CreateTaskRun(other); err != nil {
		t.Fatalf("CreateTaskRun: %v", err)
	}

	runs, err := db.ListTaskRuns("ExtractSubtitles", 2)
	if err != nil {
		t.Fatalf("ListTaskRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.After(runs[1].StartedAt) {
		t.Error("expected newest run first")
	}

	n, err := db.MarkInterruptedRuns()
	if err != nil {
		t.Fatalf("MarkInterruptedRuns: %v", err)
	}
	if n != 4 {
		t.Errorf("marked %d runs, want 4", n)
	}
	latest, _ := db.GetLatestTaskRun("Other")
	if latest.Status != RunStatusFailed || latest.Error == "" {
		t.Errorf("expected interrupted run to be failed with error, got %+v", latest)
	}
}

func TestCleanupTaskRuns_KeepsRecentAndRunning(t *testing.T) {
	db := openTestDB(t)

	old := &TaskRun{TaskKey: "ExtractSubtitles", TriggeredBy: "manual", StartedAt: time.Now().UTC().Add(-72 * time.Hour)}
	if err := db.CreateTaskRun(old); err != nil {
		t.Fatal(err)
	}
	completed := time.Now().UTC().Add(-71 * time.Hour)
	old.Status = RunStatusCompleted
	old.CompletedAt = &completed
	if err := db.FinishTaskRun(old); err != nil {
		t.Fatal(err)
	}

	recent := &TaskRun{TaskKey: "ExtractSubtitles", TriggeredBy: "manual"}
	if err := db.CreateTaskRun(recent); err != nil {
		t.Fatal(err)
	}

	n, err := db.CleanupTaskRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupTaskRuns: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d runs, want 1", n)
	}
	if got, _ := db.GetTaskRun(recent.ID); got == nil {
		t.Error("running run was deleted")
	}
}

func TestExtractions_UpsertAndList(t *testing.T) {
	db := openTestDB(t)

	run := &TaskRun{TaskKey: "ExtractSubtitles", TriggeredBy: "manual"}
	if err := db.CreateTaskRun(run); err != nil {
		t.Fatal(err)
	}

	e := &Extraction{
		RunID:         &run.ID,
		ItemID:        "item1",
		ItemName:      "Movie",
		MediaSourceID: "src1",
		StreamIndex:   2,
		Codec:         "subrip",
		Language:      "eng",
		Output:        "/cache/src1/2.srt",
		SizeBytes:     100,
	}
	if err := db.UpsertExtraction(e); err != nil {
		t.Fatalf("UpsertExtraction: %v", err)
	}
	e.SizeBytes = 200
	if err := db.UpsertExtraction(e); err != nil {
		t.Fatalf("UpsertExtraction again: %v", err)
	}

	list, err := db.ListExtractions(run.ID, 10)
	if err != nil {
		t.Fatalf("ListExtractions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 extraction after upsert, got %d", len(list))
	}
	if list[0].SizeBytes != 200 || list[0].Language != "eng" || list[0].RunID == nil {
		t.Errorf("unexpected extraction: %+v", list[0])
	}

	n, err := db.CountExtractions(run.ID)
	if err != nil || n != 1 {
		t.Errorf("CountExtractions = %d, %v", n, err)
	}
}
