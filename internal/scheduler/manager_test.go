package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/runctx"
)

type fakeTask struct {
	key      string
	triggers []TriggerInfo
	run      func(ctx context.Context, progress Progress) error

	mu     sync.Mutex
	runIDs []int64
}

func (f *fakeTask) Key() string                    { return f.key }
func (f *fakeTask) Name() string                   { return "Fake " + f.key }
func (f *fakeTask) Description() string            { return "Does fake things." }
func (f *fakeTask) Category() string               { return "Library" }
func (f *fakeTask) DefaultTriggers() []TriggerInfo { return f.triggers }

func (f *fakeTask) Execute(ctx context.Context, progress Progress) error {
	if id, ok := runctx.RunID(ctx); ok {
		f.mu.Lock()
		f.runIDs = append(f.runIDs, id)
		f.mu.Unlock()
	}
	if f.run != nil {
		return f.run(ctx, progress)
	}
	progress.Report(100)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *database.Manager) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewManager(db, filepath.Join(dir, "locks")), db
}

func TestTriggerInfo_Validate(t *testing.T) {
	tests := []struct {
		name    string
		trigger TriggerInfo
		wantErr bool
	}{
		{"cron", TriggerInfo{Type: TriggerCron, Cron: "0 3 * * *"}, false},
		{"cron descriptor", TriggerInfo{Type: TriggerCron, Cron: "@daily"}, false},
		{"bad cron", TriggerInfo{Type: TriggerCron, Cron: "every day"}, true},
		{"empty cron", TriggerInfo{Type: TriggerCron}, true},
		{"interval", TriggerInfo{Type: TriggerInterval, Interval: "6h"}, false},
		{"short interval", TriggerInfo{Type: TriggerInterval, Interval: "10s"}, true},
		{"bad interval", TriggerInfo{Type: TriggerInterval, Interval: "soon"}, true},
		{"startup", TriggerInfo{Type: TriggerStartup}, false},
		{"unknown", TriggerInfo{Type: "weekly"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trigger.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if spec := (TriggerInfo{Type: TriggerInterval, Interval: "90m"}).cronSpec(); spec != "@every 1h30m0s" {
		t.Errorf("cronSpec = %q", spec)
	}
}

func TestRunSync_RecordsCompletedRun(t *testing.T) {
	m, db := newTestManager(t)
	task := &fakeTask{key: "ExtractSubtitles", run: func(ctx context.Context, progress Progress) error {
		ip := progress.(ItemProgress)
		for i := 1; i <= 4; i++ {
			ip.ReportItems(i, 4)
			progress.Report(25 * float64(i))
		}
		return nil
	}}
	if err := m.Register(task); err != nil {
		t.Fatal(err)
	}

	var seen []float64
	run, err := m.RunSync(context.Background(), "ExtractSubtitles", "cli", ProgressFunc(func(p float64) {
		seen = append(seen, p)
	}))
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if len(seen) != 4 || seen[3] != 100 {
		t.Errorf("observer saw %v", seen)
	}

	stored, err := db.GetTaskRun(run.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetTaskRun: %v", err)
	}
	if stored.Status != database.RunStatusCompleted || stored.Progress != 100 {
		t.Errorf("unexpected run: %+v", stored)
	}
	if stored.ItemsProcessed != 4 || stored.ItemsTotal != 4 || stored.TriggeredBy != "cli" {
		t.Errorf("unexpected counters: %+v", stored)
	}
	if len(task.runIDs) != 1 || task.runIDs[0] != run.ID {
		t.Errorf("task should see its run id in context, got %v", task.runIDs)
	}
}

func TestRunSync_FailureAndCancellation(t *testing.T) {
	m, db := newTestManager(t)
	_ = m.Register(&fakeTask{key: "fails", run: func(context.Context, Progress) error {
		return errors.New("library unavailable")
	}})
	_ = m.Register(&fakeTask{key: "cancels", run: func(ctx context.Context, _ Progress) error {
		return ctx.Err()
	}})

	run, err := m.RunSync(context.Background(), "fails", "manual", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if stored, _ := db.GetTaskRun(run.ID); stored.Status != database.RunStatusFailed || stored.Error != "library unavailable" {
		t.Errorf("unexpected failed run: %+v", stored)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err = m.RunSync(ctx, "cancels", "manual", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stored, _ := db.GetTaskRun(run.ID); stored.Status != database.RunStatusCancelled {
		t.Errorf("unexpected cancelled run: %+v", stored)
	}
}

func TestRun_OneAtATimeAndCancel(t *testing.T) {
	m, db := newTestManager(t)
	started := make(chan struct{})
	_ = m.Register(&fakeTask{key: "slow", run: func(ctx context.Context, progress Progress) error {
		progress.Report(10)
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})

	runID, err := m.Run("slow", "manual")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-started

	if _, err := m.Run("slow", "manual"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run error = %v, want ErrAlreadyRunning", err)
	}

	info, err := m.Status("slow")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != StateRunning || info.CurrentRun == nil || info.CurrentRun.Progress != 10 {
		t.Errorf("unexpected running status: %+v", info)
	}

	if err := m.Cancel("slow"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx, "slow"); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	stored, _ := db.GetTaskRun(runID)
	if stored.Status != database.RunStatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
	if err := m.Cancel("slow"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Cancel on idle task = %v, want ErrNotRunning", err)
	}

	info, _ = m.Status("slow")
	if info.State != StateIdle || info.LastRun == nil || info.LastRun.ID != runID {
		t.Errorf("unexpected idle status: %+v", info)
	}
}

func TestRun_LockHeldByAnotherProcess(t *testing.T) {
	m, _ := newTestManager(t)
	_ = m.Register(&fakeTask{key: "locked"})

	other := flock.New(filepath.Join(m.lockDir, "locked.lock"))
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if ok, err := other.TryLock(); err != nil || !ok {
		t.Fatalf("pre-lock failed: %v", err)
	}
	defer other.Unlock()

	if _, err := m.Run("locked", "manual"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Run error = %v, want ErrAlreadyRunning", err)
	}
}

func TestUnknownTask(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Run("nope", "manual"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Run = %v", err)
	}
	if _, err := m.Status("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Status = %v", err)
	}
	if err := m.SetTriggers("nope", nil); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("SetTriggers = %v", err)
	}
}

func TestTriggers_PrecedenceAndPersistence(t *testing.T) {
	m, db := newTestManager(t)

	defaults := []TriggerInfo{{Type: TriggerInterval, Interval: "24h"}}
	configured := []TriggerInfo{{Type: TriggerCron, Cron: "0 3 * * *"}}

	if err := m.SetConfiguredTriggers("t", configured); err != nil {
		t.Fatal(err)
	}
	_ = m.Register(&fakeTask{key: "t", triggers: defaults})
	_ = m.Register(&fakeTask{key: "d", triggers: defaults})

	if got, _ := m.Triggers("t"); len(got) != 1 || got[0].Type != TriggerCron {
		t.Errorf("configured triggers should win over defaults, got %+v", got)
	}
	if got, _ := m.Triggers("d"); len(got) != 1 || got[0].Type != TriggerInterval {
		t.Errorf("defaults expected, got %+v", got)
	}

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	runtime := []TriggerInfo{{Type: TriggerInterval, Interval: "2h"}}
	if err := m.SetTriggers("t", runtime); err != nil {
		t.Fatalf("SetTriggers: %v", err)
	}
	if err := m.SetTriggers("t", []TriggerInfo{{Type: TriggerCron, Cron: "bogus"}}); err == nil {
		t.Error("expected validation error")
	}

	info, _ := m.Status("t")
	if info.NextRun == nil || time.Until(*info.NextRun) > 2*time.Hour+time.Minute {
		t.Errorf("unexpected next run: %v", info.NextRun)
	}

	// Runtime triggers survive a new config value and a new manager
	_ = m.SetConfiguredTriggers("t", configured)
	if got, _ := m.Triggers("t"); got[0].Interval != "2h" {
		t.Errorf("runtime triggers should win over config, got %+v", got)
	}

	m2 := NewManager(db, "")
	_ = m2.Register(&fakeTask{key: "t", triggers: defaults})
	if got, _ := m2.Triggers("t"); len(got) != 1 || got[0].Interval != "2h" {
		t.Errorf("triggers not loaded from settings, got %+v", got)
	}
}

func TestStart_FiresStartupTriggerAndMarksInterrupted(t *testing.T) {
	m, db := newTestManager(t)

	stale := &database.TaskRun{TaskKey: "boot", TriggeredBy: "schedule"}
	if err := db.CreateTaskRun(stale); err != nil {
		t.Fatal(err)
	}

	ran := make(chan struct{}, 1)
	_ = m.Register(&fakeTask{
		key:      "boot",
		triggers: []TriggerInfo{{Type: TriggerStartup}},
		run: func(context.Context, Progress) error {
			ran <- struct{}{}
			return nil
		},
	})

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("startup trigger did not fire")
	}

	if got, _ := db.GetTaskRun(stale.ID); got.Status != database.RunStatusFailed {
		t.Errorf("stale run status = %s, want failed", got.Status)
	}
}

func TestList_RegistrationOrder(t *testing.T) {
	m, _ := newTestManager(t)
	for _, key := range []string{"b", "a", "c"} {
		_ = m.Register(&fakeTask{key: key})
	}
	if err := m.Register(&fakeTask{key: "a"}); err == nil {
		t.Error("duplicate registration should fail")
	}

	list := m.List()
	if len(list) != 3 || list[0].Key != "b" || list[1].Key != "a" || list[2].Key != "c" {
		t.Errorf("unexpected order: %v", list)
	}
	if list[0].Category != "Library" || list[0].State != StateIdle {
		t.Errorf("unexpected info: %+v", list[0])
	}
}

type runRecorder struct {
	mu   sync.Mutex
	runs []database.TaskRun
}

func (r *runRecorder) RunFinished(run *database.TaskRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
}

func TestRunListener_SeesFinishedRuns(t *testing.T) {
	m, _ := newTestManager(t)
	boom := errors.New("boom")
	calls := 0
	task := &fakeTask{key: "ExtractSubtitles", run: func(ctx context.Context, progress Progress) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}}
	if err := m.Register(task); err != nil {
		t.Fatal(err)
	}
	rec := &runRecorder{}
	m.SetRunListener(rec)

	if _, err := m.RunSync(context.Background(), "ExtractSubtitles", "cli", nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := m.RunSync(context.Background(), "ExtractSubtitles", "cli", nil); !errors.Is(err, boom) {
		t.Fatalf("second run err = %v", err)
	}

	if len(rec.runs) != 2 {
		t.Fatalf("listener saw %d runs", len(rec.runs))
	}
	if rec.runs[0].Status != database.RunStatusCompleted || rec.runs[1].Status != database.RunStatusFailed {
		t.Errorf("statuses = %s, %s", rec.runs[0].Status, rec.runs[1].Status)
	}
	if rec.runs[1].Error != "boom" || rec.runs[1].CompletedAt == nil {
		t.Errorf("failed run = %+v", rec.runs[1])
	}
}
