package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/scheduler"
)

type blockingTask struct {
	release chan struct{}
}

func (b *blockingTask) Key() string                              { return "ExtractSubtitles" }
func (b *blockingTask) Name() string                             { return "Extract Subtitles" }
func (b *blockingTask) Description() string                      { return "Extracts embedded subtitles." }
func (b *blockingTask) Category() string                         { return "Library" }
func (b *blockingTask) DefaultTriggers() []scheduler.TriggerInfo { return nil }

func (b *blockingTask) Execute(ctx context.Context, progress scheduler.Progress) error {
	select {
	case <-b.release:
		progress.Report(100)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTestRouter(t *testing.T) (http.Handler, *blockingTask, *scheduler.Manager, *database.Manager) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sched := scheduler.NewManager(db, "")
	task := &blockingTask{release: make(chan struct{})}
	if err := sched.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}

	h := New(sched, db, "1.2.3")
	r := chi.NewRouter()
	r.Get("/api/health", h.Health)
	r.Get("/api/tasks", h.ListTasks)
	r.Get("/api/tasks/{key}", h.GetTask)
	r.Post("/api/tasks/{key}/run", h.RunTask)
	r.Post("/api/tasks/{key}/cancel", h.CancelTask)
	r.Get("/api/tasks/{key}/runs", h.ListRuns)
	r.Get("/api/tasks/{key}/triggers", h.GetTriggers)
	r.Put("/api/tasks/{key}/triggers", h.PutTriggers)
	r.Get("/api/tasks/{key}/extractions", h.ListExtractions)
	return r, task, sched, db
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _, _ := newTestRouter(t)
	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != "1.2.3" || body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestListAndGetTask(t *testing.T) {
	h, _, _, _ := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/tasks", "")
	var tasks []scheduler.TaskInfo
	if err := json.NewDecoder(rec.Body).Decode(&tasks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Key != "ExtractSubtitles" || tasks[0].State != scheduler.StateIdle {
		t.Errorf("tasks = %+v", tasks)
	}

	if rec := do(t, h, http.MethodGet, "/api/tasks/ExtractSubtitles", ""); rec.Code != http.StatusOK {
		t.Errorf("get task status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/tasks/Nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", rec.Code)
	}
}

func TestRunCancelLifecycle(t *testing.T) {
	h, _, sched, _ := newTestRouter(t)

	if rec := do(t, h, http.MethodPost, "/api/tasks/ExtractSubtitles/cancel", ""); rec.Code != http.StatusConflict {
		t.Errorf("cancel idle status = %d, want 409", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/tasks/ExtractSubtitles/run", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("run status = %d: %s", rec.Code, rec.Body)
	}
	var started map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if started["run_id"] <= 0 {
		t.Errorf("run_id = %d", started["run_id"])
	}

	if rec := do(t, h, http.MethodPost, "/api/tasks/ExtractSubtitles/run", ""); rec.Code != http.StatusConflict {
		t.Errorf("second run status = %d, want 409", rec.Code)
	}

	if rec := do(t, h, http.MethodPost, "/api/tasks/ExtractSubtitles/cancel", ""); rec.Code != http.StatusAccepted {
		t.Errorf("cancel status = %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Wait(ctx, "ExtractSubtitles"); err != nil {
		t.Fatalf("wait: %v", err)
	}

	rec = do(t, h, http.MethodGet, "/api/tasks/ExtractSubtitles/runs?limit=5", "")
	var runs []database.TaskRun
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != database.RunStatusCancelled {
		t.Errorf("runs = %+v", runs)
	}

	if rec := do(t, h, http.MethodPost, "/api/tasks/Nope/run", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", rec.Code)
	}
}

func TestTriggers(t *testing.T) {
	h, _, _, _ := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/tasks/ExtractSubtitles/triggers", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("default triggers = %s, want []", rec.Body)
	}

	rec = do(t, h, http.MethodPut, "/api/tasks/ExtractSubtitles/triggers", `[{"type":"interval","interval":"12h"}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body)
	}
	var triggers []scheduler.TriggerInfo
	if err := json.NewDecoder(rec.Body).Decode(&triggers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(triggers) != 1 || triggers[0].Interval != "12h" {
		t.Errorf("triggers = %+v", triggers)
	}

	bad := []string{
		`[{"type":"cron","cron":"whenever"}]`,
		`{"type":"startup"}`,
		`[{"type":"startup","extra":1}]`,
	}
	for _, body := range bad {
		if rec := do(t, h, http.MethodPut, "/api/tasks/ExtractSubtitles/triggers", body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %s status = %d, want 400", body, rec.Code)
		}
	}
}

func TestListExtractions(t *testing.T) {
	h, _, _, db := newTestRouter(t)

	if err := db.UpsertExtraction(&database.Extraction{
		ItemID:        "item1",
		ItemName:      "Movie",
		MediaSourceID: "src1",
		StreamIndex:   2,
		Codec:         "subrip",
		Output:        "/cache/src1/2.srt",
		SizeBytes:     10,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rec := do(t, h, http.MethodGet, "/api/tasks/ExtractSubtitles/extractions", "")
	var list []database.Extraction
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].Output != "/cache/src1/2.srt" {
		t.Errorf("extractions = %+v", list)
	}

	rec = do(t, h, http.MethodGet, "/api/tasks/ExtractSubtitles/extractions?run_id=99", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("filtered extractions = %s, want []", rec.Body)
	}

	if rec := do(t, h, http.MethodGet, "/api/tasks/ExtractSubtitles/extractions?run_id=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad run_id status = %d, want 400", rec.Code)
	}
}

func TestQueryLimit(t *testing.T) {
	tests := map[string]int{
		"":           defaultListLimit,
		"?limit=5":   5,
		"?limit=0":   defaultListLimit,
		"?limit=abc": defaultListLimit,
		"?limit=999": maxListLimit,
	}
	for q, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x"+q, nil)
		if got := queryLimit(req); got != want {
			t.Errorf("queryLimit(%q) = %d, want %d", q, got, want)
		}
	}
}
