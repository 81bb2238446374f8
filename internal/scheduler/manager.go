package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/runctx"
	"github.com/saltyorg/subextract/internal/web/sse"
)

// State is the live state of a task
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// TaskInfo is a snapshot of a registered task
type TaskInfo struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	State       State             `json:"state"`
	Triggers    []TriggerInfo     `json:"triggers"`
	CurrentRun  *database.TaskRun `json:"current_run,omitempty"`
	LastRun     *database.TaskRun `json:"last_run,omitempty"`
	NextRun     *time.Time        `json:"next_run,omitempty"`
}

type taskState struct {
	task     Task
	triggers []TriggerInfo
	entries  []cron.EntryID
	current  *activeRun
}

type activeRun struct {
	run      *database.TaskRun
	progress *runProgress
	ctx      context.Context
	cancel   context.CancelFunc
	lock     *flock.Flock
	done     chan struct{}
}

// Manager owns the registered tasks and their schedules
type Manager struct {
	db        *database.Manager
	settings  *config.Loader
	lockDir   string
	sseBroker *sse.Broker
	listener  RunListener
	cron      *cron.Cron

	mu         sync.RWMutex
	tasks      map[string]*taskState
	order      []string
	configured map[string][]TriggerInfo
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	wg         sync.WaitGroup

	maintenanceEntry cron.EntryID
}

// NewManager creates a scheduler. Lock files guarding against concurrent runs across
// processes are kept in lockDir; an empty lockDir disables them.
func NewManager(db *database.Manager, lockDir string) *Manager {
	return &Manager{
		db:         db,
		settings:   config.NewLoader(db),
		lockDir:    lockDir,
		cron:       cron.New(),
		tasks:      make(map[string]*taskState),
		configured: make(map[string][]TriggerInfo),
		ctx:        context.Background(),
	}
}

// SetSSEBroker sets the SSE broker for broadcasting events
func (m *Manager) SetSSEBroker(broker *sse.Broker) {
	m.sseBroker = broker
}

// SetRunListener sets the listener told about every finished run
func (m *Manager) SetRunListener(l RunListener) {
	m.listener = l
}

func (m *Manager) broadcastEvent(eventType sse.EventType, data any) {
	if m.sseBroker != nil {
		m.sseBroker.Broadcast(sse.Event{Type: eventType, Data: data})
	}
}

func triggersSettingKey(key string) string {
	return "tasks." + key + ".triggers"
}

// Register adds a task. Its triggers come from the settings table if they were changed
// at runtime, then from the config file, then from the task's defaults.
func (m *Manager) Register(task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := task.Key()
	if _, exists := m.tasks[key]; exists {
		return fmt.Errorf("task %s is already registered", key)
	}

	st := &taskState{task: task, triggers: m.resolveTriggers(task)}
	m.tasks[key] = st
	m.order = append(m.order, key)

	if m.running {
		m.schedule(st)
	}

	log.Debug().Str("task", key).Int("triggers", len(st.triggers)).Msg("Task registered")
	return nil
}

func (m *Manager) resolveTriggers(task Task) []TriggerInfo {
	var stored []TriggerInfo
	if m.settings.JSON(triggersSettingKey(task.Key()), &stored) {
		err := ValidateTriggers(stored)
		if err == nil {
			return stored
		}
		log.Warn().Err(err).Str("task", task.Key()).Msg("Ignoring invalid stored triggers")
	}
	if t, ok := m.configured[task.Key()]; ok {
		return t
	}
	return task.DefaultTriggers()
}

// SetConfiguredTriggers sets the config file triggers for a task. They apply unless
// triggers were changed at runtime through SetTriggers.
func (m *Manager) SetConfiguredTriggers(key string, triggers []TriggerInfo) error {
	if err := ValidateTriggers(triggers); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.configured[key] = triggers
	st, ok := m.tasks[key]
	if !ok {
		return nil
	}

	var stored []TriggerInfo
	if m.settings.JSON(triggersSettingKey(key), &stored) {
		return nil
	}

	st.triggers = triggers
	if m.running {
		m.schedule(st)
	}
	log.Info().Str("task", key).Int("triggers", len(triggers)).Msg("Applied configured triggers")
	return nil
}

// Start loads schedules, fails runs a previous process left behind, and fires startup triggers
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	if n, err := m.db.MarkInterruptedRuns(); err != nil {
		log.Warn().Err(err).Msg("Failed to mark interrupted task runs")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("Marked interrupted task runs as failed")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.running = true

	for _, key := range m.order {
		m.schedule(m.tasks[key])
	}
	m.cron.Start()

	for _, key := range m.order {
		for _, t := range m.tasks[key].triggers {
			if t.Type == TriggerStartup {
				go m.scheduledRun(key, "startup")
				break
			}
		}
	}

	log.Info().Int("tasks", len(m.order)).Msg("Scheduler started")
	return nil
}

// Stop cancels running tasks, stops the cron scheduler, and waits for runs to finish
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	<-m.cron.Stop().Done()
	m.wg.Wait()

	log.Info().Msg("Scheduler stopped")
	return nil
}

// EnableMaintenance schedules a daily cleanup of runs older than retention
func (m *Manager) EnableMaintenance(retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maintenanceEntry != 0 {
		m.cron.Remove(m.maintenanceEntry)
		m.maintenanceEntry = 0
	}
	if retention <= 0 {
		return nil
	}

	id, err := m.cron.AddFunc("@daily", func() {
		m.runMaintenance(retention)
	})
	if err != nil {
		return err
	}
	m.maintenanceEntry = id
	return nil
}

func (m *Manager) runMaintenance(retention time.Duration) {
	n, err := m.db.CleanupTaskRuns(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to clean up task runs")
		return
	}
	if err := m.db.Optimize(); err != nil {
		log.Warn().Err(err).Msg("Failed to optimize database")
	}
	log.Info().Int64("deleted", n).Dur("retention", retention).Msg("Task run cleanup finished")
}

// schedule replaces the cron entries of a task. Callers hold m.mu.
func (m *Manager) schedule(st *taskState) {
	for _, id := range st.entries {
		m.cron.Remove(id)
	}
	st.entries = nil

	key := st.task.Key()
	for _, t := range st.triggers {
		spec := t.cronSpec()
		if spec == "" {
			continue
		}
		id, err := m.cron.AddFunc(spec, func() {
			m.scheduledRun(key, string(t.Type))
		})
		if err != nil {
			log.Warn().Err(err).Str("task", key).Str("spec", spec).Msg("Failed to schedule trigger")
			continue
		}
		st.entries = append(st.entries, id)
	}
}

// scheduledRun is called by triggers
func (m *Manager) scheduledRun(key, triggeredBy string) {
	runID, err := m.Run(key, triggeredBy)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Info().Str("task", key).Str("triggered_by", triggeredBy).Msg("Skipping trigger, task is already running")
	case err != nil:
		log.Error().Err(err).Str("task", key).Str("triggered_by", triggeredBy).Msg("Failed to start scheduled task")
	default:
		log.Info().Str("task", key).Str("triggered_by", triggeredBy).Int64("run_id", runID).Msg("Started scheduled task")
	}
}

// Run starts the task in the background and returns the new run's ID
func (m *Manager) Run(key, triggeredBy string) (int64, error) {
	m.mu.RLock()
	parent := m.ctx
	m.mu.RUnlock()

	active, st, err := m.begin(parent, key, triggeredBy, nil)
	if err != nil {
		return 0, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, _ = m.execute(st, active)
	}()

	return active.run.ID, nil
}

// RunSync runs the task in the foreground, reporting progress to observer as well
func (m *Manager) RunSync(ctx context.Context, key, triggeredBy string, observer Progress) (*database.TaskRun, error) {
	active, st, err := m.begin(ctx, key, triggeredBy, observer)
	if err != nil {
		return nil, err
	}
	return m.execute(st, active)
}

// begin claims the task for a new run. Callers must pass the result to execute.
func (m *Manager) begin(parent context.Context, key, triggeredBy string, observer Progress) (*activeRun, *taskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[key]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", key, ErrTaskNotFound)
	}
	if st.current != nil {
		return nil, nil, fmt.Errorf("%s: %w", key, ErrAlreadyRunning)
	}

	lock, err := m.acquireLock(key)
	if err != nil {
		return nil, nil, err
	}

	run := &database.TaskRun{TaskKey: key, TriggeredBy: triggeredBy}
	if err := m.db.CreateTaskRun(run); err != nil {
		releaseLock(lock)
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(runctx.WithRunID(parent, run.ID))
	active := &activeRun{
		run:      run,
		progress: newRunProgress(m, run, observer),
		ctx:      ctx,
		cancel:   cancel,
		lock:     lock,
		done:     make(chan struct{}),
	}
	st.current = active

	m.broadcastEvent(sse.EventTaskStarted, map[string]any{
		"task_key":     key,
		"run_id":       run.ID,
		"triggered_by": triggeredBy,
	})
	log.Info().Str("task", key).Int64("run_id", run.ID).Str("triggered_by", triggeredBy).Msg("Task started")
	return active, st, nil
}

// execute runs the task and records the outcome, returning the final run
func (m *Manager) execute(st *taskState, active *activeRun) (*database.TaskRun, error) {
	defer active.cancel()

	err := st.task.Execute(active.ctx, active.progress)

	run := active.progress.snapshot()
	switch {
	case err == nil:
		run.Status = database.RunStatusCompleted
		run.Progress = 100
	case errors.Is(err, context.Canceled):
		run.Status = database.RunStatusCancelled
		run.Error = err.Error()
	default:
		run.Status = database.RunStatusFailed
		run.Error = err.Error()
	}

	if dbErr := m.db.FinishTaskRun(run); dbErr != nil {
		log.Error().Err(dbErr).Int64("run_id", run.ID).Msg("Failed to record task result")
	}

	m.mu.Lock()
	st.current = nil
	m.mu.Unlock()
	releaseLock(active.lock)
	close(active.done)

	event := log.Info()
	eventType := sse.EventTaskCompleted
	switch run.Status {
	case database.RunStatusCancelled:
		eventType = sse.EventTaskCancelled
	case database.RunStatusFailed:
		event = log.Error().Err(err)
		eventType = sse.EventTaskFailed
	}
	event.
		Str("task", run.TaskKey).
		Int64("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("items", run.ItemsProcessed).
		Dur("duration", run.Duration()).
		Msg("Task finished")

	m.broadcastEvent(eventType, run)
	if m.listener != nil {
		m.listener.RunFinished(run)
	}
	return run, err
}

func (m *Manager) acquireLock(key string) (*flock.Flock, error) {
	if m.lockDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(m.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(filepath.Join(m.lockDir, key+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w (held by another process)", key, ErrAlreadyRunning)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	if err := lock.Unlock(); err != nil {
		log.Warn().Err(err).Str("path", lock.Path()).Msg("Failed to release task lock")
	}
}

// Cancel asks the running instance of a task to stop
func (m *Manager) Cancel(key string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.tasks[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrTaskNotFound)
	}
	if st.current == nil {
		return fmt.Errorf("%s: %w", key, ErrNotRunning)
	}

	st.current.cancel()
	log.Info().Str("task", key).Int64("run_id", st.current.run.ID).Msg("Task cancellation requested")
	return nil
}

// Wait blocks until the task is idle or ctx is done
func (m *Manager) Wait(ctx context.Context, key string) error {
	m.mu.RLock()
	st, ok := m.tasks[key]
	var done chan struct{}
	if ok && st.current != nil {
		done = st.current.done
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", key, ErrTaskNotFound)
	}
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of one task
func (m *Manager) Status(key string) (*TaskInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.tasks[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrTaskNotFound)
	}
	return m.info(st), nil
}

// List returns every task in registration order
func (m *Manager) List() []*TaskInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*TaskInfo, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.info(m.tasks[key]))
	}
	return out
}

// info builds a TaskInfo. Callers hold m.mu.
func (m *Manager) info(st *taskState) *TaskInfo {
	info := &TaskInfo{
		Key:         st.task.Key(),
		Name:        st.task.Name(),
		Description: st.task.Description(),
		Category:    st.task.Category(),
		State:       StateIdle,
		Triggers:    append([]TriggerInfo{}, st.triggers...),
	}

	if st.current != nil {
		info.State = StateRunning
		info.CurrentRun = st.current.progress.snapshot()
	}

	if last, err := m.db.GetLatestTaskRun(info.Key); err == nil && last != nil && last.Status != database.RunStatusRunning {
		info.LastRun = last
	}

	for _, id := range st.entries {
		next := m.cron.Entry(id).Next
		if next.IsZero() {
			continue
		}
		if info.NextRun == nil || next.Before(*info.NextRun) {
			info.NextRun = &next
		}
	}

	return info
}

// Triggers returns the active triggers of a task
func (m *Manager) Triggers(key string) ([]TriggerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.tasks[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrTaskNotFound)
	}
	return append([]TriggerInfo{}, st.triggers...), nil
}

// SetTriggers validates, persists and applies new triggers for a task
func (m *Manager) SetTriggers(key string, triggers []TriggerInfo) error {
	if err := ValidateTriggers(triggers); err != nil {
		return err
	}
	if triggers == nil {
		triggers = []TriggerInfo{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.tasks[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrTaskNotFound)
	}

	if err := m.db.SetSettingJSON(triggersSettingKey(key), triggers); err != nil {
		return err
	}

	st.triggers = triggers
	if m.running {
		m.schedule(st)
	}

	m.broadcastEvent(sse.EventTriggersChanged, map[string]any{"task_key": key, "triggers": triggers})
	log.Info().Str("task", key).Int("triggers", len(triggers)).Msg("Task triggers updated")
	return nil
}
