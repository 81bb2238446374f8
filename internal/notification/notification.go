// Package notification announces finished task runs to Discord and generic webhooks.
package notification

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/database"
)

// EventType represents the type of event that can trigger a notification
type EventType string

const (
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
)

// ParseEventType maps a run status name ("completed", "failed", "cancelled") to its event
func ParseEventType(status string) (EventType, error) {
	switch database.RunStatus(status) {
	case database.RunStatusCompleted:
		return EventTaskCompleted, nil
	case database.RunStatusFailed:
		return EventTaskFailed, nil
	case database.RunStatusCancelled:
		return EventTaskCancelled, nil
	default:
		return "", fmt.Errorf("unknown notification event %q", status)
	}
}

// Event represents a notification event
type Event struct {
	Type      EventType
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}

// Provider is the interface for notification providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Send sends a notification
	Send(ctx context.Context, event Event) error
}

// Manager handles notification dispatch
type Manager struct {
	providers []Provider
	events    []EventType
	queue     chan Event
	timeout   time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a manager that forwards the given event types to providers
func NewManager(events []EventType, providers ...Provider) *Manager {
	return &Manager{
		providers: providers,
		events:    events,
		queue:     make(chan Event, 100),
		timeout:   30 * time.Second,
	}
}

// Enabled reports whether any provider and event type is configured
func (m *Manager) Enabled() bool {
	return len(m.providers) > 0 && len(m.events) > 0
}

// Start starts the notification dispatcher. It is a no-op without providers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || !m.Enabled() {
		return
	}

	m.running = true
	m.stopChan = make(chan struct{})
	m.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Notification dispatcher panicked")
			}
		}()
		m.dispatcher(m.stopChan)
	})
	log.Info().Int("providers", len(m.providers)).Msg("Notification manager started")
}

// Stop sends queued notifications and stops the dispatcher
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("Notification manager stopped")
}

// Notify queues an event for notification if its type is enabled
func (m *Manager) Notify(event Event) {
	if !slices.Contains(m.events, event.Type) {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case m.queue <- event:
	default:
		log.Warn().Str("type", string(event.Type)).Msg("Notification queue full, dropping event")
	}
}

// RunFinished queues a notification for a finished task run
func (m *Manager) RunFinished(run *database.TaskRun) {
	eventType, err := ParseEventType(string(run.Status))
	if err != nil {
		return
	}
	m.Notify(RunEvent(eventType, run))
}

// RunEvent describes a finished run as a notification event
func RunEvent(eventType EventType, run *database.TaskRun) Event {
	event := Event{
		Type:    eventType,
		Title:   fmt.Sprintf("%s %s", run.TaskKey, run.Status),
		Message: fmt.Sprintf("Processed %d of %d items", run.ItemsProcessed, run.ItemsTotal),
		Fields: map[string]string{
			"run_id":       fmt.Sprint(run.ID),
			"triggered_by": run.TriggeredBy,
			"duration":     run.Duration().Round(time.Second).String(),
		},
	}
	if run.CompletedAt != nil {
		event.Timestamp = *run.CompletedAt
	}
	if run.Error != "" {
		event.Message += ": " + run.Error
	}
	return event
}

// Test sends a test event to every provider directly, bypassing the event filter
func (m *Manager) Test(ctx context.Context) error {
	event := Event{
		Type:      "test",
		Title:     "Test notification",
		Message:   "Notifications from subextract are working.",
		Timestamp: time.Now(),
	}
	var errs []error
	for _, provider := range m.providers {
		if err := provider.Send(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// dispatcher processes events until stop is closed, then drains the queue
func (m *Manager) dispatcher(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			for {
				select {
				case event := <-m.queue:
					m.dispatch(event)
				default:
					return
				}
			}
		case event := <-m.queue:
			m.dispatch(event)
		}
	}
}

// dispatch sends an event to all providers
func (m *Manager) dispatch(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for _, provider := range m.providers {
		if err := provider.Send(ctx, event); err != nil {
			log.Error().
				Err(err).
				Str("provider", provider.Name()).
				Str("event", string(event.Type)).
				Msg("Failed to send notification")
			continue
		}
		log.Debug().
			Str("provider", provider.Name()).
			Str("event", string(event.Type)).
			Msg("Notification sent")
	}
}
