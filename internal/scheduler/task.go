// Package scheduler hosts long-running tasks: it fires them from cron, interval and startup
// triggers, runs at most one instance of each, and records every run in the database.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saltyorg/subextract/internal/config"
	"github.com/saltyorg/subextract/internal/database"
)

var (
	// ErrTaskNotFound is returned for an unregistered task key
	ErrTaskNotFound = errors.New("task not found")
	// ErrAlreadyRunning is returned when a task is started while a run is in progress,
	// in this process or another one
	ErrAlreadyRunning = errors.New("task is already running")
	// ErrNotRunning is returned when cancelling an idle task
	ErrNotRunning = errors.New("task is not running")
)

// Progress receives completion percentages between 0 and 100
type Progress interface {
	Report(percent float64)
}

// ItemProgress is optionally implemented by a Progress that also tracks item counts
type ItemProgress interface {
	ReportItems(processed, total int)
}

// ProgressFunc adapts a function to Progress
type ProgressFunc func(percent float64)

// Report implements Progress
func (f ProgressFunc) Report(percent float64) { f(percent) }

// RunListener is told about every finished run
type RunListener interface {
	RunFinished(run *database.TaskRun)
}

// Task is a unit of work the scheduler can run
type Task interface {
	Key() string
	Name() string
	Description() string
	Category() string
	DefaultTriggers() []TriggerInfo
	Execute(ctx context.Context, progress Progress) error
}

// TriggerType selects how a trigger fires
type TriggerType string

const (
	TriggerCron     TriggerType = "cron"
	TriggerInterval TriggerType = "interval"
	TriggerStartup  TriggerType = "startup"
)

// TriggerInfo describes when a task runs automatically
type TriggerInfo struct {
	Type     TriggerType `json:"type"`
	Cron     string      `json:"cron,omitempty"`
	Interval string      `json:"interval,omitempty"`
}

// Validate checks that the trigger can be scheduled
func (t TriggerInfo) Validate() error {
	switch t.Type {
	case TriggerCron:
		if strings.TrimSpace(t.Cron) == "" {
			return errors.New("cron trigger needs an expression")
		}
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", t.Cron, err)
		}
	case TriggerInterval:
		d, err := time.ParseDuration(t.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", t.Interval, err)
		}
		if d < time.Minute {
			return fmt.Errorf("interval %q is shorter than one minute", t.Interval)
		}
	case TriggerStartup:
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// cronSpec returns the robfig/cron spec for schedulable triggers, or "" for startup triggers
func (t TriggerInfo) cronSpec() string {
	switch t.Type {
	case TriggerCron:
		return t.Cron
	case TriggerInterval:
		d, _ := time.ParseDuration(t.Interval)
		return "@every " + d.String()
	default:
		return ""
	}
}

// ValidateTriggers validates every trigger, naming the first invalid one
func ValidateTriggers(triggers []TriggerInfo) error {
	for i, t := range triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("trigger %d: %w", i+1, err)
		}
	}
	return nil
}

// TriggersFromConfig converts the config file form of triggers
func TriggersFromConfig(in []config.Trigger) []TriggerInfo {
	out := make([]TriggerInfo, 0, len(in))
	for _, t := range in {
		out = append(out, TriggerInfo{
			Type:     TriggerType(strings.ToLower(strings.TrimSpace(t.Type))),
			Cron:     strings.TrimSpace(t.Cron),
			Interval: strings.TrimSpace(t.Interval),
		})
	}
	return out
}
