package scheduler

import (
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/subextract/internal/database"
	"github.com/saltyorg/subextract/internal/web/sse"
)

// runProgress records progress of one run. Every report updates the in-memory run;
// the database and SSE clients only see a new whole-percent step.
type runProgress struct {
	m        *Manager
	observer Progress

	mu       sync.Mutex
	run      *database.TaskRun
	lastStep int
}

func newRunProgress(m *Manager, run *database.TaskRun, observer Progress) *runProgress {
	return &runProgress{m: m, run: run, observer: observer, lastStep: -1}
}

// Report implements Progress
func (p *runProgress) Report(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	percent = math.Max(0, math.Min(100, percent))

	p.mu.Lock()
	p.run.Progress = percent
	step := int(percent)
	changed := step != p.lastStep
	if changed {
		p.lastStep = step
	}
	snapshot := *p.run
	p.mu.Unlock()

	if changed {
		if err := p.m.db.UpdateTaskRunProgress(snapshot.ID, snapshot.Progress, snapshot.ItemsProcessed, snapshot.ItemsTotal); err != nil {
			log.Warn().Err(err).Int64("run_id", snapshot.ID).Msg("Failed to store task progress")
		}
		p.m.broadcastEvent(sse.EventTaskProgress, map[string]any{
			"task_key":        snapshot.TaskKey,
			"run_id":          snapshot.ID,
			"progress":        snapshot.Progress,
			"items_processed": snapshot.ItemsProcessed,
			"items_total":     snapshot.ItemsTotal,
		})
	}

	if p.observer != nil {
		p.observer.Report(percent)
	}
}

// ReportItems implements ItemProgress
func (p *runProgress) ReportItems(processed, total int) {
	p.mu.Lock()
	p.run.ItemsProcessed = processed
	p.run.ItemsTotal = total
	p.mu.Unlock()

	if ip, ok := p.observer.(ItemProgress); ok {
		ip.ReportItems(processed, total)
	}
}

// snapshot returns a copy of the run with the latest reported values
func (p *runProgress) snapshot() *database.TaskRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	run := *p.run
	return &run
}
