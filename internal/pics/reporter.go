package pics

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/dustin/go-humanize"
)

// Reporter tracks completion of one unit's tasks and extrapolates the
// remaining time from the average duration so far.
type Reporter struct {
	mu        sync.Mutex
	unit      string
	total     int
	completed int
	start     time.Time
	now       func() time.Time
	progress  chan<- ProgressEvent
}

// NewReporter creates a Reporter for total tasks in unit. progress may be nil.
func NewReporter(unit string, total int, progress chan<- ProgressEvent) *Reporter {
	return newReporterWithClock(unit, total, progress, time.Now)
}

func newReporterWithClock(unit string, total int, progress chan<- ProgressEvent, now func() time.Time) *Reporter {
	return &Reporter{
		unit:     unit,
		total:    total,
		start:    now(),
		now:      now,
		progress: progress,
	}
}

// Observe records a finished task, logs it and emits a progress event.
func (r *Reporter) Observe(res ConversionResult) ProgressEvent {
	r.mu.Lock()
	r.completed++
	current := r.completed
	eta := r.etaLocked()
	r.mu.Unlock()

	name := filepath.Base(res.Source)
	switch {
	case res.State == TaskCancelled:
		logger.Debug("Task cancelled", "file", name)
	case res.State == TaskFailed:
		logger.Error("Task failed", "file", name, "action", res.Action, "kind", KindOf(res.Err), "error", res.Err)
	case res.Duplicate:
		logger.Info("Removed duplicate", "file", name, "id", res.Identifier)
	case res.Err != nil:
		logger.Warn("Task finished with warning", "file", name, "id", res.Identifier, "size", humanize.IBytes(uint64(res.FinalSize)), "quality", res.Quality, "error", res.Err)
	default:
		logger.Info("Task finished", "file", name, "action", res.Action, "id", res.Identifier,
			"from", humanize.IBytes(uint64(res.SourceSize)), "to", humanize.IBytes(uint64(res.FinalSize)),
			"quality", res.Quality, "resized", res.Resized, "compressed", res.Compressed)
	}

	event := ProgressEvent{
		Stage:   "converting",
		Unit:    r.unit,
		Current: current,
		Total:   r.total,
		Message: fmt.Sprintf("Processed file %d of %d", current, r.total),
		File:    res.Source,
		ETA:     eta,
	}
	if r.progress != nil {
		select {
		case r.progress <- event:
		default:
			logger.Debug("Progress event dropped (channel full)", "stage", event.Stage)
		}
	}
	return event
}

// ETA returns the extrapolated remaining time, zero before the first
// completion and after the last.
func (r *Reporter) ETA() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.etaLocked()
}

func (r *Reporter) etaLocked() time.Duration {
	if r.completed == 0 || r.completed >= r.total {
		return 0
	}
	elapsed := r.now().Sub(r.start)
	perTask := elapsed / time.Duration(r.completed)
	return perTask * time.Duration(r.total-r.completed)
}
