package pics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/google/uuid"
)

// TaskState is the lifecycle position of a ConversionTask.
//
//	QUEUED -> RUNNING -> DONE | FAILED
//	QUEUED -> CANCELLED
//
// A running task is never interrupted.
type TaskState int

const (
	TaskQueued TaskState = iota
	TaskRunning
	TaskDone
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ConversionTask is one unit of work. It is owned by the goroutine executing it.
type ConversionTask struct {
	Asset  SourceAsset
	Action Action
	// Identifier is the reserved target identifier. It is empty under the
	// content policy until the output bytes are known.
	Identifier string
	// Quality and Speed are the parameters of the first encode.
	Quality       int
	Speed         int
	ResizeTrigger int
	ResizeTarget  int
	State         TaskState

	// reserved is true when Identifier was drawn for this task and must be
	// released if the task does not complete.
	reserved bool
}

// ConversionResult is produced exactly once per task.
type ConversionResult struct {
	Source     string
	Action     Action
	Identifier string
	FinalPath  string
	SourceSize int64
	FinalSize  int64
	Quality    int
	Resized    bool
	Compressed bool
	// Duplicate is true when the source was removed because identical
	// content already exists in the unit.
	Duplicate bool
	State     TaskState
	// Err is set for failed and cancelled tasks. A DONE task may carry a
	// warning such as ErrSizeBoundUnattainable.
	Err      error
	Duration time.Duration
}

// Success reports whether the task completed.
func (r ConversionResult) Success() bool {
	return r.State == TaskDone
}

// UnitSummary describes the processing of one directory.
type UnitSummary struct {
	Dir      string
	Results  []ConversionResult
	Skipped  int
	Duration time.Duration
	// Registered is the number of identifiers held by the unit registry when
	// processing ended.
	Registered int
	// Err is set when the unit could not be processed at all.
	Err error
}

// Count returns the number of results in state.
func (u UnitSummary) Count(state TaskState) int {
	n := 0
	for _, r := range u.Results {
		if r.State == state {
			n++
		}
	}
	return n
}

// CountAction returns the number of completed, non-duplicate results for action.
func (u UnitSummary) CountAction(action Action) int {
	n := 0
	for _, r := range u.Results {
		if r.Action == action && r.State == TaskDone && !r.Duplicate {
			n++
		}
	}
	return n
}

// Duplicates returns the number of sources removed as duplicates.
func (u UnitSummary) Duplicates() int {
	n := 0
	for _, r := range u.Results {
		if r.Duplicate {
			n++
		}
	}
	return n
}

// Bytes returns the source and output byte totals of completed tasks.
func (u UnitSummary) Bytes() (in, out int64) {
	for _, r := range u.Results {
		if r.State == TaskDone {
			in += r.SourceSize
			out += r.FinalSize
		}
	}
	return in, out
}

// RunSummary describes a whole run.
type RunSummary struct {
	RunID     string
	Root      string
	Units     []UnitSummary
	Duration  time.Duration
	Cancelled bool
}

// Failed returns the number of failed tasks plus units that could not be processed.
func (s RunSummary) Failed() int {
	n := 0
	for _, u := range s.Units {
		if u.Err != nil {
			n++
		}
		n += u.Count(TaskFailed)
	}
	return n
}

// PlannedFile is a classification made without touching the file.
type PlannedFile struct {
	Unit   string
	Asset  SourceAsset
	Action Action
	Err    error
}

// Orchestrator drives runs over a directory tree.
type Orchestrator struct {
	opts       Options
	classifier *Classifier
	compressor *SizeBoundedCompressor
	encoder    Encoder
	writer     *AtomicWriter
	archiver   Archiver
	bucket     string
}

// NewOrchestrator creates an Orchestrator encoding with encoder and reading
// dimensions through meta.
func NewOrchestrator(opts Options, encoder Encoder, meta MetadataReader) *Orchestrator {
	return &Orchestrator{
		opts:       opts,
		classifier: NewClassifier(opts.Config, meta),
		compressor: NewSizeBoundedCompressor(encoder),
		encoder:    encoder,
		writer:     NewAtomicWriter(),
	}
}

// SetArchiver makes every unit upload the originals it is about to modify to
// bucket before any of them is touched.
func (o *Orchestrator) SetArchiver(archiver Archiver, bucket string) {
	o.archiver = archiver
	o.bucket = bucket
}

// Plan classifies every candidate under root without modifying anything.
func (o *Orchestrator) Plan(root string) ([]PlannedFile, error) {
	units, err := DiscoverUnits(root)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoCandidates, root)
	}
	var planned []PlannedFile
	for _, dir := range units {
		files, err := listCandidates(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			asset, action, err := o.classifier.ClassifyFile(f)
			planned = append(planned, PlannedFile{Unit: dir, Asset: asset, Action: action, Err: err})
		}
	}
	return planned, nil
}

// Run processes every unit under root, one unit at a time. Cancelling ctx
// stops new work; tasks already running finish and are reported.
func (o *Orchestrator) Run(ctx context.Context, root string) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{RunID: uuid.NewString(), Root: root}
	if err := o.opts.Config.Validate(); err != nil {
		return summary, fmt.Errorf("invalid configuration: %w", err)
	}

	units, err := DiscoverUnits(root)
	if err != nil {
		return summary, err
	}
	if len(units) == 0 {
		return summary, fmt.Errorf("%w under %s", ErrNoCandidates, root)
	}

	log := logger.With("run", summary.RunID)
	log.Info("Starting run", "root", root, "units", len(units), "workers", o.opts.Config.Workers(),
		"encoder", o.encoder.Name(), "policy", o.opts.Config.NamePolicy)

	for i, dir := range units {
		if ctx.Err() != nil {
			log.Info("Run cancelled, skipping remaining units", "remaining", len(units)-i)
			summary.Cancelled = true
			break
		}
		unit := o.ProcessUnit(ctx, dir)
		if unit.Err != nil {
			log.Error("Unit failed", "unit", dir, "error", unit.Err)
		}
		summary.Units = append(summary.Units, unit)
	}
	if ctx.Err() != nil {
		summary.Cancelled = true
	}

	summary.Duration = time.Since(start)
	log.Info("Run finished", "units", len(summary.Units), "failed", summary.Failed(),
		"cancelled", summary.Cancelled, "duration_seconds", summary.Duration.Seconds())
	return summary, nil
}

// ProcessUnit classifies and processes the candidate files directly inside dir.
func (o *Orchestrator) ProcessUnit(ctx context.Context, dir string) (summary UnitSummary) {
	start := time.Now()
	cfg := o.opts.Config
	summary.Dir = dir
	defer func() { summary.Duration = time.Since(start) }()

	lock, err := acquireUnitLock(dir)
	if err != nil {
		summary.Err = err
		return summary
	}
	defer func() {
		if err := lock.release(); err != nil {
			logger.Warn("Failed to release unit lock", "unit", dir, "error", err)
		}
	}()

	if n, err := CleanupStaleTemps(dir); err != nil {
		logger.Warn("Stale temp cleanup failed", "unit", dir, "error", err)
	} else if n > 0 {
		logger.Info("Removed stale temp files", "unit", dir, "count", n)
	}

	files, err := listCandidates(dir)
	if err != nil {
		summary.Err = err
		return summary
	}
	o.emit(ProgressEvent{Stage: "scanning", Unit: dir, Total: len(files), Message: fmt.Sprintf("Classifying %d files", len(files))})

	registry := NewNameRegistry()
	registry.Seed(canonicalStems(cfg, files)...)
	alloc := NewNameAllocator(cfg, registry, dir)

	var (
		tasks    []*ConversionTask
		toModify []string
		early    []ConversionResult
	)
	for _, f := range files {
		asset, action, err := o.classifier.ClassifyFile(f)
		if err != nil {
			early = append(early, ConversionResult{Source: f, State: TaskFailed, Err: err})
			continue
		}
		if action == ActionSkip {
			summary.Skipped++
			continue
		}
		tasks = append(tasks, o.newTask(asset, action))
		toModify = append(toModify, f)
	}

	if o.archiver != nil && len(toModify) > 0 {
		if err := o.archiver.ArchiveFiles(ctx, dir, toModify, o.bucket); err != nil {
			summary.Err = fmt.Errorf("archive originals: %w", err)
			summary.Results = early
			return summary
		}
	}

	for _, task := range tasks {
		if err := o.reserve(task, alloc); err != nil {
			task.State = TaskFailed
			early = append(early, ConversionResult{Source: task.Asset.Path, Action: task.Action, SourceSize: task.Asset.Size, State: TaskFailed, Err: err})
		}
	}

	summary.Results = append(early, o.execute(ctx, dir, tasks, alloc)...)
	summary.Registered = registry.Len()
	logger.Info("Unit processed", "unit", dir,
		"done", summary.Count(TaskDone), "failed", summary.Count(TaskFailed),
		"cancelled", summary.Count(TaskCancelled), "skipped", summary.Skipped)
	return summary
}

func (o *Orchestrator) newTask(asset SourceAsset, action Action) *ConversionTask {
	cfg := o.opts.Config
	return &ConversionTask{
		Asset:         asset,
		Action:        action,
		Quality:       cfg.DefaultQuality,
		Speed:         cfg.EffectiveSpeed(),
		ResizeTrigger: cfg.ResizeTrigger,
		ResizeTarget:  cfg.ResizeTarget,
		State:         TaskQueued,
	}
}

// reserve gives a task its target identifier before scheduling. A canonical
// file that only needs recompression keeps its own name.
func (o *Orchestrator) reserve(task *ConversionTask, alloc NameAllocator) error {
	if alloc.Policy() == PolicyContent {
		return nil
	}
	// Only an exact-case name is kept: the output path must equal the source.
	if task.Action == ActionRecompress && filepath.Ext(task.Asset.Path) == TargetExt {
		if s := stem(task.Asset.Path); IsCanonicalIdentifier(o.opts.Config, s) {
			task.Identifier = s
			return nil
		}
	}
	id, err := alloc.Reserve()
	if err != nil {
		return err
	}
	task.Identifier = id
	task.reserved = true
	return nil
}

// execute fans parallel tasks out to the worker pool, runs the remaining
// tasks on the calling goroutine and collects every result as it completes.
func (o *Orchestrator) execute(ctx context.Context, dir string, tasks []*ConversionTask, alloc NameAllocator) []ConversionResult {
	var parallel, direct []*ConversionTask
	for _, t := range tasks {
		if t.State != TaskQueued {
			continue
		}
		if t.Action.Parallel() {
			parallel = append(parallel, t)
		} else {
			direct = append(direct, t)
		}
	}
	total := len(parallel) + len(direct)
	if total == 0 {
		return nil
	}

	reporter := NewReporter(dir, total, o.opts.ProgressChan)
	results := make(chan ConversionResult, total)
	collected := make([]ConversionResult, 0, total)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for res := range results {
			reporter.Observe(res)
			collected = append(collected, res)
		}
	}()

	jobs := make(chan *ConversionTask, len(parallel))
	var wg sync.WaitGroup
	numWorkers := min(o.opts.Config.Workers(), len(parallel))
	for range numWorkers {
		wg.Add(1)
		go o.worker(ctx, dir, jobs, results, alloc, &wg)
	}
	for _, t := range parallel {
		if ctx.Err() != nil {
			results <- o.cancelTask(t, alloc)
			continue
		}
		jobs <- t
	}
	close(jobs)

	for _, t := range direct {
		if ctx.Err() != nil {
			results <- o.cancelTask(t, alloc)
			continue
		}
		t.State = TaskRunning
		results <- o.rename(dir, t, alloc)
	}

	wg.Wait()
	close(results)
	<-collectorDone
	return collected
}

func (o *Orchestrator) worker(ctx context.Context, dir string, jobs <-chan *ConversionTask, results chan<- ConversionResult, alloc NameAllocator, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range jobs {
		// Only the QUEUED -> RUNNING transition observes cancellation.
		if ctx.Err() != nil {
			results <- o.cancelTask(task, alloc)
			continue
		}
		task.State = TaskRunning
		results <- o.convert(dir, task, alloc)
	}
}

func (o *Orchestrator) cancelTask(task *ConversionTask, alloc NameAllocator) ConversionResult {
	if task.reserved {
		alloc.Release(task.Identifier)
	}
	task.State = TaskCancelled
	return ConversionResult{
		Source:     task.Asset.Path,
		Action:     task.Action,
		SourceSize: task.Asset.Size,
		State:      TaskCancelled,
		Err:        ErrCancelled,
	}
}

// fail finishes a task with err, releasing its reserved identifier.
func (o *Orchestrator) fail(task *ConversionTask, alloc NameAllocator, res ConversionResult, err error) ConversionResult {
	if task.reserved {
		alloc.Release(task.Identifier)
	}
	task.State = TaskFailed
	res.State = TaskFailed
	res.Err = err
	res.Identifier = ""
	res.FinalPath = ""
	return res
}

// convert runs decode, resize, encode, size bounded compression and the
// atomic write for one task.
func (o *Orchestrator) convert(dir string, task *ConversionTask, alloc NameAllocator) (res ConversionResult) {
	start := time.Now()
	cfg := o.opts.Config
	src := task.Asset.Path
	res = ConversionResult{Source: src, Action: task.Action, SourceSize: task.Asset.Size}
	defer func() { res.Duration = time.Since(start) }()

	img, err := decodeOriented(src)
	if err != nil {
		return o.fail(task, alloc, res, err)
	}
	img, res.Resized = Resize(img, task.ResizeTrigger, task.ResizeTarget)

	data, err := o.encoder.Encode(img, EncodeParams{Quality: task.Quality, Speed: task.Speed})
	if err != nil {
		return o.fail(task, alloc, res, err)
	}
	res.Quality = task.Quality

	ceiling := cfg.MaxFileSize
	if res.Resized && int64(len(data)) > task.Asset.Size {
		ceiling = min(task.Asset.Size, cfg.MaxFileSize)
		logger.Debug("Output grew after resize, tightening ceiling", "file", filepath.Base(src), "source", task.Asset.Size, "output", len(data))
	}

	var warning error
	if int64(len(data)) > ceiling {
		outcome, err := o.compressor.CompressWithRetry(img, ceiling, cfg)
		switch {
		case outcome.Data == nil:
			return o.fail(task, alloc, res, err)
		case len(outcome.Data) < len(data):
			data = outcome.Data
			res.Quality = outcome.Quality
			res.Compressed = true
		}
		if err != nil && int64(len(data)) > cfg.MaxFileSize {
			warning = err
		}
	}

	id, duplicate, err := o.resolve(task, alloc, data)
	if err != nil {
		return o.fail(task, alloc, res, err)
	}
	dest := filepath.Join(dir, id+TargetExt)
	res.Identifier = id
	res.FinalSize = int64(len(data))

	if duplicate {
		res.FinalPath = dest
		res.Duplicate = !sameFile(dest, src)
		if res.Duplicate {
			if err := os.Remove(src); err != nil {
				return o.fail(task, alloc, res, fmt.Errorf("remove duplicate source: %w", err))
			}
			o.forgetSource(task, alloc)
		}
		task.State = TaskDone
		res.State = TaskDone
		return res
	}

	if err := o.writer.WriteBytes(dest, data); err != nil {
		return o.fail(task, alloc, res, err)
	}
	if !sameFile(dest, src) {
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			warning = errors.Join(warning, fmt.Errorf("remove source: %w", err))
		} else {
			o.forgetSource(task, alloc)
		}
	}

	res.FinalPath = dest
	res.Err = warning
	task.State = TaskDone
	res.State = TaskDone
	return res
}

// rename moves a compliant canonical-codec file to its identifier.
func (o *Orchestrator) rename(dir string, task *ConversionTask, alloc NameAllocator) (res ConversionResult) {
	start := time.Now()
	src := task.Asset.Path
	res = ConversionResult{Source: src, Action: task.Action, SourceSize: task.Asset.Size, FinalSize: task.Asset.Size}
	defer func() { res.Duration = time.Since(start) }()

	var data []byte
	if alloc.Policy() == PolicyContent {
		var err error
		if data, err = os.ReadFile(src); err != nil {
			return o.fail(task, alloc, res, err)
		}
	}
	id, duplicate, err := o.resolve(task, alloc, data)
	if err != nil {
		return o.fail(task, alloc, res, err)
	}
	dest := filepath.Join(dir, id+TargetExt)
	res.Identifier = id
	res.FinalPath = dest

	if duplicate {
		if sameFile(dest, src) {
			task.State = TaskDone
			res.State = TaskDone
			return res
		}
		if err := os.Remove(src); err != nil {
			return o.fail(task, alloc, res, fmt.Errorf("remove duplicate source: %w", err))
		}
		res.Duplicate = true
		task.State = TaskDone
		res.State = TaskDone
		return res
	}

	if fileExists(dest) {
		return o.fail(task, alloc, res, fmt.Errorf("%w: %s already exists", ErrAtomicWrite, filepath.Base(dest)))
	}
	if err := os.Rename(src, dest); err != nil {
		return o.fail(task, alloc, res, fmt.Errorf("%w: %v", ErrAtomicWrite, err))
	}
	task.State = TaskDone
	res.State = TaskDone
	return res
}

// resolve binds the final identifier. A fresh content identifier becomes the
// task's reservation so that a later failure releases it.
func (o *Orchestrator) resolve(task *ConversionTask, alloc NameAllocator, data []byte) (string, bool, error) {
	id, duplicate, err := alloc.Resolve(task.Identifier, data)
	if err != nil {
		return "", false, err
	}
	if !duplicate && !task.reserved && id != task.Identifier {
		task.Identifier = id
		task.reserved = true
	}
	return id, duplicate, nil
}

// forgetSource drops a removed source's own canonical name from the registry.
func (o *Orchestrator) forgetSource(task *ConversionTask, alloc NameAllocator) {
	src := task.Asset.Path
	if normalisedExt(src) != TargetExt {
		return
	}
	if s := stem(src); IsCanonicalIdentifier(o.opts.Config, s) && s != task.Identifier {
		alloc.Release(s)
	}
}

func (o *Orchestrator) emit(event ProgressEvent) {
	if o.opts.ProgressChan == nil {
		return
	}
	select {
	case o.opts.ProgressChan <- event:
	default:
		logger.Debug("Progress event dropped (channel full)", "stage", event.Stage)
	}
}
