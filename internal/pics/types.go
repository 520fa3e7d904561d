package pics

import (
	"fmt"
	"runtime"
	"time"
)

// NamePolicy selects how canonical identifiers are produced.
type NamePolicy string

const (
	// PolicyRandom draws identifiers from the configured alphabet.
	PolicyRandom NamePolicy = "random"
	// PolicyContent derives identifiers from a hash of the encoded bytes.
	PolicyContent NamePolicy = "content"
)

// ParseNamePolicy converts a user supplied policy name.
func ParseNamePolicy(s string) (NamePolicy, error) {
	switch NamePolicy(s) {
	case PolicyRandom, PolicyContent:
		return NamePolicy(s), nil
	}
	return "", fmt.Errorf("unknown naming policy %q (expected %q or %q)", s, PolicyRandom, PolicyContent)
}

// Config holds every tunable used by the pipeline. It is passed by value to each
// component so concurrent runs may use different settings.
type Config struct {
	// MaxFileSize is the byte ceiling for a canonical file.
	MaxFileSize int64
	// ResizeTrigger is the short edge above which a raster gets downsampled.
	ResizeTrigger int
	// ResizeTarget is the short edge a downsampled raster ends up with.
	ResizeTarget int
	// DefaultQuality is the quality of the first encode.
	DefaultQuality int
	// MinQuality and MaxQuality bound the size-constrained quality search.
	MinQuality int
	MaxQuality int
	// RetryMaxQuality caps MaxQuality for the second compression pass (0 disables it).
	RetryMaxQuality int
	// Speed is the encoder speed for normal runs (0 slowest, 10 fastest).
	Speed int
	// AcceleratedSpeed replaces Speed when Accelerated is set.
	AcceleratedSpeed int
	Accelerated      bool
	// NamePolicy, NameLength and NameAlphabet define canonical identifiers.
	NamePolicy   NamePolicy
	NameLength   int
	NameAlphabet string
	// NameRetryLimit bounds random identifier draws.
	NameRetryLimit int
	// WorkerFraction is the share of CPUs given to encode workers when MaxWorkers is 0.
	WorkerFraction float64
	MaxWorkers     int
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:      4 << 20,
		ResizeTrigger:    3500,
		ResizeTarget:     2160,
		DefaultQuality:   85,
		MinQuality:       20,
		MaxQuality:       85,
		RetryMaxQuality:  50,
		Speed:            4,
		AcceleratedSpeed: 6,
		NamePolicy:       PolicyRandom,
		NameLength:       8,
		NameAlphabet:     "abcdefghijklmnopqrstuvwxyz0123456789",
		NameRetryLimit:   1000,
		WorkerFraction:   0.8,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.MaxFileSize <= 0:
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileSize)
	case c.ResizeTarget <= 0 || c.ResizeTrigger <= 0:
		return fmt.Errorf("resize trigger and target must be positive")
	case c.ResizeTarget >= c.ResizeTrigger:
		return fmt.Errorf("resize target (%d) must be below resize trigger (%d)", c.ResizeTarget, c.ResizeTrigger)
	case c.MinQuality < 0 || c.MaxQuality > 100 || c.MinQuality > c.MaxQuality:
		return fmt.Errorf("quality bounds [%d,%d] must lie within [0,100]", c.MinQuality, c.MaxQuality)
	case c.DefaultQuality < c.MinQuality || c.DefaultQuality > c.MaxQuality:
		return fmt.Errorf("default quality %d outside bounds [%d,%d]", c.DefaultQuality, c.MinQuality, c.MaxQuality)
	case c.RetryMaxQuality < 0 || c.RetryMaxQuality > 100:
		return fmt.Errorf("retry quality cap %d outside [0,100]", c.RetryMaxQuality)
	case c.Speed < 0 || c.Speed > 10 || c.AcceleratedSpeed < 0 || c.AcceleratedSpeed > 10:
		return fmt.Errorf("encoder speeds must lie within [0,10]")
	case c.NameLength <= 0:
		return fmt.Errorf("identifier length must be positive")
	case c.NamePolicy == PolicyContent && c.NameLength > 64:
		return fmt.Errorf("content identifiers are at most 64 characters, got %d", c.NameLength)
	case c.NamePolicy == PolicyRandom && len(c.NameAlphabet) == 0:
		return fmt.Errorf("identifier alphabet is empty")
	case c.NameRetryLimit <= 0:
		return fmt.Errorf("identifier retry limit must be positive")
	case c.WorkerFraction < 0 || c.WorkerFraction > 1:
		return fmt.Errorf("worker fraction %.2f outside [0,1]", c.WorkerFraction)
	}
	if _, err := ParseNamePolicy(string(c.NamePolicy)); err != nil {
		return err
	}
	return nil
}

// EffectiveSpeed returns the encoder speed for this configuration.
func (c Config) EffectiveSpeed() int {
	if c.Accelerated {
		return c.AcceleratedSpeed
	}
	return c.Speed
}

// Workers returns the encode pool size, leaving headroom for the controller.
func (c Config) Workers() int {
	if c.MaxWorkers > 0 {
		return c.MaxWorkers
	}
	n := int(float64(runtime.NumCPU()) * c.WorkerFraction)
	return max(1, n)
}

// Options holds per-run options that are not part of the conversion settings.
type Options struct {
	Config Config
	// ProgressChan is an optional channel for receiving progress events.
	ProgressChan chan<- ProgressEvent
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{
		Config: DefaultConfig(),
	}
}

// ProgressEvent represents a progress update during a run.
type ProgressEvent struct {
	// Stage is "scanning" when a unit starts and "converting" per finished task.
	Stage string
	// Unit is the processing unit directory.
	Unit string
	// Current is the number of tasks finished so far in the unit.
	Current int
	// Total is the total number of tasks in the unit.
	Total int
	// Message is a human-readable description of the current operation.
	Message string
	// File is the path of the file the event refers to.
	File string
	// ETA is the extrapolated remaining time for the unit, zero when unknown.
	ETA time.Duration
}

// SourceAsset is a discovered candidate file.
type SourceAsset struct {
	Path string
	// Ext is the lowercased extension including the dot.
	Ext  string
	Size int64
	// Width and Height are zero until metadata has been read.
	Width  int
	Height int
}

// ShortEdge returns min(width, height).
func (a SourceAsset) ShortEdge() int {
	return min(a.Width, a.Height)
}
