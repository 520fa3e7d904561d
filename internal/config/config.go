// Package config loads pixcanon settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/acm19/pixcanon/internal/pics"
	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
)

// Limits holds the byte and resolution ceilings.
type Limits struct {
	// MaxFileSize accepts human sizes such as "4MiB" or "900KB".
	MaxFileSize   string `toml:"max_file_size"`
	ResizeTrigger int    `toml:"resize_trigger"`
	ResizeTarget  int    `toml:"resize_target"`
}

// Quality holds the encoder quality settings.
type Quality struct {
	Default int `toml:"default"`
	Min     int `toml:"min"`
	Max     int `toml:"max"`
	// RetryMax caps the upper bound of the second compression pass; 0 disables it.
	RetryMax int `toml:"retry_max"`
}

// Encoder selects the encoder backend and its speed.
type Encoder struct {
	Backend          string `toml:"backend"`
	Speed            int    `toml:"speed"`
	AcceleratedSpeed int    `toml:"accelerated_speed"`
	Accelerated      bool   `toml:"accelerated"`
}

// Naming configures canonical identifiers.
type Naming struct {
	Policy     string `toml:"policy"`
	Length     int    `toml:"length"`
	Alphabet   string `toml:"alphabet"`
	RetryLimit int    `toml:"retry_limit"`
}

// Workers sizes the encode pool.
type Workers struct {
	Fraction float64 `toml:"fraction"`
	Max      int     `toml:"max"`
}

// Archive configures the optional S3 upload of originals.
type Archive struct {
	Bucket      string `toml:"bucket"`
	Concurrency int    `toml:"concurrency"`
}

// File mirrors the configuration file layout.
type File struct {
	Limits  Limits  `toml:"limits"`
	Quality Quality `toml:"quality"`
	Encoder Encoder `toml:"encoder"`
	Naming  Naming  `toml:"naming"`
	Workers Workers `toml:"workers"`
	Archive Archive `toml:"archive"`
}

// Settings is the resolved configuration.
type Settings struct {
	Pipeline           pics.Config
	Encoder            pics.EncoderPreference
	ArchiveBucket      string
	ArchiveConcurrency int
	// Path is the file that was consulted and Exists whether it was found.
	Path   string
	Exists bool
}

// Default returns the file representation of the default settings.
func Default() File {
	d := pics.DefaultConfig()
	return File{
		Limits: Limits{
			MaxFileSize:   humanize.IBytes(uint64(d.MaxFileSize)),
			ResizeTrigger: d.ResizeTrigger,
			ResizeTarget:  d.ResizeTarget,
		},
		Quality: Quality{
			Default:  d.DefaultQuality,
			Min:      d.MinQuality,
			Max:      d.MaxQuality,
			RetryMax: d.RetryMaxQuality,
		},
		Encoder: Encoder{
			Backend:          string(pics.EncoderAuto),
			Speed:            d.Speed,
			AcceleratedSpeed: d.AcceleratedSpeed,
			Accelerated:      d.Accelerated,
		},
		Naming: Naming{
			Policy:     string(d.NamePolicy),
			Length:     d.NameLength,
			Alphabet:   d.NameAlphabet,
			RetryLimit: d.NameRetryLimit,
		},
		Workers: Workers{
			Fraction: d.WorkerFraction,
			Max:      d.MaxWorkers,
		},
		Archive: Archive{
			Concurrency: 4,
		},
	}
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pixcanon/config.toml")
}

// Load reads path, or the default location when path is empty, overlays it
// onto the defaults and validates the result. A missing file yields defaults.
func Load(path string) (*Settings, error) {
	file := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}
	if exists {
		f, err := os.Open(resolved)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		decoder := toml.NewDecoder(f)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&file); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	settings, err := file.Settings()
	if err != nil {
		return nil, err
	}
	settings.Path = resolved
	settings.Exists = exists
	return settings, nil
}

// Settings converts the file representation and validates it.
func (f File) Settings() (*Settings, error) {
	maxSize, err := humanize.ParseBytes(strings.TrimSpace(f.Limits.MaxFileSize))
	if err != nil {
		return nil, fmt.Errorf("limits.max_file_size: %w", err)
	}
	policy, err := pics.ParseNamePolicy(f.Naming.Policy)
	if err != nil {
		return nil, fmt.Errorf("naming.policy: %w", err)
	}
	backend, err := pics.ParseEncoderPreference(f.Encoder.Backend)
	if err != nil {
		return nil, fmt.Errorf("encoder.backend: %w", err)
	}

	cfg := pics.Config{
		MaxFileSize:      int64(maxSize),
		ResizeTrigger:    f.Limits.ResizeTrigger,
		ResizeTarget:     f.Limits.ResizeTarget,
		DefaultQuality:   f.Quality.Default,
		MinQuality:       f.Quality.Min,
		MaxQuality:       f.Quality.Max,
		RetryMaxQuality:  f.Quality.RetryMax,
		Speed:            f.Encoder.Speed,
		AcceleratedSpeed: f.Encoder.AcceleratedSpeed,
		Accelerated:      f.Encoder.Accelerated,
		NamePolicy:       policy,
		NameLength:       f.Naming.Length,
		NameAlphabet:     f.Naming.Alphabet,
		NameRetryLimit:   f.Naming.RetryLimit,
		WorkerFraction:   f.Workers.Fraction,
		MaxWorkers:       f.Workers.Max,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if f.Archive.Concurrency < 1 {
		return nil, fmt.Errorf("archive.concurrency must be at least 1")
	}
	return &Settings{
		Pipeline:           cfg,
		Encoder:            backend,
		ArchiveBucket:      strings.TrimSpace(f.Archive.Bucket),
		ArchiveConcurrency: f.Archive.Concurrency,
	}, nil
}

// Sample renders the default configuration as TOML.
func Sample() (string, error) {
	b, err := toml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshal sample config: %w", err)
	}
	return string(b), nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = p
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(pathValue string) (string, error) {
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
