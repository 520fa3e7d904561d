package pics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/acm19/pixcanon/internal/logger"
)

// Action is the work a discovered file needs.
type Action int

const (
	ActionSkip Action = iota
	ActionRenameOnly
	ActionConvert
	ActionRecompress
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRenameOnly:
		return "rename"
	case ActionConvert:
		return "convert"
	case ActionRecompress:
		return "recompress"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Parallel reports whether tasks with this action are CPU bound and belong on
// the worker pool rather than on the controller.
func (a Action) Parallel() bool {
	return a == ActionConvert || a == ActionRecompress
}

// ClassifierInput is the cheap metadata a classification is based on.
type ClassifierInput struct {
	// Convertible is true when the file is not yet in the canonical codec.
	Convertible   bool
	CanonicalName bool
	Size          int64
	ShortEdge     int
	// MetadataErr is set when dimensions could not be read.
	MetadataErr error
}

// Classify decides the action for one file.
//
// A file in a foreign codec is always converted, which resizes and compresses
// in the same pass. A canonical-codec file that breaks the size or resolution
// limits is recompressed (and receives a fresh identifier if its name is not
// canonical). A compliant file with a foreign name is only renamed.
func Classify(in ClassifierInput, cfg Config) Action {
	if in.Convertible {
		return ActionConvert
	}
	if in.MetadataErr != nil {
		return ActionConvert
	}
	violates := in.Size > cfg.MaxFileSize || in.ShortEdge > cfg.ResizeTrigger
	switch {
	case violates:
		return ActionRecompress
	case !in.CanonicalName:
		return ActionRenameOnly
	}
	return ActionSkip
}

// Classifier classifies files on disk.
type Classifier struct {
	cfg        Config
	extensions Extensions
	meta       MetadataReader
}

// NewClassifier creates a Classifier that reads dimensions through meta.
func NewClassifier(cfg Config, meta MetadataReader) *Classifier {
	return &Classifier{
		cfg:        cfg,
		extensions: NewExtensions(),
		meta:       meta,
	}
}

// ClassifyFile stats the file, reads dimensions when they matter and returns
// the asset with its action.
func (c *Classifier) ClassifyFile(filePath string) (SourceAsset, Action, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return SourceAsset{}, ActionSkip, err
	}
	asset := SourceAsset{
		Path: filePath,
		Ext:  normalisedExt(filePath),
		Size: info.Size(),
	}

	in := ClassifierInput{
		Convertible:   c.extensions.IsConvertible(filePath),
		CanonicalName: IsCanonicalIdentifier(c.cfg, stem(filePath)),
		Size:          asset.Size,
	}
	// Dimensions only matter for files already in the canonical codec.
	if !in.Convertible {
		dims, err := c.meta.ReadDimensions(filePath)
		if err != nil {
			logger.Warn("Cannot read dimensions, scheduling conversion", "file", filepath.Base(filePath), "error", err)
			in.MetadataErr = err
		} else {
			asset.Width, asset.Height = dims.Width, dims.Height
			in.ShortEdge = asset.ShortEdge()
		}
	}

	action := Classify(in, c.cfg)
	logger.Debug("Classified file", "file", filepath.Base(filePath), "action", action, "size", asset.Size, "short_edge", in.ShortEdge)
	return asset, action, nil
}
