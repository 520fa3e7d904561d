package pics

import (
	"path/filepath"
	"slices"
	"strings"
)

// TargetExt is the extension of the canonical codec.
const TargetExt = ".avif"

// Extensions defines the interface for file extension operations.
type Extensions interface {
	// IsConvertible returns true if the file is a raster format that gets converted.
	IsConvertible(filePath string) bool
	// IsTarget returns true if the file already uses the canonical codec.
	IsTarget(filePath string) bool
	// IsCandidate returns true if the file takes part in a run at all.
	IsCandidate(filePath string) bool
}

// extensions implements the Extensions interface.
type extensions struct {
	sourceExts []string
}

// NewExtensions creates a new Extensions instance.
func NewExtensions() Extensions {
	return &extensions{
		sourceExts: []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp"},
	}
}

// IsConvertible returns true if the file is a raster format that gets converted.
func (e *extensions) IsConvertible(filePath string) bool {
	return slices.Contains(e.sourceExts, normalisedExt(filePath))
}

// IsTarget returns true if the file already uses the canonical codec.
func (e *extensions) IsTarget(filePath string) bool {
	return normalisedExt(filePath) == TargetExt
}

// IsCandidate returns true if the file takes part in a run at all.
func (e *extensions) IsCandidate(filePath string) bool {
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return false
	}
	return e.IsConvertible(filePath) || e.IsTarget(filePath)
}

func normalisedExt(filePath string) string {
	return strings.ToLower(filepath.Ext(filePath))
}

func stem(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
