package pics

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/barasher/go-exiftool"
)

// Dimensions is the pixel size reported by a cheap metadata read.
type Dimensions struct {
	Width  int
	Height int
}

// MetadataReader reads image dimensions without decoding pixel data.
type MetadataReader interface {
	ReadDimensions(filePath string) (Dimensions, error)
}

// dimensionsReader is one source of dimensions inside the aggregated reader
type dimensionsReader interface {
	readDimensions(filePath string) (Dimensions, error)
	name() string
}

// headerReader parses only the container header through the registered image codecs
type headerReader struct{}

func (r *headerReader) name() string {
	return "header"
}

func (r *headerReader) readDimensions(filePath string) (Dimensions, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Dimensions{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// exifReader asks a running exiftool process for the image size
type exifReader struct {
	et *exiftool.Exiftool
}

func (r *exifReader) name() string {
	return "exiftool"
}

func (r *exifReader) readDimensions(filePath string) (Dimensions, error) {
	fileInfos := r.et.ExtractMetadata(filePath)
	if len(fileInfos) == 0 {
		return Dimensions{}, fmt.Errorf("no metadata found")
	}
	fileInfo := fileInfos[0]
	if fileInfo.Err != nil {
		return Dimensions{}, fileInfo.Err
	}

	width, err := fileInfo.GetInt("ImageWidth")
	if err != nil {
		return Dimensions{}, err
	}
	height, err := fileInfo.GetInt("ImageHeight")
	if err != nil {
		return Dimensions{}, err
	}
	if width <= 0 || height <= 0 {
		return Dimensions{}, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}
	return Dimensions{Width: int(width), Height: int(height)}, nil
}

// aggregatedReader iterates through multiple readers until one succeeds
type aggregatedReader struct {
	readers []dimensionsReader
}

// NewMetadataReader creates a MetadataReader. When et is non-nil exiftool is
// consulted first and the header parser is used as a fallback.
func NewMetadataReader(et *exiftool.Exiftool) MetadataReader {
	var readers []dimensionsReader
	if et != nil {
		readers = append(readers, &exifReader{et: et})
	}
	readers = append(readers, &headerReader{})
	return &aggregatedReader{readers: readers}
}

// ReadDimensions tries each reader in order.
func (a *aggregatedReader) ReadDimensions(filePath string) (Dimensions, error) {
	var lastErr error
	for _, r := range a.readers {
		dims, err := r.readDimensions(filePath)
		if err == nil {
			return dims, nil
		}
		logger.Debug("Metadata reader failed, trying next", "reader", r.name(), "file", filepath.Base(filePath), "error", err)
		lastErr = err
	}
	return Dimensions{}, fmt.Errorf("all metadata readers failed for %s: %w", filePath, lastErr)
}
