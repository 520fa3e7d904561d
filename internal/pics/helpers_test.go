package pics

import (
	"bytes"
	"crypto/sha256"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
)

func init() {
	logger.SetOutput(io.Discard)
}

// createTestExiftool creates an exiftool instance for testing and ensures cleanup
func createTestExiftool(t *testing.T) *exiftool.Exiftool {
	t.Helper()
	if _, err := exec.LookPath("exiftool"); err != nil {
		t.Skip("exiftool not installed")
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		t.Fatalf("Failed to create exiftool: %v", err)
	}
	t.Cleanup(func() { et.Close() })
	return et
}

func createTestDir(t *testing.T, parentDir, name string) string {
	t.Helper()
	dirPath := filepath.Join(parentDir, name)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		t.Fatalf("Failed to create directory %s: %v", dirPath, err)
	}
	return dirPath
}

func createTestFile(t *testing.T, dir, filename string) string {
	t.Helper()
	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create file %s: %v", filePath, err)
	}
	return filePath
}

// gradientImage returns a w x h image whose pixels depend on seed.
func gradientImage(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*255/max(1, w-1)) ^ seed,
				G: uint8(y*255/max(1, h-1)),
				B: seed,
				A: 255,
			})
		}
	}
	return img
}

// createTestImage writes a gradient image encoded by extension and returns its path.
func createTestImage(t *testing.T, dir, filename string, w, h int, seed uint8) string {
	t.Helper()
	filePath := filepath.Join(dir, filename)
	if err := imaging.Save(gradientImage(w, h, seed), filePath); err != nil {
		t.Fatalf("Failed to save image %s: %v", filePath, err)
	}
	return filePath
}

// createPNGAs writes a PNG under an arbitrary name, e.g. a fake canonical file.
func createPNGAs(t *testing.T, dir, filename string, w, h int, seed uint8) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradientImage(w, h, seed)); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	filePath := filepath.Join(dir, filename)
	if err := os.WriteFile(filePath, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", filePath, err)
	}
	return filePath
}

func assertFileExists(t *testing.T, filePath string) {
	t.Helper()
	if _, err := os.Stat(filePath); err != nil {
		t.Errorf("Expected file to exist at %s: %v", filePath, err)
	}
}

func assertFileNotExists(t *testing.T, filePath string) {
	t.Helper()
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Errorf("Expected file to not exist at %s", filePath)
	}
}

// listNames returns the names of all entries in dir.
func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// fakeEncoder produces decodable PNG bytes instead of AVIF. The output is a
// solid image with the input's bounds, followed by padding derived from the
// input pixels so that identical inputs give identical bytes. sizeFor sets
// the total length per quality.
type fakeEncoder struct {
	sizeFor func(quality int) int
	err     error

	// started receives one value per Encode call when non-nil; Encode then
	// waits for release.
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	calls  []EncodeParams
	bounds []image.Rectangle
}

func newFakeEncoder(sizeFor func(int) int) *fakeEncoder {
	return &fakeEncoder{sizeFor: sizeFor}
}

func (e *fakeEncoder) Name() string {
	return "fake"
}

func (e *fakeEncoder) Encode(img image.Image, params EncodeParams) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, params)
	e.bounds = append(e.bounds, img.Bounds())
	e.mu.Unlock()

	if e.started != nil {
		e.started <- struct{}{}
		<-e.release
	}
	if e.err != nil {
		return nil, e.err
	}

	b := img.Bounds()
	solid := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, solid); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(imaging.Clone(img).Pix)
	target := buf.Len() + len(sum) + 1
	if e.sizeFor != nil {
		target = max(target, e.sizeFor(params.Quality))
	}
	buf.Write(sum[:])
	buf.WriteByte(byte(params.Quality))
	for buf.Len() < target {
		buf.WriteByte(sum[buf.Len()%len(sum)])
	}
	return buf.Bytes(), nil
}

func (e *fakeEncoder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEncoder) lastBounds() image.Rectangle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.bounds) == 0 {
		return image.Rectangle{}
	}
	return e.bounds[len(e.bounds)-1]
}

// testConfig returns a configuration suited to small synthetic images.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxFileSize = 1 << 20
	cfg.ResizeTrigger = 300
	cfg.ResizeTarget = 200
	cfg.MaxWorkers = 4
	return cfg
}
