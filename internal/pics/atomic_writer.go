package pics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/acm19/pixcanon/internal/logger"
	"github.com/google/uuid"
)

const (
	tempPrefix = ".pixcanon-"
	tempSuffix = ".tmp"
)

// AtomicWriter places new files so that the destination path only ever holds
// either its previous content or a complete, decodable new file.
type AtomicWriter struct {
	// beforeCommit runs after validation and before the rename. Tests use it
	// to interrupt a write.
	beforeCommit func(tempPath string) error
}

// NewAtomicWriter creates an AtomicWriter.
func NewAtomicWriter() *AtomicWriter {
	return &AtomicWriter{}
}

// WriteBytes writes data to a temp file beside dest, validates that it decodes
// and renames it onto dest. On any failure the temp file is removed and dest
// is left untouched.
func (w *AtomicWriter) WriteBytes(dest string, data []byte) (err error) {
	dir := filepath.Dir(dest)
	tempPath := filepath.Join(dir, tempPrefix+uuid.NewString()+tempSuffix)

	defer func() {
		if err != nil {
			if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("Failed to remove temp file", "path", tempPath, "error", rmErr)
			}
			err = fmt.Errorf("%w: %s: %v", ErrAtomicWrite, filepath.Base(dest), err)
		}
	}()

	if err := writeSynced(tempPath, data); err != nil {
		return err
	}
	if err := validateDecodable(tempPath); err != nil {
		return err
	}
	if w.beforeCommit != nil {
		if err := w.beforeCommit(tempPath); err != nil {
			return err
		}
	}
	// rename(2) replaces an existing destination atomically.
	if err := os.Rename(tempPath, dest); err != nil {
		return err
	}
	return nil
}

func writeSynced(filePath string, data []byte) error {
	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// isTempFile reports whether name is an AtomicWriter temp file.
func isTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// CleanupStaleTemps removes temp files left behind by a killed run in dir.
func CleanupStaleTemps(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isTempFile(entry.Name()) {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if err := os.Remove(p); err != nil {
			logger.Warn("Failed to remove stale temp file", "path", p, "error", err)
			continue
		}
		logger.Debug("Removed stale temp file", "path", p)
		removed++
	}
	return removed, nil
}

// CleanupStaleTempsTree removes leftover temp files from root and its
// immediate subdirectories, the only places a run writes to.
func CleanupStaleTempsTree(root string) (int, error) {
	if err := ValidateRoot(root); err != nil {
		return 0, err
	}
	subdirs, err := subdirectories(root)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, dir := range append([]string{root}, subdirs...) {
		n, err := CleanupStaleTemps(dir)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
