package pics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateRoot checks that root exists and is a directory.
func ValidateRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootMissing, root)
	}
	return nil
}

// DiscoverUnits returns the processing units under root. A root that holds
// candidate files directly is the only unit. Otherwise each immediate
// subdirectory holding candidates is a unit of its own. Deeper levels and dot
// directories are never visited.
func DiscoverUnits(root string) ([]string, error) {
	if err := ValidateRoot(root); err != nil {
		return nil, err
	}
	files, err := listCandidates(root)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		return []string{root}, nil
	}

	subdirs, err := subdirectories(root)
	if err != nil {
		return nil, err
	}
	var units []string
	for _, dir := range subdirs {
		files, err := listCandidates(dir)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			units = append(units, dir)
		}
	}
	return units, nil
}

// subdirectories returns the immediate non-dot subdirectories of root in name order.
func subdirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", root, err)
	}
	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dirs = append(dirs, filepath.Join(root, entry.Name()))
	}
	return dirs, nil
}

// listCandidates returns the candidate files directly inside dir, sorted by name.
func listCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	ext := NewExtensions()
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if ext.IsCandidate(p) {
			files = append(files, p)
		}
	}
	return files, nil
}

// canonicalStems returns the stems of canonical-codec files in dir whose
// names are canonical identifiers under cfg.
func canonicalStems(cfg Config, files []string) []string {
	var stems []string
	for _, f := range files {
		if normalisedExt(f) != TargetExt {
			continue
		}
		if s := stem(f); IsCanonicalIdentifier(cfg, s) {
			stems = append(stems, s)
		}
	}
	return stems
}
