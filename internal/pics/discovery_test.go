package pics

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
)

func TestDiscoverUnits(t *testing.T) {
	t.Run("root with images is the only unit", func(t *testing.T) {
		root := t.TempDir()
		createTestFile(t, root, "top.jpg")
		trip := createTestDir(t, root, "trip")
		createTestFile(t, trip, "a.png")

		units, err := DiscoverUnits(root)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if want := []string{root}; !slices.Equal(units, want) {
			t.Errorf("Expected units %v, got %v", want, units)
		}
	})

	t.Run("root without images yields immediate subfolders", func(t *testing.T) {
		root := t.TempDir()
		createTestFile(t, root, "notes.txt")
		trip := createTestDir(t, root, "trip")
		createTestFile(t, trip, "a.png")
		createTestFile(t, trip, "notes.txt")
		nested := createTestDir(t, trip, "day 2")
		createTestFile(t, nested, "b.jpg")
		home := createTestDir(t, root, "home")
		createTestFile(t, home, "c.webp")
		docs := createTestDir(t, root, "docs")
		createTestFile(t, docs, "readme.md")
		createTestFile(t, docs, ".hidden.jpg")
		deepOnly := createTestDir(t, root, "archive")
		createTestFile(t, createTestDir(t, deepOnly, "2019"), "d.jpg")
		hidden := createTestDir(t, root, ".thumbnails")
		createTestFile(t, hidden, "e.jpg")

		units, err := DiscoverUnits(root)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if want := []string{home, trip}; !slices.Equal(units, want) {
			t.Errorf("Expected units %v, got %v", want, units)
		}
	})

	t.Run("empty root has no units", func(t *testing.T) {
		units, err := DiscoverUnits(t.TempDir())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if len(units) != 0 {
			t.Errorf("Expected no units, got %v", units)
		}
	})
}

func TestDiscoverUnits_MissingRoot(t *testing.T) {
	_, err := DiscoverUnits(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrRootMissing) {
		t.Errorf("Expected ErrRootMissing, got %v", err)
	}

	file := createTestFile(t, t.TempDir(), "a.jpg")
	if err := ValidateRoot(file); !errors.Is(err, ErrRootMissing) {
		t.Errorf("Expected ErrRootMissing for a file root, got %v", err)
	}
}

func TestListCandidatesAndCanonicalStems(t *testing.T) {
	dir := t.TempDir()
	createTestFile(t, dir, "b.jpg")
	createTestFile(t, dir, "a1b2c3d4.avif")
	createTestFile(t, dir, "Holiday.avif")
	createTestFile(t, dir, "notes.txt")
	createTestDir(t, dir, "sub.jpg")

	files, err := listCandidates(dir)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	if want := []string{"Holiday.avif", "a1b2c3d4.avif", "b.jpg"}; !slices.Equal(names, want) {
		t.Errorf("Expected %v, got %v", want, names)
	}

	stems := canonicalStems(DefaultConfig(), files)
	if !slices.Equal(stems, []string{"a1b2c3d4"}) {
		t.Errorf("Expected [a1b2c3d4], got %v", stems)
	}
}
