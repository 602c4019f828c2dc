package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/photostacks/photostacks/internal/database"
)

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.jpg")
	pathB := filepath.Join(dir, "b.jpg")
	for _, p := range []string{pathA, pathB} {
		if err := os.WriteFile(p, []byte("image bytes"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}

	photos := []database.Photo{
		{ID: 2, Path: pathB, ContentHash: "hash-b"},
		{ID: 1, Path: pathA, ContentHash: "hash-a"},
		{ID: 3, Path: filepath.Join(dir, "missing.jpg"), ContentHash: "hash-c"},
	}

	items, hashes, failed := loadImages(photos, 2)
	if failed != 1 {
		t.Errorf("Expected 1 unreadable photo, got %d", failed)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 loadable items, got %d", len(items))
	}
	if items[0].PhotoID != 1 || items[1].PhotoID != 2 {
		t.Errorf("Expected items sorted by photo ID, got [%d %d]", items[0].PhotoID, items[1].PhotoID)
	}
	if hashes[1] != "hash-a" || hashes[2] != "hash-b" {
		t.Errorf("Catalog hashes should be kept as-is, got %v", hashes)
	}
	if _, ok := hashes[3]; ok {
		t.Error("Unreadable photo must not appear in the hash map")
	}
}

func TestLoadImagesEmpty(t *testing.T) {
	items, hashes, failed := loadImages(nil, 0)
	if len(items) != 0 || len(hashes) != 0 || failed != 0 {
		t.Errorf("Expected empty results, got %d items, %d hashes, %d failed",
			len(items), len(hashes), failed)
	}
}
