package batch

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, dir string, entries map[string][]byte) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := f.Write(content); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	path := filepath.Join(dir, "upload.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write zip: %v", err)
	}
	return path
}

func TestExtractOrdersTracksByName(t *testing.T) {
	dir := t.TempDir()
	zipPath := writeZip(t, dir, map[string][]byte{
		"mic_b.wav":           []byte("b"),
		"mic_a.wav":           []byte("a"),
		"__MACOSX/mic_a.wav":  []byte("junk"),
		".hidden":             []byte("junk"),
		"nested/dir/mic_c.wav": []byte("c"),
	})

	merger := NewMerger(nil, nil, dir)
	archive, err := merger.Extract(zipPath)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	defer archive.Cleanup()

	if len(archive.Tracks) != 3 {
		t.Fatalf("extracted %d tracks, want 3", len(archive.Tracks))
	}
	wantOrder := []string{"mic_a.wav", "mic_b.wav", "mic_c.wav"}
	for i, trackPath := range archive.Tracks {
		if filepath.Base(trackPath) != wantOrder[i] {
			t.Fatalf("track %d = %s, want %s", i, filepath.Base(trackPath), wantOrder[i])
		}
	}
}

func TestExtractKeepsAllTracksOnDuplicateBaseNames(t *testing.T) {
	// Per-participant exports often nest one identically named file per
	// speaker directory; flattening must not lose a recording.
	dir := t.TempDir()
	zipPath := writeZip(t, dir, map[string][]byte{
		"alice/mic.wav": []byte("alice audio"),
		"bob/mic.wav":   []byte("bob audio"),
	})

	archive, err := NewMerger(nil, nil, dir).Extract(zipPath)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	defer archive.Cleanup()

	if len(archive.Tracks) != 2 {
		t.Fatalf("extracted %d tracks, want 2", len(archive.Tracks))
	}
	if archive.Tracks[0] == archive.Tracks[1] {
		t.Fatalf("duplicate track path after extraction: %s", archive.Tracks[0])
	}
	contents := map[string]bool{}
	for _, trackPath := range archive.Tracks {
		data, err := os.ReadFile(trackPath)
		if err != nil {
			t.Fatalf("read track %s: %v", trackPath, err)
		}
		contents[string(data)] = true
	}
	if !contents["alice audio"] || !contents["bob audio"] {
		t.Fatalf("a recording was lost, extracted contents: %v", contents)
	}
}

func TestExtractRejectsEmptyArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := writeZip(t, dir, map[string][]byte{"__MACOSX/x": []byte("junk")})
	if _, err := NewMerger(nil, nil, dir).Extract(zipPath); err == nil {
		t.Fatal("expected error for archive without audio files")
	}
}

func TestArchiveCleanup(t *testing.T) {
	dir := t.TempDir()
	zipPath := writeZip(t, dir, map[string][]byte{"one.wav": []byte("x")})
	archive, err := NewMerger(nil, nil, dir).Extract(zipPath)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	archive.Cleanup()
	if _, err := os.Stat(archive.Dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still present: %v", err)
	}
}
