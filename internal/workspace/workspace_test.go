package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tonwerk/abschrift/internal/types"
)

func newLayout(t *testing.T) *Layout {
	t.Helper()
	return New(t.TempDir())
}

func TestEnsureUserCreatesAllDirectories(t *testing.T) {
	l := newLayout(t)
	if err := l.EnsureUser("alice"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	for _, dir := range []string{l.InDir("alice"), l.OutDir("alice"), l.ErrorDir("alice"), l.WorkerDir("alice")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing directory %s: %v", dir, err)
		}
	}
}

func TestUsers(t *testing.T) {
	l := newLayout(t)
	for _, user := range []string{"alice", "bob"} {
		if err := l.EnsureUser(user); err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
	}
	users, err := l.Users()
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %v", users)
	}
}

func TestLanguageDefaultsToGerman(t *testing.T) {
	l := newLayout(t)
	if got := l.Language("nobody"); got != types.DefaultLanguage {
		t.Fatalf("language = %q, want %q", got, types.DefaultLanguage)
	}
}

func TestLanguageRoundTripAndValidation(t *testing.T) {
	l := newLayout(t)
	if err := l.SetLanguage("alice", " EN \n"); err != nil {
		t.Fatalf("SetLanguage failed: %v", err)
	}
	if got := l.Language("alice"); got != "en" {
		t.Fatalf("language = %q, want en", got)
	}

	// A garbage control file falls back to the default.
	path := filepath.Join(l.InDir("alice"), LanguageFile)
	if err := os.WriteFile(path, []byte("english"), 0o644); err != nil {
		t.Fatalf("write language file: %v", err)
	}
	if got := l.Language("alice"); got != types.DefaultLanguage {
		t.Fatalf("language = %q, want default", got)
	}
}

func TestHotwords(t *testing.T) {
	l := newLayout(t)
	if words := l.Hotwords("nobody"); words != nil {
		t.Fatalf("expected no hotwords, got %v", words)
	}
	if err := l.SetHotwords("alice", []string{"Mietvertrag", "Nebenkosten"}); err != nil {
		t.Fatalf("SetHotwords failed: %v", err)
	}
	// Blank lines and padding are tolerated.
	path := filepath.Join(l.InDir("alice"), HotwordsFile)
	if err := os.WriteFile(path, []byte("  Mietvertrag \n\n\nNebenkosten\n"), 0o644); err != nil {
		t.Fatalf("write hotwords: %v", err)
	}
	words := l.Hotwords("alice")
	if len(words) != 2 || words[0] != "Mietvertrag" || words[1] != "Nebenkosten" {
		t.Fatalf("hotwords = %v", words)
	}
}

func TestIsControlFile(t *testing.T) {
	if !IsControlFile(HotwordsFile) || !IsControlFile(LanguageFile) {
		t.Fatal("control files not recognized")
	}
	if IsControlFile("meeting.mp3") {
		t.Fatal("media file treated as control file")
	}
}

func TestUniqueName(t *testing.T) {
	dir := t.TempDir()
	if got := UniqueName(dir, "a.mp3"); got != "a.mp3" {
		t.Fatalf("free name changed: %q", got)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := UniqueName(dir, "a.mp3")
	if got == "a.mp3" {
		t.Fatal("collision not resolved")
	}
	if !strings.HasPrefix(got, "a (") || !strings.HasSuffix(got, ").mp3") {
		t.Fatalf("unexpected unique name %q", got)
	}
}

func TestSanitizeName(t *testing.T) {
	if got := SanitizeName("../../etc/passwd"); strings.Contains(got, "/") {
		t.Fatalf("path separators survived: %q", got)
	}
	if got := SanitizeName(`a:b*c?.mp3`); got != "a_b_c_.mp3" {
		t.Fatalf("sanitized = %q", got)
	}
	long := strings.Repeat("x", 200) + ".mp3"
	got := SanitizeName(long)
	if len(got) > 100 {
		t.Fatalf("name not capped: %d chars", len(got))
	}
	if !strings.HasSuffix(got, ".mp3") {
		t.Fatalf("extension lost: %q", got)
	}
}

func TestArtifactPathsShareBaseName(t *testing.T) {
	l := newLayout(t)
	srt := l.SRTPath("alice", "interview.mp3")
	if filepath.Base(srt) != "interview.srt" {
		t.Fatalf("srt = %s", srt)
	}
	if filepath.Base(l.TranscriptPath("alice", "interview.mp3")) != "interview.txt" {
		t.Fatal("transcript path wrong")
	}
	if filepath.Base(l.MetaPath("alice", "interview.mp3")) != "interview.json" {
		t.Fatal("meta path wrong")
	}
	if filepath.Base(l.MixedAudioPath("alice", "tracks.zip")) != "tracks.mixed.m4a" {
		t.Fatal("mixed audio path wrong")
	}
}

func TestHasArtifacts(t *testing.T) {
	l := newLayout(t)
	if err := l.EnsureUser("alice"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if l.HasArtifacts("alice", "a.mp3") {
		t.Fatal("artifacts reported before any were written")
	}
	if err := os.WriteFile(l.SRTPath("alice", "a.mp3"), []byte("1\n"), 0o644); err != nil {
		t.Fatalf("write srt: %v", err)
	}
	if !l.HasArtifacts("alice", "a.mp3") {
		t.Fatal("artifacts not detected")
	}
}

func TestMoveToErrorRecordsMessage(t *testing.T) {
	l := newLayout(t)
	if err := l.EnsureUser("alice"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	src := filepath.Join(l.InDir("alice"), "bad.mp3")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := l.MoveToError("alice", src, "The file could not be read."); err != nil {
		t.Fatalf("MoveToError failed: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("source still in place")
	}
	if _, err := os.Stat(filepath.Join(l.ErrorDir("alice"), "bad.mp3")); err != nil {
		t.Fatalf("file not in error dir: %v", err)
	}
	if got := l.ErrorMessage("alice", "bad.mp3"); got != "The file could not be read." {
		t.Fatalf("message = %q", got)
	}
}

func TestErrorMessageFallsBackToGeneric(t *testing.T) {
	l := newLayout(t)
	if got := l.ErrorMessage("alice", "unknown.mp3"); got != GenericErrorMessage {
		t.Fatalf("message = %q", got)
	}
}

func TestIsErrorMeta(t *testing.T) {
	if !IsErrorMeta("bad.mp3.error.txt") {
		t.Fatal("companion not recognized")
	}
	if IsErrorMeta("bad.mp3") {
		t.Fatal("input misclassified as companion")
	}
}

func TestClearWorker(t *testing.T) {
	l := newLayout(t)
	if err := l.EnsureUser("alice"); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	stale := filepath.Join(l.WorkerDir("alice"), "100_1700000000_a.mp3")
	if err := os.WriteFile(stale, nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if err := l.ClearWorker("alice"); err != nil {
		t.Fatalf("ClearWorker failed: %v", err)
	}
	entries, err := os.ReadDir(l.WorkerDir("alice"))
	if err != nil {
		t.Fatalf("read worker dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("worker dir not empty: %v", entries)
	}
	// Clearing a user without a worker dir is a no-op.
	if err := l.ClearWorker("ghost"); err != nil {
		t.Fatalf("ClearWorker on missing dir: %v", err)
	}
}
