package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tonwerk/abschrift/internal/types"
)

// Control files living in a user's in/ directory. They steer processing and
// are never treated as jobs.
const (
	HotwordsFile = "hotwords.txt"
	LanguageFile = "language.txt"
)

// errorMetaSuffix marks the message companion written next to a failed input.
const errorMetaSuffix = ".error.txt"

// GenericErrorMessage is shown when a failed file has no recorded message.
const GenericErrorMessage = "Processing failed. Please upload the file again."

// Layout resolves the per-user directory structure under one data root:
// in/ (uploads and control files), out/ (artifacts), error/ (failed inputs
// plus message companions) and worker/ (progress marker mirror).
type Layout struct {
	root string
}

// New creates a layout rooted at dir.
func New(root string) *Layout {
	return &Layout{root: root}
}

func (l *Layout) Root() string { return l.root }

func (l *Layout) InDir(userID string) string     { return filepath.Join(l.root, userID, "in") }
func (l *Layout) OutDir(userID string) string    { return filepath.Join(l.root, userID, "out") }
func (l *Layout) ErrorDir(userID string) string  { return filepath.Join(l.root, userID, "error") }
func (l *Layout) WorkerDir(userID string) string { return filepath.Join(l.root, userID, "worker") }

// EnsureUser creates the four per-user directories.
func (l *Layout) EnsureUser(userID string) error {
	for _, dir := range []string{l.InDir(userID), l.OutDir(userID), l.ErrorDir(userID), l.WorkerDir(userID)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create user directory: %w", err)
		}
	}
	return nil
}

// Users lists user IDs that currently have a directory under the root.
func (l *Layout) Users() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan data root: %w", err)
	}
	var users []string
	for _, entry := range entries {
		if entry.IsDir() {
			users = append(users, entry.Name())
		}
	}
	return users, nil
}

// IsControlFile reports whether an in/ entry is a processing control file
// rather than an uploaded job.
func IsControlFile(name string) bool {
	return name == HotwordsFile || name == LanguageFile
}

// Hotwords returns the user's vocabulary hints, one per line. A missing
// file means no hints.
func (l *Layout) Hotwords(userID string) []string {
	data, err := os.ReadFile(filepath.Join(l.InDir(userID), HotwordsFile))
	if err != nil {
		return nil
	}
	var words []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			words = append(words, trimmed)
		}
	}
	return words
}

// SetHotwords writes the vocabulary hint list.
func (l *Layout) SetHotwords(userID string, words []string) error {
	if err := l.EnsureUser(userID); err != nil {
		return err
	}
	content := strings.Join(words, "\n")
	return os.WriteFile(filepath.Join(l.InDir(userID), HotwordsFile), []byte(content), 0o644)
}

// Language returns the user's two-letter language code, defaulting to "de".
func (l *Layout) Language(userID string) string {
	data, err := os.ReadFile(filepath.Join(l.InDir(userID), LanguageFile))
	if err != nil {
		return types.DefaultLanguage
	}
	code := strings.ToLower(strings.TrimSpace(string(data)))
	if len(code) != 2 {
		return types.DefaultLanguage
	}
	return code
}

// SetLanguage writes the language control file.
func (l *Layout) SetLanguage(userID, code string) error {
	if err := l.EnsureUser(userID); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(l.InDir(userID), LanguageFile), []byte(strings.TrimSpace(code)), 0o644)
}

// UniqueName returns name, or a variant with a short random infix when name
// already exists in dir. Keeps the extension so format detection still works.
func UniqueName(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
		return name
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%s)%s", base, uuid.New().String()[:8], ext)
}

// SanitizeName strips path separators and caps the length of an uploaded
// file name.
func SanitizeName(name string) string {
	name = filepath.Base(name)
	for _, bad := range []string{"\\", ":", "*", "?", "\"", "<", ">", "|"} {
		name = strings.ReplaceAll(name, bad, "_")
	}
	if len(name) > 100 {
		ext := filepath.Ext(name)
		name = name[:100-len(ext)] + ext
	}
	return name
}

// Artifact paths for a processed input file.

func (l *Layout) SRTPath(userID, fileName string) string {
	return filepath.Join(l.OutDir(userID), baseName(fileName)+".srt")
}

func (l *Layout) TranscriptPath(userID, fileName string) string {
	return filepath.Join(l.OutDir(userID), baseName(fileName)+".txt")
}

func (l *Layout) MetaPath(userID, fileName string) string {
	return filepath.Join(l.OutDir(userID), baseName(fileName)+".json")
}

func (l *Layout) MixedAudioPath(userID, fileName string) string {
	return filepath.Join(l.OutDir(userID), baseName(fileName)+".mixed.m4a")
}

// HasArtifacts reports whether the file has completed output. Artifact
// presence, not any marker, is the completion signal.
func (l *Layout) HasArtifacts(userID, fileName string) bool {
	_, err := os.Stat(l.SRTPath(userID, fileName))
	return err == nil
}

func baseName(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

// MoveToError moves a failed input into error/ and records the user-facing
// message next to it.
func (l *Layout) MoveToError(userID, sourcePath, message string) error {
	if err := l.EnsureUser(userID); err != nil {
		return err
	}
	name := filepath.Base(sourcePath)
	dest := filepath.Join(l.ErrorDir(userID), name)
	if err := os.Rename(sourcePath, dest); err != nil {
		return fmt.Errorf("move to error dir: %w", err)
	}
	metaPath := filepath.Join(l.ErrorDir(userID), name+errorMetaSuffix)
	if err := os.WriteFile(metaPath, []byte(message), 0o644); err != nil {
		return fmt.Errorf("write error message: %w", err)
	}
	return nil
}

// ErrorMessage returns the recorded message for a failed file, or the
// generic default when none was written.
func (l *Layout) ErrorMessage(userID, fileName string) string {
	data, err := os.ReadFile(filepath.Join(l.ErrorDir(userID), fileName+errorMetaSuffix))
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return GenericErrorMessage
	}
	return strings.TrimSpace(string(data))
}

// IsErrorMeta reports whether an error/ entry is a message companion rather
// than a failed input.
func IsErrorMeta(name string) bool {
	return strings.HasSuffix(name, errorMetaSuffix)
}

// ClearWorker removes leftover worker-state files (stale progress markers
// from an interrupted run).
func (l *Layout) ClearWorker(userID string) error {
	dir := l.WorkerDir(userID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan worker dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("clear worker dir: %w", err)
		}
	}
	return nil
}
