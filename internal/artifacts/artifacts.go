// Package artifacts owns the temporary files a job creates and guarantees
// their removal.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix marks every file this package creates, so orphans can be swept.
const Prefix = "facemosaic-"

// Kind identifies an intermediate artifact.
type Kind string

const (
	IntermediateVideo Kind = "video"
	RawAudio          Kind = "audio-raw"
	ShiftedAudio      Kind = "audio-shifted"
	StagedOutput      Kind = "output"
)

var extensions = map[Kind]string{
	IntermediateVideo: ".mp4",
	RawAudio:          ".wav",
	ShiftedAudio:      ".wav",
}

// Artifact is a registered temporary file.
type Artifact struct {
	Kind Kind
	Path string
}

// Manager hands out job-unique temp paths and removes them on Cleanup.
// Every path is registered before it is returned, so a file is tracked even
// if the process writing it dies halfway.
type Manager struct {
	dir    string
	token  string
	logger *slog.Logger

	mu        sync.Mutex
	artifacts []Artifact
}

// New creates a manager rooted at dir (os.TempDir when empty).
func New(dir string, logger *slog.Logger) (*Manager, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	token := uuid.NewString()
	return &Manager{dir: dir, token: token, logger: logger.With("job", token)}, nil
}

// Token is the job-unique identifier embedded in every artifact name.
func (m *Manager) Token() string { return m.token }

// Path registers and returns the temp path for kind.
func (m *Manager) Path(kind Kind) string {
	return m.register(kind, filepath.Join(m.dir, m.name(kind, extensions[kind])))
}

// StagedPath registers a temp path next to final, sharing its extension. A
// rename from the staged path onto final never crosses a filesystem.
func (m *Manager) StagedPath(final string) string {
	dir := filepath.Dir(final)
	return m.register(StagedOutput, filepath.Join(dir, "."+m.name(StagedOutput, filepath.Ext(final))))
}

func (m *Manager) name(kind Kind, ext string) string {
	return Prefix + m.token + "-" + string(kind) + ext
}

func (m *Manager) register(kind Kind, path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, Artifact{Kind: kind, Path: path})
	m.logger.Debug("artifact registered", "kind", kind, "path", path)
	return path
}

// Artifacts returns a snapshot of everything registered so far.
func (m *Manager) Artifacts() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Artifact(nil), m.artifacts...)
}

// Promote renames the staged output onto final. On success the staged file
// no longer exists, so Cleanup has nothing to remove for it.
func (m *Manager) Promote(staged, final string) error {
	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("promote output: %w", err)
	}
	return nil
}

// Cleanup removes every registered artifact. Files that were never created are ignored.
// It is safe to call more than once.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, a := range m.artifacts {
		err := os.Remove(a.Path)
		switch {
		case err == nil:
			m.logger.Debug("artifact removed", "kind", a.Kind, "path", a.Path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, fmt.Errorf("remove %s: %w", a.Path, err))
		}
	}
	return errors.Join(errs...)
}

// Sweep deletes leftovers of jobs that never reached Cleanup (e.g. SIGKILL)
// from dir and returns the removed paths.
func Sweep(dir string) ([]string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var removed []string
	var errs []error
	for _, e := range entries {
		name := strings.TrimPrefix(e.Name(), ".")
		if e.IsDir() || !strings.HasPrefix(name, Prefix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}
