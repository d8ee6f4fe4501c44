package workspace

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"extractkit/internal/logging"
)

// OutputDirName is the output subtree created inside every workspace.
const OutputDirName = "output"

// Workspace is one request's isolated filesystem scope: exactly one staged
// input file and one output subtree.
type Workspace struct {
	ID        string
	Root      string
	InputPath string
	OutputDir string

	release sync.Once
}

// Observer receives workspace lifecycle events (metrics). Optional.
type Observer interface {
	WorkspaceAcquired()
	WorkspaceReleased(cleanupErr error)
}

// Manager allocates and tears down workspaces under a temp root.
type Manager struct {
	tempRoot string
	dataDir  string
	observer Observer
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver reports acquire/release events to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithDataDir sets the persistent data dir used by Persist.
func WithDataDir(dir string) Option {
	return func(m *Manager) { m.dataDir = dir }
}

// NewManager returns a Manager creating workspaces under tempRoot ("" = OS temp dir).
func NewManager(tempRoot string, opts ...Option) *Manager {
	m := &Manager{
		tempRoot: tempRoot,
		dataDir:  "data",
		logger:   logging.New("workspace"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire validates the upload, allocates a fresh directory, stages the upload
// into it under its original filename and creates the output subtree.
// On error nothing is left on disk.
func (m *Manager) Acquire(u Upload) (*Workspace, error) {
	if err := CheckExtension(u.Filename); err != nil {
		return nil, err
	}
	name, err := stagedName(u.Filename)
	if err != nil {
		return nil, err
	}
	if m.tempRoot != "" {
		if err := os.MkdirAll(m.tempRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create temp root: %w", err)
		}
	}
	id := uuid.NewString()
	root, err := os.MkdirTemp(m.tempRoot, "extractkit-"+id+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	ws := &Workspace{
		ID:        id,
		Root:      root,
		InputPath: filepath.Join(root, name),
		OutputDir: filepath.Join(root, OutputDirName),
	}
	if err := m.populate(ws, u); err != nil {
		if rmErr := os.RemoveAll(root); rmErr != nil {
			m.logger.Error("remove half-built workspace", "path", root, "error", rmErr)
		}
		return nil, err
	}
	if m.observer != nil {
		m.observer.WorkspaceAcquired()
	}
	m.logger.Debug("workspace acquired", "workspace", ws.ID, "input", name)
	return ws, nil
}

func (m *Manager) populate(ws *Workspace, u Upload) error {
	err := stage(u, func(r io.Reader) error {
		return writeFile(ws.InputPath, r)
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ws.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

// Release deletes the workspace recursively. Only the first call has effect.
// Deletion failures are logged and never returned.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil {
		return
	}
	ws.release.Do(func() {
		err := os.RemoveAll(ws.Root)
		if err != nil {
			m.logger.Error("workspace cleanup failed", "workspace", ws.ID, "path", ws.Root, "error", err)
		} else {
			m.logger.Debug("workspace released", "workspace", ws.ID)
		}
		if m.observer != nil {
			m.observer.WorkspaceReleased(err)
		}
	})
}

// Persisted is the stable, id-addressed location used by the save variant.
type Persisted struct {
	ID        string
	InputPath string
	OutputDir string
}

// Persist stages the upload under <data>/uploads/<id>/ and creates
// <data>/outputs/<area>/<id>/. Unlike Acquire, nothing is ever released.
func (m *Manager) Persist(u Upload, area string) (*Persisted, error) {
	name, err := stagedName(u.Filename)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	uploadDir := filepath.Join(m.dataDir, "uploads", id)
	outDir := filepath.Join(m.dataDir, "outputs", area, id)
	for _, dir := range []string{uploadDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	p := &Persisted{ID: id, InputPath: filepath.Join(uploadDir, name), OutputDir: outDir}
	err = stage(u, func(r io.Reader) error {
		return writeFile(p.InputPath, r)
	})
	if err != nil {
		m.Discard(p)
		return nil, err
	}
	return p, nil
}

// Discard removes a persisted upload and its output dir, for save runs that
// failed. Errors are logged only.
func (m *Manager) Discard(p *Persisted) {
	for _, dir := range []string{filepath.Dir(p.InputPath), p.OutputDir} {
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Error("discard persisted output", "id", p.ID, "path", dir, "error", err)
		}
	}
}

// DataDir returns the persistent data dir.
func (m *Manager) DataDir() string { return m.dataDir }

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write input file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close input file: %w", err)
	}
	return nil
}
