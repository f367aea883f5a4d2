// Package workspace manages the per-request scratch directory that holds the
// dump, the files archive and the final archive.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ogichanchan/ninja-backup-mate/internal/logging"
)

// DirPrefix names every workspace directory
const DirPrefix = "ninja-backup-mate-temp-"

const indexGuard = "<?php // Silence is golden."

// ErrCreate wraps failures allocating a workspace
var ErrCreate = errors.New("could not create temporary directory")

// Workspace is a uniquely named directory owned by a single backup request
type Workspace struct {
	fs     afero.Fs
	dir    string
	logger *logging.Logger

	once sync.Once
}

// Create makes a new workspace below base. The directory is created with an
// exclusive mkdir so two requests can never share one.
func Create(fs afero.Fs, base string, logger *logging.Logger) (*Workspace, error) {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if base == "" {
		base = os.TempDir()
	}

	if err := fs.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreate, base, err)
	}

	dir := filepath.Join(base, DirPrefix+uuid.NewString())
	if err := fs.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreate, dir, err)
	}

	// keeps the directory from being listed when base sits under a web root
	if err := afero.WriteFile(fs, filepath.Join(dir, "index.php"), []byte(indexGuard), 0o600); err != nil {
		fs.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %s: %w", ErrCreate, dir, err)
	}

	logger.WithField("workspace", dir).Debug("Workspace created")
	return &Workspace{fs: fs, dir: dir, logger: logger}, nil
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns name joined to the workspace directory
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Cleanup removes the workspace and everything in it. Safe to call more than
// once; failures are logged at debug level and never returned.
func (w *Workspace) Cleanup() {
	w.once.Do(func() {
		if err := w.fs.RemoveAll(w.dir); err != nil {
			w.logger.WithField("workspace", w.dir).WithField("error", err.Error()).Debug("Workspace cleanup failed")
			return
		}
		w.logger.WithField("workspace", w.dir).Debug("Workspace removed")
	})
}
