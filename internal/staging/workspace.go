package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tonearm/internal/fileutil"
	"tonearm/internal/services"
)

// Workspace keeps per-job artifacts that must survive between attempts.
type Workspace struct {
	root string
}

// NewWorkspace returns a workspace rooted at dir.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{root: dir}
}

// Root returns the directory holding every job workspace.
func (w *Workspace) Root() string {
	return w.root
}

// JobDir returns the workspace directory for jobID.
func (w *Workspace) JobDir(jobID string) string {
	return filepath.Join(w.root, sanitizeName(jobID))
}

// Commit moves src into the job workspace under name and returns the new
// location. An existing file with the same name is replaced.
func (w *Workspace) Commit(jobID, src, name string) (string, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", services.Wrap(services.ErrConfiguration, "staging", "commit artifact", fmt.Sprintf("invalid name %q", name), nil)
	}
	dir := w.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransientIO, "staging", "commit artifact", "create workspace", err)
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	if err := fileutil.CopyAtomic(src, dst, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransientIO, "staging", "commit artifact", "copy into workspace", err)
	}
	_ = os.Remove(src)
	return dst, nil
}

// Has reports whether path is a committed artifact that still exists.
func (w *Workspace) Has(path string) bool {
	path = strings.TrimSpace(path)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the workspace of jobID.
func (w *Workspace) Remove(jobID string) error {
	err := os.RemoveAll(w.JobDir(jobID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
