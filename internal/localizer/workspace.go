package localizer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a per-request scratch directory for the uploaded image and face crops.
type Workspace struct {
	Dir string
}

// NewWorkspace creates group_<uuid> under scratch (or the OS temp dir).
func NewWorkspace(scratch string) (*Workspace, error) {
	if scratch == "" {
		scratch = os.TempDir()
	}
	dir := filepath.Join(scratch, "group_"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// WriteGroup stores the uploaded group image.
func (w *Workspace) WriteGroup(data []byte) (string, error) {
	path := filepath.Join(w.Dir, "group_image")
	return path, os.WriteFile(path, data, 0o600)
}

// WriteCrop stores one face crop as face_<uuid>.jpg.
func (w *Workspace) WriteCrop(data []byte) (string, error) {
	path := filepath.Join(w.Dir, "face_"+uuid.NewString()+".jpg")
	return path, os.WriteFile(path, data, 0o600)
}

// Release removes the workspace and everything in it. Safe on nil.
func (w *Workspace) Release() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}
