package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/types"
	"github.com/google/uuid"
)

const (
	// DefaultBasePath is the base directory for task workspaces
	DefaultBasePath = "/var/lib/trainyard/tasks"
)

// Workspace lays out task directories under a base path
type Workspace struct {
	basePath string
}

// New creates a workspace rooted at basePath
func New(basePath string) (*Workspace, error) {
	if basePath == "" {
		basePath = DefaultBasePath
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	return &Workspace{basePath: basePath}, nil
}

// TaskDir returns the root directory of a task
func (w *Workspace) TaskDir(taskID int64) string {
	return filepath.Join(w.basePath, fmt.Sprintf("task_%d", taskID))
}

// InputDir returns the task's input directory, creating it if needed
func (w *Workspace) InputDir(taskID int64) (string, error) {
	dir := filepath.Join(w.TaskDir(taskID), "input")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create input directory: %w", err)
	}
	return dir, nil
}

// NewOutputDir creates a uniquely named output directory for one attempt of
// the given stage
func (w *Workspace) NewOutputDir(taskID int64, c types.Capability) (string, error) {
	prefix := "marked"
	if c == types.CapabilityTraining {
		prefix = "training"
	}
	name := fmt.Sprintf("%s_%s_%s", prefix, time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8])
	dir := filepath.Join(w.TaskDir(taskID), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

// SaveImage writes one uploaded image into the task's input directory and
// returns the stored file name
func (w *Workspace) SaveImage(taskID int64, name string, r io.Reader) (string, error) {
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid image name %q", name)
	}

	dir, err := w.InputDir(taskID)
	if err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return name, nil
}

// HasOutput reports whether path is a directory containing at least one
// regular file. An empty path or missing directory has no output.
func (w *Workspace) HasOutput(path string) (bool, error) {
	if path == "" {
		return false, nil
	}

	found := false
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	return found, nil
}

// Purge removes everything inside path but keeps the directory itself
func (w *Workspace) Purge(path string) error {
	if path == "" {
		return nil
	}
	if !w.contains(path) {
		return fmt.Errorf("refusing to purge %s outside workspace", path)
	}

	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(path, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// ReadCaptions returns the contents of the caption (.txt) files in path,
// ordered by file name, skipping empty ones
func (w *Workspace) ReadCaptions(path string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(path, "*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var captions []string
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("failed to read caption %s: %w", filepath.Base(m), err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			captions = append(captions, text)
		}
	}
	return captions, nil
}

// RemoveTask deletes the task's whole directory tree
func (w *Workspace) RemoveTask(taskID int64) error {
	if err := os.RemoveAll(w.TaskDir(taskID)); err != nil {
		return fmt.Errorf("failed to delete task directory: %w", err)
	}
	return nil
}

func (w *Workspace) contains(path string) bool {
	rel, err := filepath.Rel(w.basePath, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
