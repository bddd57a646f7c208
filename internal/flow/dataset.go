package flow

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dataset is a named handle over a directory of files. A dataset produced
// by a task records the producer's name in FromTask; a dataset with no
// producer is an input dataset created by the user.
type Dataset struct {
	Name string `json:"name"`
	Path string `json:"path"`
	// FromTask is the producing task name, "" for input datasets.
	FromTask string `json:"from_task,omitempty"`
}

// NewDataset registers an input dataset in the context.
func NewDataset(ctx *Context, name, path string) (*Dataset, error) {
	return registerDataset(ctx, name, path, "")
}

func registerDataset(ctx *Context, name, path, fromTask string) (*Dataset, error) {
	if _, ok := ctx.Datasets[name]; ok {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrDatasetExists)
	}
	d := &Dataset{Name: name, Path: path, FromTask: fromTask}
	ctx.Datasets[name] = d
	return d, nil
}

// Files enumerates the regular files under the dataset path, sorted
// lexicographically by name so that job-id assignment is deterministic.
// Returned paths are absolute.
func (d *Dataset) Files() ([]string, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: read %q: %w", d.Name, d.Path, err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p, err := filepath.Abs(filepath.Join(d.Path, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("dataset %q: resolve %q: %w", d.Name, e.Name(), err)
		}
		files = append(files, p)
	}
	return files, nil
}

// Len returns the number of files, 0 when the path is unreadable.
func (d *Dataset) Len() int {
	files, err := d.Files()
	if err != nil {
		return 0
	}
	return len(files)
}

// Mkdir materializes the dataset directory.
func (d *Dataset) Mkdir() error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("dataset %q: mkdir %q: %w", d.Name, d.Path, err)
	}
	return nil
}
