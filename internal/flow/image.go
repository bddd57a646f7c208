package flow

import (
	"fmt"
	"os"
	"path/filepath"
)

// Image is a named handle over a container image file. Immutable once
// registered.
type Image struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// NewImage registers an image in the context.
func NewImage(ctx *Context, name, path string) (*Image, error) {
	if _, ok := ctx.Images[name]; ok {
		return nil, fmt.Errorf("image %q: %w", name, ErrImageExists)
	}
	img := &Image{Name: name, Path: path}
	ctx.Images[name] = img
	return img, nil
}

// Mkdir materializes the image metadata directory under the flow root.
func (i *Image) Mkdir(flowPath string) error {
	dir := filepath.Join(flowPath, "images", i.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("image %q: mkdir %q: %w", i.Name, dir, err)
	}
	return nil
}
