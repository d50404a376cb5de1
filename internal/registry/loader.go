// Package registry finds llama model files on disk and resolves the model
// identifier a worker is started with.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"textgen/internal/common/fsutil"
	"textgen/pkg/types"
)

const modelExt = ".gguf"

// LoadDir scans a directory for *.gguf files and builds a registry from filenames.
// ID is the full filename (including extension); Path is the absolute file path.
func LoadDir(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), modelExt) {
			continue
		}
		models = append(models, types.Model{ID: name, Name: strings.TrimSuffix(name, filepath.Ext(name)), Path: filepath.Join(abs, name)})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve maps a model identifier to a file. An identifier naming an existing
// file wins; otherwise it is looked up in dir by filename, with or without the
// .gguf extension.
func Resolve(dir, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("model identifier is empty")
	}
	if p, err := fsutil.ExpandHome(id); err == nil {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("model %q not found (no models dir configured)", id)
	}
	models, err := LoadDir(dir)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if strings.EqualFold(m.ID, id) || strings.EqualFold(m.Name, id) {
			return m.Path, nil
		}
	}
	return "", fmt.Errorf("model %q not found in %s", id, dir)
}
