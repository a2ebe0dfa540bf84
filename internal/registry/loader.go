// Package registry locates GGUF model artifacts on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"modelgw/internal/common/fsutil"
)

const ggufExt = ".gguf"

// Artifact is a model file found on disk.
type Artifact struct {
	// ID is the file name including extension, e.g. "gemma-3-12b-it-q4_k_m.gguf".
	ID   string
	Path string
}

// Name returns the ID without its extension.
func (a Artifact) Name() string {
	return strings.TrimSuffix(a.ID, filepath.Ext(a.ID))
}

// GGUFScanner lists *.gguf files in a directory.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan returns the GGUF artifacts directly inside dir, sorted by ID. The
// extension match is case-insensitive; a leading '~' is expanded.
func (s *GGUFScanner) Scan(dir string) ([]Artifact, error) {
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
	var out []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ggufExt) {
			continue
		}
		out = append(out, Artifact{ID: name, Path: filepath.Join(abs, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]Artifact, error) {
	return NewGGUFScanner().Scan(dir)
}

// Resolve turns a configured model path into a single artifact path.
//
// A file path is returned as-is (after '~' expansion). For a directory, the
// artifact whose ID or Name equals name is chosen; with no name, the
// directory must contain exactly one artifact. A path that does not exist
// is returned unchanged so the engine reports the load failure.
func Resolve(path, name string) (string, error) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return "", err
	}
	if !fsutil.IsDir(p) {
		return p, nil
	}
	arts, err := LoadDir(p)
	if err != nil {
		return "", err
	}
	if len(arts) == 0 {
		return "", fmt.Errorf("no %s files in %s", ggufExt, p)
	}
	if name != "" {
		for _, a := range arts {
			if a.ID == name || a.Name() == name {
				return a.Path, nil
			}
		}
		return "", fmt.Errorf("model %q not found in %s", name, p)
	}
	if len(arts) > 1 {
		ids := make([]string, len(arts))
		for i, a := range arts {
			ids[i] = a.ID
		}
		return "", fmt.Errorf("%s holds %d models (%s); set model_name", p, len(arts), strings.Join(ids, ", "))
	}
	return arts[0].Path, nil
}
