// Package fileutil provides case-insensitive file lookup over real and
// embedded file systems.
package fileutil

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// FindFileCaseInsensitive searches dir in fsys for a file whose name equals
// filename ignoring case, and returns its slash-separated path.
//
// Example:
//
//	p, err := FindFileCaseInsensitive(os.DirFS("/programs"), ".", "Counter.YAML")
//	// finds "counter.yaml", "COUNTER.YAML", ...
func FindFileCaseInsensitive(fsys fs.FS, dir, filename string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), filename) {
			return path.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

// ListByExtension returns the files directly under dir whose extension is
// one of exts, compared case-insensitively. Paths are slash-separated and
// sorted.
func ListByExtension(fsys fs.FS, dir string, exts ...string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := path.Ext(entry.Name())
		for _, want := range exts {
			if strings.EqualFold(ext, want) {
				out = append(out, path.Join(dir, entry.Name()))
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
