package corpus

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Source is one raw recording, on disk or in memory.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileSource is a recording on disk.
type FileSource string

func (s FileSource) Name() string { return string(s) }

func (s FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(s))
}

// BlobSource is a recording held in memory, e.g. one just downloaded.
type BlobSource struct {
	Label string
	Data  []byte
}

func (s BlobSource) Name() string { return s.Label }

func (s BlobSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

// Files returns a source per path.
func Files(paths ...string) []Source {
	sources := make([]Source, len(paths))
	for i, p := range paths {
		sources[i] = FileSource(p)
	}
	return sources
}

// Glob expands shell patterns into file sources, sorted and without
// duplicates.
func Glob(patterns ...string) ([]Source, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)
	return Files(paths...), nil
}
