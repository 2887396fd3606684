// Package universe loads the instrument list a benchmark requests.
package universe

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/Sternrassler/fanout-bench/pkg/logging"
)

// Read returns the non-empty lines of r in order. Duplicates are kept.
func Read(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	return ids, nil
}

// Load reads an instrument list file.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instrument file: %w", err)
	}
	defer f.Close()

	ids, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ids, nil
}

// Synthetic returns n generated identifiers: SYN00001.X, SYN00002.X, ...
func Synthetic(n int) []string {
	if n <= 0 {
		return []string{}
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("SYN%05d.X", i+1)
	}
	return ids
}

// Head returns the first size instruments of ids, or all of them when size
// is zero or exceeds the list.
func Head(ids []string, size int) []string {
	if size <= 0 || size >= len(ids) {
		return ids
	}
	return ids[:size:size]
}

// Resolve loads the first size instruments of path. A missing file falls back
// to size synthetic identifiers; an empty list is an error.
func Resolve(path string, size int) ([]string, error) {
	logger := logging.NewLogger(logging.ComponentCLI)

	ids, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if size <= 0 {
			return nil, fmt.Errorf("instrument file %s not found and no universe size given", path)
		}
		logger.Warn().
			Str("path", path).
			Int("size", size).
			Msg("Instrument file not found, using synthetic instruments")
		return Synthetic(size), nil
	case err != nil:
		return nil, err
	}

	logger.Info().
		Str("path", path).
		Int("instruments", len(ids)).
		Msg("Processed instrument list")

	if len(ids) == 0 {
		return nil, fmt.Errorf("instrument file %s is empty", path)
	}
	return Head(ids, size), nil
}
