// Package artifact manages the on-disk products of generation jobs.
// Each (model, run, variable, forecast hour) maps to one unique
// filename, so concurrent workers never write the same path and the
// store doubles as the scheduler's record of completed work: a restart
// rebuilds its pending set from what already exists here.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Ext is the artifact file extension. The rendering layer writes the
// payload; the store only dictates naming.
const Ext = ".json"

// Store names, finds, and expires artifacts under a root directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: dir, logger: logger}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Name builds the canonical artifact filename:
// {model}_{YYYYMMDD}_{HH}z_{variable}_f{FFF}.
func Name(model string, runTime time.Time, variable string, forecastHour int) string {
	return fmt.Sprintf("%s_%s_%02dz_%s_f%03d%s",
		model, runTime.UTC().Format("20060102"), runTime.UTC().Hour(), variable, forecastHour, Ext)
}

// Path returns the absolute path an artifact lives at.
func (s *Store) Path(model string, runTime time.Time, variable string, forecastHour int) string {
	return filepath.Join(s.root, Name(model, runTime, variable, forecastHour))
}

// Exists reports whether the artifact is already on disk, which lets
// the scheduler skip re-generating completed work.
func (s *Store) Exists(model string, runTime time.Time, variable string, forecastHour int) bool {
	_, err := os.Stat(s.Path(model, runTime, variable, forecastHour))
	return err == nil
}

// HourComplete reports whether every requested variable for the
// forecast hour is already on disk.
func (s *Store) HourComplete(model string, runTime time.Time, variables []string, forecastHour int) bool {
	for _, v := range variables {
		if !s.Exists(model, runTime, v, forecastHour) {
			return false
		}
	}
	return len(variables) > 0
}

// runStamp is the {YYYYMMDD}_{HH}z portion of a filename.
func runStamp(runTime time.Time) string {
	return fmt.Sprintf("%s_%02dz", runTime.UTC().Format("20060102"), runTime.UTC().Hour())
}

// ListRuns returns the distinct run stamps present for a model, newest
// first.
func (s *Store) ListRuns(model string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read artifact root: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stamp, ok := parseRunStamp(model, entry.Name())
		if ok {
			seen[stamp] = true
		}
	}

	runs := make([]string, 0, len(seen))
	for stamp := range seen {
		runs = append(runs, stamp)
	}
	// Stamps are zero-padded, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// CleanupOldRuns deletes every artifact belonging to runs older than
// the newest keepN for the model. Returns how many files were removed.
func (s *Store) CleanupOldRuns(model string, keepN int) (int, error) {
	runs, err := s.ListRuns(model)
	if err != nil {
		return 0, err
	}
	if len(runs) <= keepN {
		return 0, nil
	}

	expired := make(map[string]bool)
	for _, stamp := range runs[keepN:] {
		expired[stamp] = true
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("read artifact root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stamp, ok := parseRunStamp(model, entry.Name())
		if !ok || !expired[stamp] {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, entry.Name())); err != nil {
			s.logger.Warn("failed to remove expired artifact", "file", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("retention cleanup complete",
			"model", model, "removed", removed, "kept_runs", keepN)
	}
	return removed, nil
}

// parseRunStamp extracts the {YYYYMMDD}_{HH}z stamp from a filename
// belonging to the model, or reports false for foreign files.
func parseRunStamp(model, filename string) (string, bool) {
	prefix := model + "_"
	if !strings.HasPrefix(filename, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(filename, prefix)
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) < 3 {
		return "", false
	}
	if len(parts[0]) != 8 || !strings.HasSuffix(parts[1], "z") {
		return "", false
	}
	return parts[0] + "_" + parts[1], true
}
