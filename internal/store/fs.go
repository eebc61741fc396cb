// Package store persists scan runs: per-run result directories on the
// filesystem and a sqlite history index of past runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

// TimestampLayout names run directories and log files.
const TimestampLayout = "20060102_150405"

// ScreenshotFile is the per-target screenshot filename.
const ScreenshotFile = "screenshot.png"

// DataFile is the per-target result filename.
const DataFile = "data.json"

// FS reads and writes scan run directories under the output root.
type FS struct {
	root string
	log  pslog.Logger
}

// NewFS constructs a filesystem store rooted at outputRoot, creating it if
// missing.
func NewFS(outputRoot string, logger pslog.Logger) (*FS, error) {
	if strings.TrimSpace(outputRoot) == "" {
		return nil, errors.New("output root is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, err
	}
	return &FS{root: outputRoot, log: logger.With("output_root", outputRoot)}, nil
}

// Root returns the output root directory.
func (s *FS) Root() string { return s.root }

// CreateRun creates the per-run directory for the given timestamp.
func (s *FS) CreateRun(stamp string) (string, error) {
	if strings.TrimSpace(stamp) == "" {
		return "", errors.New("run timestamp is required")
	}
	dir := filepath.Join(s.root, stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	s.log.Debug("run directory created", "dir", dir)
	return dir, nil
}

// WriteResult persists one target's outcome under the run directory. The
// screenshot is written first so data.json can reference it by name.
func (s *FS) WriteResult(runDir string, result schema.TargetResult, screenshot []byte) error {
	targetDir := filepath.Join(runDir, schema.SafeDirName(result.URL))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	if len(screenshot) > 0 {
		if err := os.WriteFile(filepath.Join(targetDir, ScreenshotFile), screenshot, 0o644); err != nil {
			return fmt.Errorf("write screenshot: %w", err)
		}
		result.Screenshot = ScreenshotFile
	}
	if err := writeJSONAtomic(filepath.Join(targetDir, DataFile), result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	s.log.Trace("result saved", "url", result.URL, "dir", targetDir)
	return nil
}

// LoadRun reads every target result back from a run directory, restoring the
// scan input order from the stored index.
func (s *FS) LoadRun(runDir string) ([]schema.TargetResult, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", schema.ErrRunNotFound, runDir)
		}
		return nil, err
	}
	var results []schema.TargetResult
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(runDir, entry.Name(), DataFile))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		var result schema.TargetResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("parse %s/%s: %w", entry.Name(), DataFile, err)
		}
		results = append(results, result)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s holds no results", schema.ErrRunNotFound, runDir)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

// Screenshot reads a target's screenshot bytes from a run directory. A missing
// screenshot is not an error; it returns nil bytes.
func (s *FS) Screenshot(runDir string, result schema.TargetResult) ([]byte, error) {
	if result.Screenshot == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(runDir, schema.SafeDirName(result.URL), result.Screenshot))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// LatestRunDir returns the most recent run directory under the output root,
// relying on the sortable timestamp naming.
func (s *FS) LatestRunDir() (string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", err
	}
	latest := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%w: no runs under %s", schema.ErrRunNotFound, s.root)
	}
	return filepath.Join(s.root, latest), nil
}

// writeJSONAtomic writes JSON through a temp file, fsync, and rename so a
// crashed scan never leaves a truncated data.json behind.
func writeJSONAtomic(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "data-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
