// Package staging writes snapshot archives next to their final location and
// moves them into place only once they are complete.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	stagingName = ".staging"
	tmpSuffix   = ".tmp"
)

// Manager owns <root>/<date>/ day directories and the <root>/.staging tree
// that archives pass through.
type Manager struct {
	root        string
	stagingRoot string
}

func NewManager(root string) *Manager {
	return &Manager{
		root:        root,
		stagingRoot: filepath.Join(root, stagingName),
	}
}

// DayDir is where a day's journal and committed archives live.
func (m *Manager) DayDir(date string) string {
	return filepath.Join(m.root, date)
}

// StagingDir holds a day's archives until Commit.
func (m *Manager) StagingDir(date string) string {
	return filepath.Join(m.stagingRoot, date)
}

// Stage streams write's output into <staging>/<date>/<name>. The file only
// appears under its name once write returned without error.
func (m *Manager) Stage(date, name string, write func(io.Writer) (int64, error)) (int64, error) {
	dest := filepath.Join(m.StagingDir(date), name)
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return 0, fmt.Errorf("creating staging directory: %w", err)
	}

	tmp := dest + tmpSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	size, err := write(f)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("writing %s: %w", name, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}
	return size, nil
}

// Commit moves every finished archive staged for date into its day
// directory and removes the staging directory. Leftover temp files from an
// interrupted Stage are discarded. Returns the committed paths.
func (m *Manager) Commit(date string) ([]string, error) {
	src := m.StagingDir(date)
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}

	dst := m.DayDir(date)
	if err := os.MkdirAll(dst, 0750); err != nil {
		return nil, fmt.Errorf("creating day directory: %w", err)
	}

	var committed []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), tmpSuffix) {
			continue
		}
		to := filepath.Join(dst, e.Name())
		if err := os.Rename(filepath.Join(src, e.Name()), to); err != nil {
			return committed, fmt.Errorf("committing %s: %w", e.Name(), err)
		}
		committed = append(committed, to)
	}

	if err := os.RemoveAll(src); err != nil {
		return committed, fmt.Errorf("removing staging directory: %w", err)
	}
	return committed, nil
}

// Pending lists the dates that still have a staging directory, oldest
// first. A non-empty result after startup means a previous run stopped
// between Stage and Commit.
func (m *Manager) Pending() ([]string, error) {
	entries, err := os.ReadDir(m.stagingRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// Archives lists the committed files of date whose names end in suffix.
func (m *Manager) Archives(date, suffix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(m.DayDir(date), "*"+suffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
