package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Backoff doubles the restart delay after every short-lived run.
type Backoff struct {
	min, max time.Duration
	stable   time.Duration
	current  time.Duration
}

// NewBackoff creates a backoff starting at min and capped at max. A run that
// lasted at least stable resets the delay.
func NewBackoff(min, max, stable time.Duration) *Backoff {
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, stable: stable}
}

// Next returns the delay before the next attempt given how long the last run lasted.
func (b *Backoff) Next(ran time.Duration) time.Duration {
	if b.current == 0 || ran >= b.stable {
		b.current = b.min
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

// RunState is what the daemon records about its last service run
type RunState struct {
	Started  time.Time `json:"started"`
	Stopped  time.Time `json:"stopped,omitempty"`
	Restarts int       `json:"restarts"`
	Error    string    `json:"error,omitempty"`
}

// RunTracker persists RunState to a state file
type RunTracker struct {
	stateFile string
}

// NewRunTracker creates a new tracker with the given state file path
func NewRunTracker(stateFile string) *RunTracker {
	return &RunTracker{stateFile: stateFile}
}

// Load reads the last recorded state, or a zero state if none exists
func (t *RunTracker) Load() RunState {
	var st RunState
	data, err := os.ReadFile(t.stateFile)
	if err != nil {
		return st
	}
	_ = json.Unmarshal(data, &st)
	return st
}

// Save writes the state file
func (t *RunTracker) Save(st RunState) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(t.stateFile), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := t.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, t.stateFile)
}
