package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 5*time.Second, time.Minute)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(0); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i, w, got)
		}
	}

	if got := b.Next(2 * time.Minute); got != time.Second {
		t.Errorf("expected reset after a stable run, got %v", got)
	}
}

func TestRunTrackerRoundTrip(t *testing.T) {
	tracker := NewRunTracker(filepath.Join(t.TempDir(), "state", ".daemon-state"))

	if st := tracker.Load(); !st.Started.IsZero() {
		t.Fatalf("expected zero state before first save, got %+v", st)
	}

	started := time.Date(2025, 11, 14, 20, 0, 0, 0, time.UTC)
	if err := tracker.Save(RunState{Started: started, Restarts: 2, Error: "relay unreachable"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	st := tracker.Load()
	if !st.Started.Equal(started) || st.Restarts != 2 || st.Error != "relay unreachable" {
		t.Errorf("unexpected state: %+v", st)
	}
}
