// Package sink persists or forwards the value maps produced by each polling
// cycle.
package sink

import (
	"context"
	"errors"
	"time"
)

// Snapshot is one polling cycle's output.
type Snapshot struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	ElapsedMs int64              `json:"elapsed_ms"`
	Total     int                `json:"total"`
	Failed    int                `json:"failed"`
	Cancelled bool               `json:"cancelled,omitempty"`
	Values    map[string]float64 `json:"values"`
}

// Date returns the UTC day the snapshot belongs to.
func (s *Snapshot) Date() string {
	return s.Timestamp.UTC().Format("2006-01-02")
}

// FailureRatio returns failed/total, or 0 for an empty snapshot.
func (s *Snapshot) FailureRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// Sink consumes snapshots.
type Sink interface {
	Write(ctx context.Context, snap *Snapshot) error
	Close() error
}

// Multi fans a snapshot out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Write(ctx context.Context, snap *Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Write(context.Context, *Snapshot) error { return nil }
func (Nop) Close() error                            { return nil }
