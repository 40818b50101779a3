package poll

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Progress is a point-in-time view of a running Execute.
type Progress struct {
	Completed int
	Total     int
	Failed    int
	Rate      float64 // completions per second
	Elapsed   time.Duration
}

// Reporter observes progress. Report is called from the goroutine running
// Execute and must not block for long.
type Reporter interface {
	Report(p Progress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Progress)

func (f ReporterFunc) Report(p Progress) { f(p) }

type nopReporter struct{}

func (nopReporter) Report(Progress) {}

// LogReporter logs progress at Info.
type LogReporter struct {
	Logger *zap.Logger
}

func (l LogReporter) Report(p Progress) {
	l.Logger.Info("poll progress",
		zap.String("done", fmt.Sprintf("%d/%d", p.Completed, p.Total)),
		zap.Int("failed", p.Failed),
		zap.String("rate", fmt.Sprintf("%.1f/s", p.Rate)),
	)
}

// tracker folds lookup results into a Result and fires the reporter.
type tracker struct {
	result   *Result
	start    time.Time
	every    int
	reporter Reporter
	reported int
}

func (t *tracker) record(r lookupResult) {
	res := t.result
	res.Values[r.Name] = r.Value
	res.Completed++
	if r.Err != nil {
		res.Failed++
		if len(res.Errors) < maxErrors {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", r.Name, r.Err))
		}
	}
	if t.every > 0 && res.Completed%t.every == 0 {
		t.report()
	}
}

func (t *tracker) report() {
	res := t.result
	if res.Completed == t.reported {
		return
	}
	t.reported = res.Completed
	elapsed := time.Since(t.start)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(res.Completed) / elapsed.Seconds()
	}
	t.reporter.Report(Progress{
		Completed: res.Completed,
		Total:     res.Total,
		Failed:    res.Failed,
		Rate:      rate,
		Elapsed:   elapsed,
	})
}
