// Package poll reads many variables in bounded batches and turns each run
// into a snapshot for the sinks.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/lvar"
)

// maxErrors caps the number of per-variable error strings kept in a Result.
const maxErrors = 50

// lateGrace is added to each batch budget to absorb scheduling jitter.
const lateGrace = 100 * time.Millisecond

// Fetcher reads one variable. lvar.Broker satisfies it.
type Fetcher interface {
	Lookup(ctx context.Context, name string, timeout time.Duration) (float64, error)
}

type Options struct {
	Workers       int
	BatchSize     int
	TimeoutPerVar time.Duration
	BatchWait     time.Duration
	BatchPause    time.Duration
	ProgressEvery int

	// Expression maps a configured name to the name sent to the host.
	// Result keys always use the configured name.
	Expression func(name string) string
}

func DefaultOptions() Options {
	return Options{
		Workers:       8,
		BatchSize:     40,
		TimeoutPerVar: lvar.DefaultTimeout,
		BatchWait:     4 * time.Second,
		BatchPause:    20 * time.Millisecond,
		ProgressEvery: 20,
	}
}

type Result struct {
	Values    map[string]float64
	Total     int
	Completed int
	Failed    int
	Elapsed   time.Duration
	Cancelled bool
	Errors    []string
}

type lookupResult struct {
	Name  string
	Value float64
	Err   error
}

type Manager struct {
	fetcher  Fetcher
	opts     Options
	reporter Reporter
	logger   *zap.Logger
}

func NewManager(fetcher Fetcher, opts Options, logger *zap.Logger) *Manager {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.TimeoutPerVar <= 0 {
		opts.TimeoutPerVar = def.TimeoutPerVar
	}
	if opts.BatchWait <= 0 {
		opts.BatchWait = def.BatchWait
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = 0
	}
	return &Manager{
		fetcher:  fetcher,
		opts:     opts,
		reporter: nopReporter{},
		logger:   logger,
	}
}

// SetReporter installs a progress observer.
func (m *Manager) SetReporter(r Reporter) {
	if r == nil {
		r = nopReporter{}
	}
	m.reporter = r
}

func (m *Manager) Options() Options {
	return m.opts
}

// Execute reads every name once. Names are split into batches of BatchSize;
// each batch runs on at most Workers goroutines and the next batch starts
// only when the current one has finished or its wait budget is spent.
//
// When a batch's wait expires its unfinished reads are cancelled and given
// lateGrace to return before the next batch starts. A Fetcher that ignores
// its context can therefore overlap the next batch.
//
// A failed or timed-out read yields lvar.DefaultValue and counts as failed.
// When ctx is cancelled Execute stops submitting work and returns what was
// collected with Cancelled set. The error is reserved for misuse and is nil
// for every run that reaches the host.
func (m *Manager) Execute(ctx context.Context, names []string) (*Result, error) {
	unique := dedupe(names)
	result := &Result{
		Values: make(map[string]float64, len(unique)),
		Total:  len(unique),
	}
	if len(unique) == 0 {
		return result, nil
	}

	start := time.Now()
	tr := &tracker{result: result, start: start, every: m.opts.ProgressEvery, reporter: m.reporter}

	for i := 0; i < len(unique); i += m.opts.BatchSize {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		end := i + m.opts.BatchSize
		if end > len(unique) {
			end = len(unique)
		}

		if cancelled := m.runBatch(ctx, unique[i:end], tr); cancelled {
			result.Cancelled = true
			break
		}
		tr.report()

		if end < len(unique) && m.opts.BatchPause > 0 {
			select {
			case <-ctx.Done():
				result.Cancelled = true
			case <-time.After(m.opts.BatchPause):
			}
			if result.Cancelled {
				break
			}
		}
	}

	result.Elapsed = time.Since(start)
	m.logger.Debug("poll run finished",
		zap.Int("total", result.Total),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// batchWait is the longest a batch may take: every wave of Workers reads
// gets its full per-variable timeout.
func (m *Manager) batchWait(size int) time.Duration {
	workers := m.workersFor(size)
	waves := (size + workers - 1) / workers
	budget := time.Duration(waves)*m.opts.TimeoutPerVar + lateGrace
	if budget > m.opts.BatchWait {
		return budget
	}
	return m.opts.BatchWait
}

func (m *Manager) workersFor(size int) int {
	if size < m.opts.Workers {
		return size
	}
	return m.opts.Workers
}

// runBatch reports whether ctx was cancelled before the batch was consumed.
func (m *Manager) runBatch(ctx context.Context, batch []string, tr *tracker) bool {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string, len(batch))
	results := make(chan lookupResult, len(batch))

	pending := make(map[string]struct{}, len(batch))
	for _, name := range batch {
		pending[name] = struct{}{}
		jobs <- name
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < m.workersFor(len(batch)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.worker(batchCtx, jobs, results)
		}()
	}

	// results is buffered for the whole batch so late workers never block.
	go func() {
		wg.Wait()
		close(results)
	}()

	timer := time.NewTimer(m.batchWait(len(batch)))
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return true
		case r, ok := <-results:
			if !ok {
				// Workers stopped early on cancellation.
				return ctx.Err() != nil
			}
			if ctx.Err() != nil {
				return true
			}
			delete(pending, r.Name)
			tr.record(r)
		case <-timer.C:
			for name := range pending {
				m.logger.Debug("batch wait expired", zap.String("name", name))
				tr.record(lookupResult{Name: name, Value: lvar.DefaultValue, Err: lvar.ErrTimeout})
			}
			cancel()
			m.drain(results)
			return false
		}
	}
	return false
}

// drain waits up to lateGrace for cancelled workers to exit and discards
// their late results.
func (m *Manager) drain(results <-chan lookupResult) {
	grace := time.NewTimer(lateGrace)
	defer grace.Stop()
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-grace.C:
			m.logger.Debug("cancelled lookups still running after batch wait")
			return
		}
	}
}

func (m *Manager) worker(ctx context.Context, jobs <-chan string, results chan<- lookupResult) {
	for name := range jobs {
		if ctx.Err() != nil {
			return
		}
		results <- m.fetch(ctx, name)
	}
}

func (m *Manager) fetch(ctx context.Context, name string) (r lookupResult) {
	r.Name = name
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("lookup panicked", zap.String("name", name), zap.Any("panic", p))
			r.Value = lvar.DefaultValue
			r.Err = fmt.Errorf("lookup panicked: %v", p)
		}
	}()

	expr := name
	if m.opts.Expression != nil {
		expr = m.opts.Expression(name)
	}

	v, err := m.fetcher.Lookup(ctx, expr, m.opts.TimeoutPerVar)
	if err != nil {
		r.Value = lvar.DefaultValue
		r.Err = err
		return r
	}
	r.Value = v
	return r
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
