package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/staging"
)

const (
	journalName   = "snapshots.jsonl"
	archiveSuffix = ".jsonl.zst"
)

// FileSink appends snapshots as JSON lines to <dir>/<date>/snapshots.jsonl.
// When the day rolls over or the sink is closed, the journal is archived as
// a zstd file through the staging directory.
type FileSink struct {
	mu       sync.Mutex
	staging  *staging.Manager
	compress bool
	logger   *zap.Logger

	date string
	file *os.File
	now  func() time.Time
}

// NewFileSink commits archives a previous run left in staging.
func NewFileSink(dir string, compress bool, logger *zap.Logger) *FileSink {
	f := &FileSink{
		staging:  staging.NewManager(dir),
		compress: compress,
		logger:   logger,
		now:      time.Now,
	}
	f.recoverStaged()
	return f
}

func (f *FileSink) recoverStaged() {
	dates, err := f.staging.Pending()
	if err != nil {
		f.logger.Warn("failed to scan staging", zap.Error(err))
		return
	}
	for _, date := range dates {
		committed, err := f.staging.Commit(date)
		if err != nil {
			f.logger.Warn("failed to recover staged archives", zap.String("date", date), zap.Error(err))
			continue
		}
		f.logger.Info("recovered staged archives", zap.String("date", date), zap.Int("files", len(committed)))
	}
}

func (f *FileSink) journalPath(date string) string {
	return filepath.Join(f.staging.DayDir(date), journalName)
}

func (f *FileSink) Write(_ context.Context, snap *Snapshot) error {
	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if date := snap.Date(); date != f.date {
		if err := f.rotateLocked(); err != nil {
			f.logger.Warn("failed to archive journal", zap.String("date", f.date), zap.Error(err))
		}
		if err := f.openLocked(date); err != nil {
			return err
		}
	}

	if _, err := f.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

func (f *FileSink) openLocked(date string) error {
	path := f.journalPath(date)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	f.file = file
	f.date = date
	return nil
}

// rotateLocked closes the open journal and archives it when compression is on.
func (f *FileSink) rotateLocked() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	date := f.date
	f.date = ""
	if err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	if !f.compress {
		return nil
	}
	return f.archive(date)
}

func (f *FileSink) archive(date string) error {
	src := f.journalPath(date)
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = in.Close() }()

	name := fmt.Sprintf("snapshots-%d%s", f.now().Unix(), archiveSuffix)

	size, err := f.staging.Stage(date, name, func(w io.Writer) (int64, error) {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("create zstd encoder: %w", err)
		}
		n, err := io.Copy(enc, in)
		if closeErr := enc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		return n, err
	})
	if err != nil {
		return err
	}

	if _, err := f.staging.Commit(date); err != nil {
		return fmt.Errorf("committing archive: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing journal: %w", err)
	}

	f.logger.Info("journal archived",
		zap.String("date", date),
		zap.String("archive", name),
		zap.Int64("bytes", size),
	)
	return nil
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotateLocked()
}

// Archives lists the committed archives of date.
func (f *FileSink) Archives(date string) ([]string, error) {
	return f.staging.Archives(date, archiveSuffix)
}

// ReadArchive decodes a zstd archive written by FileSink.
func ReadArchive(path string) ([]Snapshot, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = in.Close() }()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var out []Snapshot
	d := json.NewDecoder(dec)
	for {
		var s Snapshot
		if err := d.Decode(&s); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("decoding snapshot: %w", err)
		}
		out = append(out, s)
	}
}
