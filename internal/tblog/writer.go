package tblog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Writer appends scalar events to one event file. It is safe for concurrent
// use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	now  func() time.Time
}

// NewWriter creates dir and a new event file inside it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create log dir %s", dir)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	now := time.Now()
	name := fmt.Sprintf("events.out.tfevents.%d.%s", now.Unix(), host)
	f, err := os.Create(filepath.Join(dir, name)) //nolint:gosec // G304: path built from the configured log dir
	if err != nil {
		return nil, errors.Wrap(err, "create event file")
	}

	w := &Writer{file: f, buf: bufio.NewWriter(f), now: time.Now}
	if err := w.write(&Event{FileVersion: FileVersion}); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the event file path.
func (w *Writer) Path() string {
	return w.file.Name()
}

// ScalarSummary implements metrics.ScalarLogger.
func (w *Writer) ScalarSummary(tag string, value float64, step int) error {
	return w.write(&Event{
		Step:    int64(step),
		Summary: []Value{{Tag: tag, SimpleValue: float32(value)}},
	})
}

func (w *Writer) write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e.WallTime = float64(w.now().UnixNano()) / 1e9
	return writeRecord(w.buf, e.Marshal())
}

// Flush writes buffered events to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Wrap(w.buf.Flush(), "flush event file")
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return errors.Wrap(w.file.Close(), "close event file")
}

// Run holds the event writers of one training run, laid out as
// <log_dir>/<run_id>/train and <log_dir>/<run_id>/test.
type Run struct {
	Dir   string
	Train *Writer
	Test  *Writer
}

// OpenRun creates the writers of run runID under logDir.
func OpenRun(logDir, runID string) (*Run, error) {
	dir := filepath.Join(logDir, runID)
	train, err := NewWriter(filepath.Join(dir, "train"))
	if err != nil {
		return nil, err
	}
	test, err := NewWriter(filepath.Join(dir, "test"))
	if err != nil {
		train.Close()
		return nil, err
	}
	return &Run{Dir: dir, Train: train, Test: test}, nil
}

// Close closes both writers and returns the first error.
func (r *Run) Close() error {
	errTrain := r.Train.Close()
	errTest := r.Test.Close()
	if errTrain != nil {
		return errTrain
	}
	return errTest
}
