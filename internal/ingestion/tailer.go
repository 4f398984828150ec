package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"logrelay/internal/checkpoint"
	"logrelay/internal/events"
	"logrelay/internal/metrics"
	"logrelay/internal/models"

	"github.com/pterm/pterm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Tailer timings
const (
	DeferDelay = time.Second
	RetryDelay = time.Second
)

// MetricsSink receives the records read from a file.
type MetricsSink interface {
	Offer(records []models.Record, file, config string, templates []metrics.Template)
}

// Tailer reads one file on behalf of a configuration. A notification
// schedules a read cycle; cycles repeat until every checkpoint reaches the
// end of the file. Only one cycle is ever scheduled or running.
type Tailer struct {
	path    string
	config  *Configuration
	table   *checkpoint.Table
	metrics MetricsSink
	chunk   int64
	logger  *pterm.Logger

	mu       sync.Mutex
	timer    *time.Timer
	dirty    bool
	disposed bool

	failure string // last failure reported as an event
}

// NewTailer creates an idle tailer. chunk caps the bytes read per cycle.
func NewTailer(path string, config *Configuration, table *checkpoint.Table, sink MetricsSink, chunk int64, logger *pterm.Logger) *Tailer {
	return &Tailer{
		path:    path,
		config:  config,
		table:   table,
		metrics: sink,
		chunk:   chunk,
		logger:  logger,
	}
}

func (t *Tailer) Path() string                  { return t.path }
func (t *Tailer) Configuration() *Configuration { return t.config }

// IsBusy reports whether a cycle is scheduled or running.
func (t *Tailer) IsBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Notify schedules a read cycle unless one is already pending. A
// notification that arrives while a cycle runs makes the tailer check the
// file once more before going idle.
func (t *Tailer) Notify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	if t.timer != nil {
		t.dirty = true
		t.logger.Trace("Read already scheduled", t.logger.Args("path", t.path))
		return
	}
	t.timer = time.AfterFunc(0, t.cycle)
}

// Dispose cancels a pending cycle. A cycle already running finishes but
// does not reschedule.
func (t *Tailer) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disposed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tailer) isDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// fail records a read failure as an event, once until the tailer recovers.
func (t *Tailer) fail(msg string, err error) {
	text := fmt.Sprintf("%s %s: %v", msg, t.path, err)
	if text == t.failure {
		return
	}
	t.failure = text
	t.config.recordEvent(events.TypeError, text)
}

func (t *Tailer) cycle() {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	t.mu.Unlock()

	delay, again := t.read()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return
	}
	if !again && t.dirty {
		delay, again = 0, true
	}
	if again {
		t.timer = time.AfterFunc(delay, t.cycle)
		return
	}
	t.timer = nil
}

// read performs one cycle and returns when to run the next one; false
// means the tailer goes idle.
func (t *Tailer) read() (time.Duration, bool) {
	dests := t.config.Destinations()
	if len(dests) == 0 {
		return 0, false
	}

	ready := make([]string, 0, len(dests))
	for _, d := range dests {
		if !d.IsBusy() {
			ready = append(ready, d.Name())
		}
	}
	if len(ready) == 0 {
		t.logger.Debug("All destinations busy, deferring read", t.logger.Args("path", t.path))
		return DeferDelay, true
	}

	checkpoints := t.table.ByPathAndDestination(t.path, ready)

	info, err := Stat(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		t.logger.Debug("File no longer exists", t.logger.Args("path", t.path))
		return 0, false
	}
	if err != nil {
		t.logger.WithCaller().Error("Failed to stat file, will retry", t.logger.Args("path", t.path, "error", err))
		t.fail("Failed to stat", err)
		return RetryDelay, true
	}

	for _, cp := range checkpoints {
		if cp.Validate(info.Ino, info.Size) {
			t.logger.Debug("Checkpoint reset", t.logger.Args(
				"path", t.path, "destination", cp.Destination(), "ino", info.Ino, "size", info.Size))
		}
	}

	var outstanding []*checkpoint.Checkpoint
	for _, cp := range checkpoints {
		if cp.Buffered() < info.Size {
			outstanding = append(outstanding, cp)
		}
	}
	if len(outstanding) == 0 {
		if len(ready) < len(dests) {
			t.logger.Debug("Destinations that need reads are busy, deferring", t.logger.Args("path", t.path))
			return DeferDelay, true
		}
		t.logger.Trace("All checkpoints at end of file", t.logger.Args("path", t.path))
		return 0, false
	}

	pointer := outstanding[0].Buffered()
	for _, cp := range outstanding[1:] {
		pointer = min(pointer, cp.Buffered())
	}
	var same []*checkpoint.Checkpoint
	for _, cp := range outstanding {
		if cp.Buffered() == pointer {
			same = append(same, cp)
		}
	}

	end := min(info.Size, pointer+t.chunk)
	data, err := t.readRange(pointer, end)
	if err != nil {
		t.logger.WithCaller().Error("Failed to read file, will retry", t.logger.Args("path", t.path, "error", err))
		t.fail("Failed to read", err)
		return RetryDelay, true
	}
	end = pointer + int64(len(data))

	result, err := t.config.BufferToRows(string(data), t.path)
	if err != nil {
		t.logger.WithCaller().Error("Failed to convert chunk", t.logger.Args(
			"path", t.path, "config", t.config.Name, "error", err))
		t.fail("Failed to convert a chunk of", err)
		return RetryDelay, true
	}
	t.failure = ""

	// Dispose may have landed during the read; a disposed tailer offers nothing.
	if t.isDisposed() {
		t.logger.Trace("Tailer disposed during read, chunk dropped", t.logger.Args("path", t.path))
		return 0, false
	}

	next := end - int64(result.Extra)
	t.logger.Trace("Chunk converted", t.logger.Args(
		"path", t.path, "records", len(result.Records), "extra", result.Extra, "from", pointer, "to", next))
	if next <= pointer {
		if end-pointer >= t.chunk {
			t.logger.Warn("No complete entry within the read limit", t.logger.Args(
				"path", t.path, "offset", pointer, "limit", t.chunk))
		}
		return 0, false
	}

	for _, cp := range same {
		if d := t.config.Destination(cp.Destination()); d != nil {
			t.logger.Debug("Records offered", t.logger.Args(
				"path", t.path, "destination", d.Name(), "records", len(result.Records)))
			d.Offer(result.Records, cp, next)
		}
	}

	if t.metrics != nil {
		t.metrics.Offer(result.Records, t.path, t.config.Name, t.config.Templates())
	}

	return 0, true
}

func (t *Tailer) readRange(start, end int64) ([]byte, error) {
	_, span := otel.Tracer("logrelay/ingestion").Start(context.Background(), "ingestion.read")
	defer span.End()
	span.SetAttributes(
		attribute.String("file", t.path),
		attribute.Int64("offset", start),
		attribute.Int64("bytes", end-start),
	)

	data, err := ReadRange(t.path, start, end)
	if err != nil {
		span.RecordError(err)
	}
	return data, err
}
