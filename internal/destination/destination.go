package destination

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"logrelay/internal/checkpoint"
	"logrelay/internal/models"
	"logrelay/internal/predicate"

	"github.com/pterm/pterm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Defaults for the dispatch loop
const (
	DefaultBatchSize     = 100
	DefaultDispatchEvery = 10 * time.Second
	DefaultTryAfter      = 10 * time.Second
	DefaultPostTimeout   = 60 * time.Second
)

// VolumeRecorder counts delivered records per destination and file.
type VolumeRecorder interface {
	Add(name, file string, v int64)
}

// CheckpointSender persists checkpoints after a dispatch drains.
type CheckpointSender interface {
	Send()
}

// EventRecorder keeps notable occurrences for the controller.
type EventRecorder interface {
	Record(typ, msg, config string)
}

// Options shared by every destination of a dispatcher.
type Options struct {
	BatchSize     int
	DispatchEvery time.Duration
	TryAfter      time.Duration
	PostTimeout   time.Duration
	HTTPClient    *http.Client
	// LogAnalyticsEndpoint overrides the workspace URL.
	LogAnalyticsEndpoint string
	Volume               VolumeRecorder
	Checkpoints          CheckpointSender
	Events               EventRecorder
	// Config names the configuration owning the destination.
	Config string
	Logger *pterm.Logger
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.DispatchEvery <= 0 {
		o.DispatchEvery = DefaultDispatchEvery
	}
	if o.TryAfter <= 0 {
		o.TryAfter = DefaultTryAfter
	}
	if o.PostTimeout <= 0 {
		o.PostTimeout = DefaultPostTimeout
	}
	if o.Logger == nil {
		o.Logger = &pterm.DefaultLogger
	}
}

// Item is an element of a destination's buffer.
type Item interface {
	item()
}

// RecordItem is a record waiting to be delivered.
type RecordItem struct {
	Record models.Record
}

// MarkerItem commits a checkpoint once every item before it was delivered.
type MarkerItem struct {
	Checkpoint *checkpoint.Checkpoint
	Pointer    int64
	Epoch      uint64
}

func (RecordItem) item() {}
func (MarkerItem) item() {}

// Destination buffers records for one sink and dispatches them in batches.
// At most one dispatch cycle runs at a time; the pending timer doubles as
// the busy flag.
type Destination struct {
	name      string
	doc       models.Destination
	rules     *predicate.Rules
	connector Connector
	opts      Options
	logger    *pterm.Logger

	mu       sync.Mutex
	buffer   []Item
	timer    *time.Timer
	disposed bool
	stop     chan struct{}
}

// New creates a destination and starts its periodic dispatch.
func New(doc models.Destination, opts Options) (*Destination, error) {
	opts.setDefaults()

	rules, err := predicate.Compile(doc.Rules)
	if err != nil {
		return nil, err
	}

	d := &Destination{
		name:      doc.Name,
		doc:       doc,
		rules:     rules,
		connector: NewConnector(doc, opts.HTTPClient, opts.LogAnalyticsEndpoint),
		opts:      opts,
		logger:    opts.Logger,
		stop:      make(chan struct{}),
	}
	go d.autoDispatch()
	return d, nil
}

// SetConnector replaces the delivery transport.
func (d *Destination) SetConnector(c Connector) {
	d.mu.Lock()
	d.connector = c
	d.mu.Unlock()
}

func (d *Destination) Name() string { return d.name }

// Doc returns the definition the destination was created from.
func (d *Destination) Doc() models.Destination { return d.doc }

// IsBusy reports whether a dispatch is scheduled or running.
func (d *Destination) IsBusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Len returns the number of buffered items, markers included.
func (d *Destination) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// Offer buffers the records accepted by the destination's rules.
//
// When cp is not nil its buffered offset moves to pointer right away so the
// same bytes are not read again. The checkpoint commits immediately when
// nothing is queued; otherwise a marker follows the records and commits
// once they are delivered.
func (d *Destination) Offer(records []models.Record, cp *checkpoint.Checkpoint, pointer int64) {
	var epoch uint64
	if cp != nil {
		epoch = cp.SetBuffered(pointer)
	}

	accepted := d.rules.Filter(records)
	d.logger.Trace("Records offered to destination",
		d.logger.Args("destination", d.name, "accepted", len(accepted), "offered", len(records)))

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	for _, rec := range accepted {
		d.buffer = append(d.buffer, RecordItem{Record: rec})
	}

	committed := false
	if cp != nil {
		if len(d.buffer) == 0 {
			committed = cp.Commit(pointer, epoch)
		} else {
			d.buffer = append(d.buffer, MarkerItem{Checkpoint: cp, Pointer: pointer, Epoch: epoch})
		}
	}
	full := len(d.buffer) >= d.opts.BatchSize
	d.mu.Unlock()

	if committed {
		d.logger.Trace("Checkpoint committed",
			d.logger.Args("path", cp.Path(), "destination", d.name, "committed", pointer))
		if d.opts.Checkpoints != nil {
			d.opts.Checkpoints.Send()
		}
	}
	if full {
		d.Dispatch()
	}
}

// Dispatch starts a dispatch cycle unless the buffer is empty or one is
// already pending.
func (d *Destination) Dispatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed || len(d.buffer) == 0 {
		return
	}
	if d.timer != nil {
		d.logger.Trace("Dispatch already pending", d.logger.Args("destination", d.name))
		return
	}
	d.timer = time.AfterFunc(0, d.cycle)
}

// split takes up to BatchSize records from the head of the buffer along
// with the markers interleaved before the cut. It returns the number of
// buffer items consumed.
func (d *Destination) split() ([]models.Record, []MarkerItem, map[string]int64, int) {
	batch := make([]models.Record, 0, min(len(d.buffer), d.opts.BatchSize))
	var markers []MarkerItem
	files := make(map[string]int64)

	n := 0
	for _, it := range d.buffer {
		switch v := it.(type) {
		case MarkerItem:
			markers = append(markers, v)
		case RecordItem:
			if len(batch) >= d.opts.BatchSize {
				return batch, markers, files, n
			}
			batch = append(batch, v.Record.Stripped())
			files[v.Record.File()]++
		}
		n++
	}
	return batch, markers, files, n
}

func (d *Destination) cycle() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	if len(d.buffer) == 0 {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	batch, markers, files, n := d.split()
	connector := d.connector
	remaining := len(d.buffer)
	d.mu.Unlock()

	d.logger.Debug("Dispatching batch", d.logger.Args(
		"destination", d.name, "records", len(batch), "checkpoints", len(markers), "buffered", remaining))

	var err error
	if len(batch) > 0 {
		err = d.post(connector, batch)
	}

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.timer = time.AfterFunc(d.opts.TryAfter, d.cycle)
		d.mu.Unlock()
		d.logger.WithCaller().Error("Failed to post batch, will retry", d.logger.Args(
			"destination", d.name, "records", len(batch), "retry_in", d.opts.TryAfter.String(), "error", err))
		if d.opts.Events != nil {
			d.opts.Events.Record("error", fmt.Sprintf("destination %q could not post %d records: %v", d.name, len(batch), err), d.opts.Config)
		}
		return
	}

	rest := make([]Item, len(d.buffer)-n)
	copy(rest, d.buffer[n:])
	d.buffer = rest
	for _, m := range markers {
		m.Checkpoint.Commit(m.Pointer, m.Epoch)
	}
	again := len(d.buffer) >= d.opts.BatchSize
	if again {
		d.timer = time.AfterFunc(0, d.cycle)
	} else {
		d.timer = nil
	}
	d.mu.Unlock()

	d.logger.Debug("Batch delivered", d.logger.Args(
		"destination", d.name, "records", len(batch), "remaining", len(rest)))

	if d.opts.Volume != nil {
		for file, count := range files {
			d.opts.Volume.Add(d.name, file, count)
		}
	}
	if !again && d.opts.Checkpoints != nil {
		d.opts.Checkpoints.Send()
	}
}

func (d *Destination) post(connector Connector, batch []models.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.PostTimeout)
	defer cancel()

	ctx, span := otel.Tracer("logrelay/destination").Start(ctx, "destination.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("destination", d.name),
		attribute.Int("batch.size", len(batch)),
	)

	err := connector.Post(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Destination) autoDispatch() {
	ticker := time.NewTicker(d.opts.DispatchEvery)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.Dispatch()
		}
	}
}

// Dispose cancels pending dispatches and drops the buffer. A post already
// in flight completes but its result is discarded.
func (d *Destination) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	dropped := len(d.buffer)
	d.buffer = nil
	connector := d.connector
	d.mu.Unlock()

	close(d.stop)
	if c, ok := connector.(io.Closer); ok {
		c.Close()
	}
	d.logger.Debug("Destination disposed", d.logger.Args("destination", d.name, "dropped", dropped))
}
