// Package dispatcher wires the pipeline of a dispatcher node: source
// watching, tailing, delivery and reporting to the controller.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"logrelay/internal/checkpoint"
	"logrelay/internal/destination"
	"logrelay/internal/discovery"
	"logrelay/internal/events"
	"logrelay/internal/ingestion"
	"logrelay/internal/metrics"
	"logrelay/internal/models"

	"github.com/pterm/pterm"
	"golang.org/x/sync/errgroup"
)

// EventsConfig names the configuration whose destinations also receive
// the events of this node.
const EventsConfig = "events"

// Client is the controller as seen by a dispatcher.
type Client interface {
	ingestion.ConfigSource
	checkpoint.Client
	metrics.Sender
	events.Sender
}

// Options tune a Runtime.
type Options struct {
	Interval        time.Duration // between configuration refreshes and bootstrap retries
	ChunkSize       int64         // bytes read per cycle
	MetricsInterval time.Duration
	EventsInterval  time.Duration
	ShutdownTimeout time.Duration
	Destinations    destination.Options
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 5000 * 1000
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = metrics.DefaultSendInterval
	}
	if o.EventsInterval <= 0 {
		o.EventsInterval = events.DefaultSendInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// Runtime is a running dispatcher.
type Runtime struct {
	node    string
	client  Client
	table   *checkpoint.Table
	metrics *metrics.Collection
	events  *events.Log
	watcher *discovery.SourceWatcher
	coord   *ingestion.Coordinator
	opts    Options
	logger  *pterm.Logger
}

// New assembles a dispatcher for node. Nothing runs until Run is called.
func New(node string, client Client, opts Options, logger *pterm.Logger) (*Runtime, error) {
	opts.setDefaults()

	r := &Runtime{
		node:   node,
		client: client,
		opts:   opts,
		logger: logger,
	}
	r.table = checkpoint.NewTable(client, logger)
	r.metrics = metrics.NewCollection(node, client, logger)
	r.events = events.NewLog(node, client, logger)
	r.events.OnRecord(r.forwardEvent)

	watcher, err := discovery.NewSourceWatcher(
		func(config, path string) { r.coord.Notify(config, path) },
		func(path string) { r.coord.Delete(path) },
		logger,
	)
	if err != nil {
		return nil, err
	}
	r.watcher = watcher

	destOpts := opts.Destinations
	destOpts.Volume = r.metrics
	destOpts.Checkpoints = r.table
	destOpts.Events = r.events
	if destOpts.Logger == nil {
		destOpts.Logger = logger
	}
	r.coord = ingestion.NewCoordinator(client, watcher, r.table, r.metrics,
		ingestion.Options{ChunkSize: opts.ChunkSize, Destinations: destOpts}, logger)

	return r, nil
}

func (r *Runtime) Node() string                        { return r.node }
func (r *Runtime) Checkpoints() *checkpoint.Table      { return r.table }
func (r *Runtime) Metrics() *metrics.Collection        { return r.metrics }
func (r *Runtime) Events() *events.Log                 { return r.events }
func (r *Runtime) Coordinator() *ingestion.Coordinator { return r.coord }

// Run starts the dispatcher and blocks until ctx is cancelled or a
// component fails. Delivery stops and the checkpoints are flushed to the
// controller before it returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("Dispatcher started", r.logger.Args("node", r.node))
	r.events.Record(events.TypeInfo, "Dispatcher "+r.node+" started", "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(r.watcher.Run(gctx))
	})
	g.Go(func() error {
		if err := r.bootstrap(gctx); err != nil {
			return ignoreCanceled(err)
		}
		return ignoreCanceled(r.refreshLoop(gctx))
	})
	g.Go(func() error {
		r.metrics.Start(gctx, r.opts.MetricsInterval)
		return nil
	})
	g.Go(func() error {
		r.events.Start(gctx, r.opts.EventsInterval)
		return nil
	})

	err := g.Wait()
	r.shutdown()
	return err
}

// bootstrap loads the checkpoints, retrying until the controller answers.
// No file is read before it succeeds.
func (r *Runtime) bootstrap(ctx context.Context) error {
	for !r.table.Initialized() {
		err := r.table.Fetch(ctx)
		if err == nil {
			break
		}
		r.logger.Warn("Could not load checkpoints, retrying",
			r.logger.Args("error", err, "retry_in", r.opts.Interval.String()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.opts.Interval):
		}
	}
	return nil
}

func (r *Runtime) refreshLoop(ctx context.Context) error {
	r.refresh(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Runtime) refresh(ctx context.Context) {
	if err := r.coord.Refresh(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("Configuration refresh failed", r.logger.Args("error", err))
	}
}

// forwardEvent offers an event as a record to the destinations of the
// events configuration. Events raised by that configuration are not
// forwarded.
func (r *Runtime) forwardEvent(ev models.Event) {
	if ev.Config == EventsConfig || r.coord == nil {
		return
	}
	config := r.coord.Configuration(EventsConfig)
	if config == nil {
		return
	}

	rec := models.Record{
		"ts":   ev.TS,
		"type": ev.Type,
		"node": ev.Node,
		"msg":  ev.Msg,
	}
	for _, d := range config.Destinations() {
		d.Offer([]models.Record{rec}, nil, 0)
	}
}

func (r *Runtime) shutdown() {
	r.logger.Info("Stopping dispatcher", r.logger.Args("node", r.node))

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()

	r.coord.Stop()
	_ = r.watcher.Close()

	if !r.table.Initialized() {
		// never loaded, so there is nothing newer than the controller's copy
		r.table.Stop()
	} else if err := r.table.Flush(ctx); err != nil {
		r.logger.WithCaller().Error("Failed to flush checkpoints", r.logger.Args("error", err))
	}

	r.logger.Info("Dispatcher stopped", r.logger.Args("node", r.node))
	r.events.Record(events.TypeInfo, "Dispatcher "+r.node+" stopped", "")
	if err := r.metrics.Send(ctx); err != nil {
		r.logger.Warn("Final metrics report failed", r.logger.Args("error", err))
	}
	if err := r.events.Send(ctx); err != nil {
		r.logger.Warn("Final events report failed", r.logger.Args("error", err))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
