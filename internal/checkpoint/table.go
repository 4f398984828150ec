package checkpoint

import (
	"context"
	"strings"
	"sync"
	"time"

	"logrelay/internal/models"

	"github.com/pterm/pterm"
)

// DefaultDebounce delays a send so that destinations finishing close
// together produce a single message.
const DefaultDebounce = time.Second

// Client moves checkpoint documents to and from the controller.
type Client interface {
	FetchCheckpoints(ctx context.Context) ([]models.Checkpoint, error)
	SendCheckpoints(ctx context.Context, docs []models.Checkpoint) error
}

type key struct {
	path        string
	destination string
}

func keyOf(path, destination string) key {
	return key{path: strings.ToLower(path), destination: destination}
}

// Table owns every checkpoint of a dispatcher.
type Table struct {
	mu          sync.Mutex
	items       []*Checkpoint
	index       map[key]int
	client      Client
	logger      *pterm.Logger
	debounce    time.Duration
	timeout     time.Duration
	pending     *time.Timer
	initialized bool
	stopped     bool
}

// NewTable creates an empty table. client may be nil, in which case Fetch
// and Send are no-ops.
func NewTable(client Client, logger *pterm.Logger) *Table {
	return &Table{
		index:    make(map[key]int),
		client:   client,
		logger:   logger,
		debounce: DefaultDebounce,
		timeout:  30 * time.Second,
	}
}

// SetDebounce overrides the send delay.
func (t *Table) SetDebounce(d time.Duration) {
	t.mu.Lock()
	t.debounce = d
	t.mu.Unlock()
}

// Len returns the number of checkpoints.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Find returns the checkpoint for a path and destination, if any. Paths
// compare case-insensitively.
func (t *Table) Find(path, destination string) (*Checkpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[keyOf(path, destination)]
	if !ok {
		return nil, false
	}
	return t.items[i], true
}

// ByPathAndDestination returns one checkpoint per destination, creating
// the missing ones.
func (t *Table) ByPathAndDestination(path string, destinations []string) []*Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := make([]*Checkpoint, 0, len(destinations))
	for _, dest := range destinations {
		k := keyOf(path, dest)
		if i, ok := t.index[k]; ok {
			list = append(list, t.items[i])
			continue
		}
		cp := New(path, dest)
		t.index[k] = len(t.items)
		t.items = append(t.items, cp)
		list = append(list, cp)
		t.logger.Trace("Checkpoint created", t.logger.Args("path", path, "destination", dest))
	}
	return list
}

// Load adds persisted checkpoints, replacing any with the same identity.
func (t *Table) Load(docs []models.Checkpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, doc := range docs {
		cp := FromDoc(doc)
		k := keyOf(cp.path, cp.destination)
		if i, ok := t.index[k]; ok {
			t.items[i] = cp
			continue
		}
		t.index[k] = len(t.items)
		t.items = append(t.items, cp)
	}
}

// Remove drops every checkpoint for which match returns true and returns
// the number removed.
func (t *Table) Remove(match func(*Checkpoint) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.items[:0]
	removed := 0
	for _, cp := range t.items {
		if match(cp) {
			removed++
			continue
		}
		kept = append(kept, cp)
	}
	for i := len(kept); i < len(t.items); i++ {
		t.items[i] = nil
	}
	t.items = kept
	if removed > 0 {
		t.reindex()
	}
	return removed
}

func (t *Table) reindex() {
	t.index = make(map[key]int, len(t.items))
	for i, cp := range t.items {
		t.index[keyOf(cp.path, cp.destination)] = i
	}
}

// Docs returns the persisted form of every checkpoint.
func (t *Table) Docs() []models.Checkpoint {
	t.mu.Lock()
	items := append([]*Checkpoint(nil), t.items...)
	t.mu.Unlock()

	docs := make([]models.Checkpoint, 0, len(items))
	for _, cp := range items {
		docs = append(docs, cp.Doc())
	}
	return docs
}

// Initialized reports whether checkpoints were fetched successfully.
func (t *Table) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// Fetch loads the checkpoints stored by the controller.
func (t *Table) Fetch(ctx context.Context) error {
	if t.client == nil {
		t.logger.Debug("No controller configured, starting without checkpoints")
		t.mu.Lock()
		t.initialized = true
		t.mu.Unlock()
		return nil
	}

	docs, err := t.client.FetchCheckpoints(ctx)
	if err != nil {
		return err
	}
	t.Load(docs)

	t.mu.Lock()
	t.initialized = true
	t.mu.Unlock()

	t.logger.Info("Checkpoints loaded", t.logger.Args("count", len(docs)))
	return nil
}

// Busy reports whether a send is scheduled or running.
func (t *Table) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Send schedules a debounced send. Calls made while a send is pending are
// absorbed by it. A failed send is not retried; the next commit schedules
// another one.
func (t *Table) Send() {
	if t.client == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.pending != nil {
		return
	}
	t.pending = time.AfterFunc(t.debounce, t.sendPending)
}

func (t *Table) sendPending() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	err := t.post(ctx)

	t.mu.Lock()
	t.pending = nil
	t.mu.Unlock()

	if err != nil {
		t.logger.WithCaller().Error("Checkpoints could not be posted", t.logger.Args("error", err))
	}
}

func (t *Table) post(ctx context.Context) error {
	docs := t.Docs()
	t.logger.Debug("Posting checkpoints", t.logger.Args("count", len(docs)))
	return t.client.SendCheckpoints(ctx, docs)
}

// Stop cancels a pending send without performing it. Further sends are
// ignored.
func (t *Table) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Flush cancels a pending send and posts the current state immediately.
func (t *Table) Flush(ctx context.Context) error {
	t.Stop()
	if t.client == nil {
		return nil
	}
	return t.post(ctx)
}
