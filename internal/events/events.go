// Package events keeps the notable occurrences of a node for three days
// and reports them to the controller.
package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"logrelay/internal/models"

	"github.com/pterm/pterm"
)

// Event types
const (
	TypeInfo  = "info"
	TypeWarn  = "warn"
	TypeError = "error"
)

const (
	Retention           = 72 * time.Hour
	DefaultSendInterval = time.Minute
	// TimestampLayout matches the record timestamps.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// Sender posts events to the controller.
type Sender interface {
	SendEvents(ctx context.Context, events []models.Event) error
}

// Log is an ordered list of events.
type Log struct {
	mu       sync.Mutex
	node     string
	items    []models.Event
	dropped  int // events trimmed so far
	sender   Sender
	onRecord func(models.Event)
	logger   *pterm.Logger
	now      func() time.Time
}

// NewLog creates a log for node. sender may be nil on the controller.
func NewLog(node string, sender Sender, logger *pterm.Logger) *Log {
	return &Log{
		node:   node,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// OnRecord registers fn to receive every event recorded on this node.
func (l *Log) OnRecord(fn func(models.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRecord = fn
}

// Record adds an event of this node. Callers log the occurrence themselves.
func (l *Log) Record(typ, msg, config string) {
	typ = strings.ToLower(typ)
	l.mu.Lock()
	ev := models.Event{
		TS:     l.now().UTC().Format(TimestampLayout),
		Type:   typ,
		Node:   l.node,
		Msg:    msg,
		Config: config,
	}
	l.items = append(l.items, ev)
	hook := l.onRecord
	l.mu.Unlock()

	l.logger.Debug("Event recorded", l.logger.Args("type", typ, "config", config, "msg", msg))

	if hook != nil {
		hook(ev)
	}
}

// Append adds events reported by a node, keeping the log ordered by time.
func (l *Log) Append(events ...models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, events...)
	sort.SliceStable(l.items, func(i, j int) bool { return l.items[i].TS < l.items[j].TS })
}

// Uncommitted returns the events from the first one not yet reported.
func (l *Log) Uncommitted() []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.uncommittedLocked()
}

func (l *Log) uncommittedLocked() []models.Event {
	for i, ev := range l.items {
		if !ev.Committed {
			return append([]models.Event(nil), l.items[i:]...)
		}
	}
	return nil
}

// Trim drops events older than the retention window.
func (l *Log) Trim() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trimLocked()
}

func (l *Log) trimLocked() {
	min := l.now().UTC().Add(-Retention).Format(TimestampLayout)
	start := len(l.items)
	for i, ev := range l.items {
		if ev.TS > min {
			start = i
			break
		}
	}
	if start > 0 {
		l.items = append([]models.Event(nil), l.items[start:]...)
		l.dropped += start
	}
}

// ForNode returns the events reported by node.
func (l *Log) ForNode(node string) []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Event, 0)
	for _, ev := range l.items {
		if ev.Node == node {
			out = append(out, ev)
		}
	}
	return out
}

// Nodes returns the distinct nodes with events, in order of appearance.
func (l *Log) Nodes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, ev := range l.items {
		if !seen[ev.Node] {
			seen[ev.Node] = true
			out = append(out, ev.Node)
		}
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Send reports the uncommitted events. Sent events are marked committed
// and the log trimmed. A failure is not retried; the next interval sends
// the same events again.
func (l *Log) Send(ctx context.Context) error {
	if l.sender == nil {
		return nil
	}

	l.mu.Lock()
	pending := l.uncommittedLocked()
	end, dropped := len(l.items), l.dropped
	l.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	l.logger.Debug("Posting events", l.logger.Args("count", len(pending)))
	if err := l.sender.SendEvents(ctx, pending); err != nil {
		return fmt.Errorf("post events: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// events recorded during the post stay uncommitted
	end -= l.dropped - dropped
	for i := 0; i < end && i < len(l.items); i++ {
		l.items[i].Committed = true
	}
	l.trimLocked()
	return nil
}

// Start sends events on every interval until ctx is done.
func (l *Log) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Send(ctx); err != nil {
				l.logger.WithCaller().Error("Events could not be posted", l.logger.Args("error", err))
			}
		}
	}
}
