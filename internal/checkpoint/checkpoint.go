package checkpoint

import (
	"sync"

	"logrelay/internal/models"
)

// Checkpoint tracks how far a file has been read (buffered) and durably
// delivered (committed) for one destination. Committed never exceeds
// Buffered.
//
// Each reset bumps the epoch. Commits carry the epoch they were issued
// under so that a delivery confirmed after a rotation cannot move the new
// file's cursor.
type Checkpoint struct {
	mu          sync.Mutex
	path        string
	destination string
	ino         uint64
	hasIno      bool
	buffered    int64
	committed   int64
	epoch       uint64
}

// New creates a checkpoint at the start of the file.
func New(path, destination string) *Checkpoint {
	return &Checkpoint{path: path, destination: destination}
}

// FromDoc restores a persisted checkpoint. Buffered starts at the committed
// offset so undelivered data is read again.
func FromDoc(doc models.Checkpoint) *Checkpoint {
	cp := &Checkpoint{
		path:        doc.Path,
		destination: doc.Destination,
		ino:         doc.Ino,
		hasIno:      doc.Ino != 0,
		committed:   max(doc.Committed, 0),
	}
	cp.buffered = cp.committed
	if doc.Buffered > cp.buffered {
		cp.buffered = doc.Buffered
	}
	return cp
}

func (c *Checkpoint) Path() string        { return c.path }
func (c *Checkpoint) Destination() string { return c.destination }

func (c *Checkpoint) Buffered() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *Checkpoint) Committed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// SetBuffered moves the read cursor and returns the current epoch.
func (c *Checkpoint) SetBuffered(pointer int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = pointer
	if c.committed > c.buffered {
		c.committed = c.buffered
	}
	return c.epoch
}

// Epoch returns the number of resets seen so far.
func (c *Checkpoint) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Commit marks pointer as delivered. It is ignored when the checkpoint was
// reset after epoch was taken, and is capped at the buffered offset.
func (c *Checkpoint) Commit(pointer int64, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return false
	}
	c.committed = min(pointer, c.buffered)
	return true
}

// Validate compares the checkpoint with the file's current identity and
// size. A different inode or a buffered offset past the end means the file
// was replaced or truncated; the checkpoint then restarts at zero. Validate
// reports whether a reset happened.
func (c *Checkpoint) Validate(ino uint64, size int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasIno {
		c.ino, c.hasIno = ino, true
		if c.buffered <= size {
			return false
		}
	} else if c.ino == ino && c.buffered <= size {
		return false
	}

	c.ino = ino
	c.buffered = 0
	c.committed = 0
	c.epoch++
	return true
}

// Doc returns the persisted form.
func (c *Checkpoint) Doc() models.Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Checkpoint{
		Destination: c.destination,
		Path:        c.path,
		Ino:         c.ino,
		Committed:   c.committed,
	}
}
