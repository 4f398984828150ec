package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"logrelay/internal/destination"
	"logrelay/internal/metrics"
	"logrelay/internal/models"
	"logrelay/internal/parser"

	"github.com/pterm/pterm"
)

// Hash returns the content hash used to detect a changed definition.
func Hash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Configuration is the runtime form of a log source definition. It owns
// its destinations.
type Configuration struct {
	Name    string
	Hash    string
	Doc     models.Configuration
	Sources []string

	extractor    *parser.Extractor
	extractorErr error
	destinations []*destination.Destination
	hashes       []string
	templates    []metrics.Template
	events       destination.EventRecorder
	logger       *pterm.Logger
}

// NewConfiguration builds a configuration. Destinations whose definition
// is unchanged from prior are reused along with their buffers; the rest
// are created.
//
// A missing or invalid fields expression does not fail construction; it
// is reported each time a chunk is converted.
func NewConfiguration(doc models.Configuration, prior *Configuration, opts destination.Options, logger *pterm.Logger) (*Configuration, error) {
	c := &Configuration{
		Name:    doc.Name,
		Hash:    Hash(doc),
		Doc:     doc,
		Sources: doc.Sources,
		events:  opts.Events,
		logger:  logger,
	}

	c.extractor, c.extractorErr = parser.New(parser.Options{
		Config:     doc.Name,
		Breaker:    doc.Breaker,
		Expression: doc.Expression,
		Ignore:     doc.Ignore,
		Fields:     doc.Fields,
		Events:     opts.Events,
	}, logger)

	templates, err := metrics.CompileTemplates(doc.Metrics)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", doc.Name, err)
	}
	c.templates = templates
	opts.Config = doc.Name

	for _, destDoc := range doc.Destinations {
		h := Hash(destDoc)
		if existing := prior.find(h); existing != nil {
			c.destinations = append(c.destinations, existing)
			c.hashes = append(c.hashes, h)
			logger.Debug("Destination reused", logger.Args("config", doc.Name, "destination", destDoc.Name))
			continue
		}

		dest, err := destination.New(destDoc, opts)
		if err != nil {
			c.disposeDestinations(prior)
			return nil, fmt.Errorf("config %q destination %q: %w", doc.Name, destDoc.Name, err)
		}
		c.destinations = append(c.destinations, dest)
		c.hashes = append(c.hashes, h)
		logger.Debug("Destination created", logger.Args("config", doc.Name, "destination", destDoc.Name))
	}

	return c, nil
}

func (c *Configuration) find(hash string) *destination.Destination {
	if c == nil {
		return nil
	}
	for i, h := range c.hashes {
		if h == hash {
			return c.destinations[i]
		}
	}
	return nil
}

func (c *Configuration) owns(d *destination.Destination) bool {
	if c == nil {
		return false
	}
	for _, mine := range c.destinations {
		if mine == d {
			return true
		}
	}
	return false
}

// Destinations returns the destinations in definition order.
func (c *Configuration) Destinations() []*destination.Destination {
	return c.destinations
}

// Destination finds a destination by name.
func (c *Configuration) Destination(name string) *destination.Destination {
	for _, d := range c.destinations {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Templates returns the compiled custom metrics.
func (c *Configuration) Templates() []metrics.Template {
	return c.templates
}

// BufferToRows converts a chunk read from file into records.
func (c *Configuration) BufferToRows(chunk, file string) (parser.Result, error) {
	if c.extractorErr != nil {
		return parser.Result{}, c.extractorErr
	}
	return c.extractor.BufferToRows(chunk, file), nil
}

func (c *Configuration) recordEvent(typ, msg string) {
	if c.events != nil {
		c.events.Record(typ, msg, c.Name)
	}
}

// Dispose releases the destinations that successor did not take over and
// returns their names. successor may be nil.
func (c *Configuration) Dispose(successor *Configuration) []string {
	var dropped []string
	for _, d := range c.destinations {
		if !successor.owns(d) {
			dropped = append(dropped, d.Name())
		}
	}
	c.disposeDestinations(successor)
	c.logger.Trace("Configuration disposed", c.logger.Args("config", c.Name, "dropped", dropped))
	return dropped
}

func (c *Configuration) disposeDestinations(keep *Configuration) {
	for _, d := range c.destinations {
		if keep.owns(d) {
			continue
		}
		d.Dispose()
	}
}
