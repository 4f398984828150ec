package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"logrelay/internal/models"

	"github.com/pterm/pterm"
)

// ErrNoFields is returned when a configuration has no fields expression.
var ErrNoFields = errors.New("a fields expression is required")

// TimestampLayout is the ISO-8601 form written to the timestamp field.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// EventRecorder receives parse failures as node events.
type EventRecorder interface {
	Record(typ, msg, config string)
}

// Options configure an Extractor.
type Options struct {
	Config     string // configuration name, used in log output
	Breaker    string
	Expression string
	Ignore     string
	Fields     string
	Events     EventRecorder // optional
}

// Result of converting a chunk into records.
type Result struct {
	Records []models.Record
	Extra   int
}

// Extractor turns raw chunks into records for a single configuration.
type Extractor struct {
	config  string
	breaker Breaker
	ignore  *regexp.Regexp
	fields  *regexp.Regexp
	names   []string
	events  EventRecorder
	logger  *pterm.Logger
	now     func() time.Time
}

// New compiles the expressions of a configuration.
func New(opts Options, logger *pterm.Logger) (*Extractor, error) {
	if opts.Fields == "" {
		return nil, fmt.Errorf("config %q: %w", opts.Config, ErrNoFields)
	}

	breaker, err := NewBreaker(opts.Breaker, opts.Expression)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", opts.Config, err)
	}

	fields, err := regexp.Compile("(?m)" + opts.Fields)
	if err != nil {
		return nil, fmt.Errorf("config %q: invalid fields expression: %w", opts.Config, err)
	}

	var ignore *regexp.Regexp
	if opts.Ignore != "" {
		if ignore, err = regexp.Compile("(?m)" + opts.Ignore); err != nil {
			return nil, fmt.Errorf("config %q: invalid ignore expression: %w", opts.Config, err)
		}
	}

	return &Extractor{
		config:  opts.Config,
		breaker: breaker,
		ignore:  ignore,
		fields:  fields,
		names:   fields.SubexpNames(),
		events:  opts.Events,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// SetClock replaces the wall clock used for timestamp defaults.
func (e *Extractor) SetClock(now func() time.Time) {
	e.now = now
}

// BufferToRows breaks the chunk and extracts a record from every entry.
// Entries that the fields expression cannot parse are logged and skipped.
func (e *Extractor) BufferToRows(chunk, file string) Result {
	entries, extra := e.breaker.Break(chunk)

	records := make([]models.Record, 0, len(entries))
	failures := 0
	for _, entry := range entries {
		if e.ignore != nil && e.ignore.MatchString(entry) {
			e.logger.Trace("Entry ignored", e.logger.Args("config", e.config, "entry", preview(entry)))
			continue
		}

		match := e.fields.FindStringSubmatch(entry)
		if match == nil {
			args := e.logger.Args("config", e.config, "file", file, "entry", preview(entry))
			if failures == 0 {
				e.logger.Error("Fields expression could not parse entry", args)
			} else {
				e.logger.Warn("Fields expression could not parse entry", args)
			}
			failures++
			continue
		}

		records = append(records, e.extract(match, entry, file))
	}

	if failures > 1 {
		e.logger.Error("Entries could not be parsed by the fields expression",
			e.logger.Args("config", e.config, "file", file, "count", failures))
	}
	if failures > 0 && e.events != nil {
		e.events.Record("error", fmt.Sprintf("%d entries of %s could not be parsed by the fields expression", failures, file), e.config)
	}

	return Result{Records: records, Extra: extra}
}

func (e *Extractor) extract(match []string, entry, file string) models.Record {
	rec := make(models.Record, len(e.names)+3)
	var ts timeParts

	for i, name := range e.names {
		if i == 0 || name == "" {
			continue
		}
		value := match[i]
		if value == "" {
			continue
		}
		if ts.set(name, value) {
			continue
		}

		base, indexed := splitIndexed(name)
		if !indexed {
			rec[name] = value
			continue
		}
		list, _ := rec[base].([]string)
		rec[base] = append(list, value)
	}

	rec[models.FieldTimestamp] = ts.assemble(e.now()).Format(TimestampLayout)
	rec[models.FieldRaw] = entry
	rec[models.FieldFile] = file
	return rec
}

// splitIndexed recognises a repeated capture group such as "tag_0".
func splitIndexed(name string) (string, bool) {
	idx := strings.LastIndexByte(name, '_')
	if idx <= 0 || idx == len(name)-1 {
		return name, false
	}
	if _, err := strconv.Atoi(name[idx+1:]); err != nil {
		return name, false
	}
	return name[:idx], true
}

func preview(entry string) string {
	if len(entry) > 150 {
		return entry[:150] + "..."
	}
	return entry
}
