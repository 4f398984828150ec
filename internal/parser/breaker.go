package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Breaker names accepted in a configuration (case-insensitive)
const (
	BreakerEveryLine  = "every-line"
	BreakerLine       = "line"
	BreakerBlankLine  = "blank-line"
	BreakerExpression = "expression"
)

// Breaker splits a raw chunk into candidate entries. Extra is the number of
// trailing bytes that did not complete an entry.
type Breaker interface {
	Break(chunk string) (entries []string, extra int)
}

// NewBreaker returns the breaker for the given name. Unknown names fall back
// to every-line.
func NewBreaker(name, expression string) (Breaker, error) {
	switch strings.ToLower(name) {
	case BreakerBlankLine:
		return blankLineBreaker{}, nil
	case BreakerExpression:
		if expression == "" {
			return nil, fmt.Errorf("breaker %q requires an expression", BreakerExpression)
		}
		re, err := regexp.Compile("(?m)" + expression)
		if err != nil {
			return nil, fmt.Errorf("invalid breaker expression: %w", err)
		}
		return expressionBreaker{start: re}, nil
	default:
		return everyLineBreaker{}, nil
	}
}

type everyLineBreaker struct{}

// Break treats every complete line as an entry; the last segment is always
// considered partial, even when it is empty.
func (everyLineBreaker) Break(chunk string) ([]string, int) {
	lines := strings.Split(chunk, "\n")
	last := lines[len(lines)-1]
	lines = lines[:len(lines)-1]
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines, len(last)
}

type blankLineBreaker struct{}

// Break assumes the chunk starts at an entry boundary. Runs of blank lines
// are collapsed.
func (blankLineBreaker) Break(chunk string) ([]string, int) {
	var entries []string
	var entry strings.Builder
	pending := 0

	for _, raw := range strings.SplitAfter(chunk, "\n") {
		line := strings.TrimRight(raw, "\r\n")
		if line != "" {
			if entry.Len() > 0 {
				entry.WriteByte('\n')
			}
			entry.WriteString(line)
			pending += len(raw)
			continue
		}
		if entry.Len() > 0 {
			entries = append(entries, entry.String())
			entry.Reset()
		}
		pending = 0
	}
	return entries, pending
}

type expressionBreaker struct {
	start *regexp.Regexp
}

// Break starts a new entry on every line matching the start expression.
// Non-matching lines are appended to the current entry and a blank line
// closes it.
func (b expressionBreaker) Break(chunk string) ([]string, int) {
	var entries []string
	var entry strings.Builder
	pending := 0

	for _, raw := range strings.SplitAfter(chunk, "\n") {
		line := strings.TrimRight(raw, "\r\n")
		switch {
		case line != "" && b.start.MatchString(line):
			if entry.Len() > 0 {
				entries = append(entries, entry.String())
				entry.Reset()
			}
			entry.WriteString(line)
			pending = len(raw)
		case line != "":
			if entry.Len() > 0 {
				entry.WriteByte('\n')
			}
			entry.WriteString(line)
			pending += len(raw)
		default:
			if entry.Len() > 0 {
				entries = append(entries, entry.String())
				entry.Reset()
			}
			pending = 0
		}
	}
	return entries, pending
}
