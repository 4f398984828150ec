package predicate

import (
	"fmt"
	"regexp"

	"logrelay/internal/models"
)

// Operation is a compiled rule: the named field must match the expression.
type Operation struct {
	Field string
	Test  *regexp.Regexp
}

// Rules evaluates AND, OR and NOT-AND rule lists against a record.
// A nil *Rules accepts everything.
type Rules struct {
	And []Operation
	Or  []Operation
	Not []Operation
}

// Compile builds Rules from their wire form. Expressions are compiled in
// multi-line mode so ^ and $ anchor at line boundaries.
func Compile(doc models.Rules) (*Rules, error) {
	r := &Rules{}
	var err error
	if r.And, err = compileList("and", doc.And); err != nil {
		return nil, err
	}
	if r.Or, err = compileList("or", doc.Or); err != nil {
		return nil, err
	}
	if r.Not, err = compileList("not", doc.Not); err != nil {
		return nil, err
	}
	return r, nil
}

func compileList(kind string, ops []models.Operation) ([]Operation, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	out := make([]Operation, 0, len(ops))
	for i, op := range ops {
		field := op.Field
		if field == "" {
			field = models.FieldRaw
		}
		re, err := regexp.Compile("(?m)" + op.Test)
		if err != nil {
			return nil, fmt.Errorf("%s rule %d on field %q: %w", kind, i, field, err)
		}
		out = append(out, Operation{Field: field, Test: re})
	}
	return out, nil
}

// TestAnd passes when every rule's field is present and matches.
func (r *Rules) TestAnd(rec models.Record) bool {
	if r == nil || len(r.And) == 0 {
		return true
	}
	for _, op := range r.And {
		val, ok := rec.Get(op.Field)
		if !ok || !op.Test.MatchString(val) {
			return false
		}
	}
	return true
}

// TestOr passes when at least one rule's field is present and matches.
func (r *Rules) TestOr(rec models.Record) bool {
	if r == nil || len(r.Or) == 0 {
		return true
	}
	for _, op := range r.Or {
		if val, ok := rec.Get(op.Field); ok && op.Test.MatchString(val) {
			return true
		}
	}
	return false
}

// TestNot passes when none of the rules match. A rule whose field is absent
// rejects the record as well; existing configurations rely on this.
func (r *Rules) TestNot(rec models.Record) bool {
	if r == nil || len(r.Not) == 0 {
		return true
	}
	for _, op := range r.Not {
		val, ok := rec.Get(op.Field)
		if !ok {
			return false
		}
		if op.Test.MatchString(val) {
			return false
		}
	}
	return true
}

// Accept applies all three rule lists.
func (r *Rules) Accept(rec models.Record) bool {
	return r.TestAnd(rec) && r.TestOr(rec) && r.TestNot(rec)
}

// Filter returns the records accepted by the rules, preserving order.
func (r *Rules) Filter(records []models.Record) []models.Record {
	if r == nil || (len(r.And) == 0 && len(r.Or) == 0 && len(r.Not) == 0) {
		return records
	}
	out := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if r.Accept(rec) {
			out = append(out, rec)
		}
	}
	return out
}
