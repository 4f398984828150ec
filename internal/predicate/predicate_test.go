package predicate

import (
	"testing"

	"logrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, doc models.Rules) *Rules {
	t.Helper()
	r, err := Compile(doc)
	require.NoError(t, err)
	return r
}

func TestCompile_DefaultsFieldToRaw(t *testing.T) {
	r := mustCompile(t, models.Rules{And: []models.Operation{{Test: "boom"}}})
	require.Len(t, r.And, 1)
	assert.Equal(t, models.FieldRaw, r.And[0].Field)
}

func TestCompile_InvalidExpression(t *testing.T) {
	_, err := Compile(models.Rules{Or: []models.Operation{{Field: "level", Test: "("}}})
	assert.Error(t, err)
}

func TestRules_Empty(t *testing.T) {
	var nilRules *Rules
	rec := models.Record{"level": "INFO"}
	assert.True(t, nilRules.Accept(rec))
	assert.True(t, mustCompile(t, models.Rules{}).Accept(rec))
}

func TestRules_TestAnd(t *testing.T) {
	r := mustCompile(t, models.Rules{And: []models.Operation{
		{Field: "level", Test: "^ERROR$"},
		{Field: "msg", Test: "disk"},
	}})

	assert.True(t, r.TestAnd(models.Record{"level": "ERROR", "msg": "disk full"}))
	assert.False(t, r.TestAnd(models.Record{"level": "ERROR", "msg": "cpu hot"}))
	assert.False(t, r.TestAnd(models.Record{"msg": "disk full"}), "absent field rejects")
	assert.False(t, r.TestAnd(models.Record{"level": "", "msg": "disk full"}), "empty field rejects")
}

func TestRules_TestOr(t *testing.T) {
	r := mustCompile(t, models.Rules{Or: []models.Operation{
		{Field: "level", Test: "ERROR"},
		{Field: "level", Test: "WARN"},
	}})

	assert.True(t, r.TestOr(models.Record{"level": "WARN"}))
	assert.False(t, r.TestOr(models.Record{"level": "INFO"}))
	assert.False(t, r.TestOr(models.Record{}))
}

func TestRules_TestNot_RejectsAbsentField(t *testing.T) {
	r := mustCompile(t, models.Rules{Not: []models.Operation{{Field: "level", Test: "DEBUG"}}})

	assert.True(t, r.TestNot(models.Record{"level": "INFO"}))
	assert.False(t, r.TestNot(models.Record{"level": "DEBUG"}))
	assert.False(t, r.TestNot(models.Record{"msg": "no level here"}))
}

func TestRules_MultiLineAnchors(t *testing.T) {
	r := mustCompile(t, models.Rules{And: []models.Operation{{Test: "^at "}}})
	rec := models.Record{models.FieldRaw: "Exception\nat Foo.bar()"}
	assert.True(t, r.Accept(rec))
}

func TestRules_Stateless(t *testing.T) {
	r := mustCompile(t, models.Rules{And: []models.Operation{{Field: "msg", Test: "x"}}})
	rec := models.Record{"msg": "xx"}
	for i := 0; i < 3; i++ {
		assert.True(t, r.Accept(rec), "iteration %d", i)
	}
}

func TestRules_ListValues(t *testing.T) {
	r := mustCompile(t, models.Rules{And: []models.Operation{{Field: "tag", Test: "b"}}})
	assert.True(t, r.Accept(models.Record{"tag": []string{"a", "b"}}))
}

func TestRules_Filter(t *testing.T) {
	r := mustCompile(t, models.Rules{
		And: []models.Operation{{Field: "level", Test: "."}},
		Not: []models.Operation{{Field: "level", Test: "DEBUG"}},
	})
	in := []models.Record{
		{"level": "INFO", "n": "1"},
		{"level": "DEBUG", "n": "2"},
		{"n": "3"},
		{"level": "ERROR", "n": "4"},
	}
	out := r.Filter(in)
	require.Len(t, out, 2)
	assert.Equal(t, "1", out[0]["n"])
	assert.Equal(t, "4", out[1]["n"])
}
