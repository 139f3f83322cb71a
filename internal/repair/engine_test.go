package repair

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func termsOf(t *testing.T, v any) []any {
	t.Helper()
	obj, ok := v.(map[string]any)
	require.True(t, ok, "expected an object, got %T", v)
	terms, ok := obj["terms"].([]any)
	require.True(t, ok, "expected a terms array")
	return terms
}

func TestEngine_ValidJSONPassesThrough(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`{"terms": [{"term": "火焰剑", "type": "物品", "context": "他举起了火焰剑。"}]}`)

	terms := termsOf(t, v)
	require.Len(t, terms, 1)
	entry := terms[0].(map[string]any)
	assert.Equal(t, "火焰剑", entry["term"])
	assert.Equal(t, "物品", entry["type"])
}

func TestEngine_EmptyInputYieldsEmptyObject(t *testing.T) {
	e := NewEngine(testLogger())

	for _, in := range []string{"", "   ", "\n\t"} {
		v := e.Repair(in)
		assert.Equal(t, map[string]any{}, v)
	}
}

func TestEngine_NoStructureYieldsEmptyObject(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair("no json here, sorry about that")

	assert.Equal(t, map[string]any{}, v)
}

func TestEngine_SurroundingProseIsTrimmed(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`Here is the extraction result: {"terms": ["治疗术"]} — hope that helps!`)

	terms := termsOf(t, v)
	assert.Equal(t, []any{"治疗术"}, terms)
}

func TestEngine_MarkdownFences(t *testing.T) {
	e := NewEngine(testLogger())

	in := "```json\n{\"terms\": [\"魔法盾\"]}\n```"
	v := e.Repair(in)

	terms := termsOf(t, v)
	assert.Equal(t, []any{"魔法盾"}, terms)
}

func TestEngine_TrailingComma(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`{"terms": ["治疗术",]}`)

	terms := termsOf(t, v)
	assert.Equal(t, []any{"治疗术"}, terms)
}

func TestEngine_SingleQuotedPythonStyle(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`{'terms': [{'term': '魔法盾', 'type': '技能'}]}`)

	terms := termsOf(t, v)
	require.Len(t, terms, 1)
	entry := terms[0].(map[string]any)
	assert.Equal(t, "魔法盾", entry["term"])
	assert.Equal(t, "技能", entry["type"])
}

func TestEngine_SingleQuotedWithTrailingComma(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`{'terms': ['治疗术',]}`)

	terms := termsOf(t, v)
	assert.Equal(t, []any{"治疗术"}, terms)
}

func TestEngine_BareKeys(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`{terms: ["圣光之锤"]}`)

	terms := termsOf(t, v)
	assert.Equal(t, []any{"圣光之锤"}, terms)
}

func TestEngine_UnbalancedDelimiters(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`{"term": "暗影步", "type": "技能"`)

	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "暗影步", obj["term"])
	assert.Equal(t, "技能", obj["type"])
}

func TestEngine_TopLevelArray(t *testing.T) {
	e := NewEngine(testLogger())

	v := e.Repair(`["火焰剑", "治疗术"]`)

	arr, ok := v.([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"火焰剑", "治疗术"}, arr)
}

func TestEngine_SalvageRecoversFlatPairs(t *testing.T) {
	e := NewEngine(testLogger())

	// Broken beyond structural repair, but the pairs are intact.
	v := e.Repair(`{{"term": "烈焰风暴" ;; "type": "技能" garbage...`)

	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "烈焰风暴", obj["term"])
	assert.Equal(t, "技能", obj["type"])
}

func TestEngine_InputNeverMutated(t *testing.T) {
	e := NewEngine(testLogger())

	in := `{"terms": ["a",]}`
	_ = e.Repair(in)

	assert.Equal(t, `{"terms": ["a",]}`, in)
}

type fixedStrategy struct {
	name string
	v    any
	ok   bool
}

func (s *fixedStrategy) Name() string              { return s.name }
func (s *fixedStrategy) Repair(string) (any, bool) { return s.v, s.ok }

func TestEngine_ChainStopsAtFirstSuccess(t *testing.T) {
	first := &fixedStrategy{name: "first", v: map[string]any{"from": "first"}, ok: true}
	second := &fixedStrategy{name: "second", v: map[string]any{"from": "second"}, ok: true}
	e := NewEngine(testLogger(), WithStrategies(first, second))

	v := e.Repair("anything")

	assert.Equal(t, map[string]any{"from": "first"}, v)
}

type stubRepairer struct{}

func (stubRepairer) RepairJSON(in string) (string, error) {
	return `{"repaired": true}`, nil
}

func TestEngine_WithRepairerSwapsSyntaxStep(t *testing.T) {
	e := NewEngine(testLogger(), WithRepairer(stubRepairer{}))

	// Not parseable by direct/span/fence, so the syntax step runs.
	v := e.Repair(`{broken beyond: the builtin ,,,, repairer "x`)

	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, obj["repaired"])
}

func TestBuiltinRepairer_EscapedSingleQuote(t *testing.T) {
	out, err := BuiltinRepairer{}.RepairJSON(`{'term': 'it\'s fine'}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"term": "it's fine"}`, out)
}

func TestBuiltinRepairer_DoubleQuotedRegionUntouched(t *testing.T) {
	out, err := BuiltinRepairer{}.RepairJSON(`{"note": "don't touch", 'other': 'x'}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"note": "don't touch", "other": "x"}`, out)
}

func TestBuiltinRepairer_ClosesNestedDelimiters(t *testing.T) {
	out, err := BuiltinRepairer{}.RepairJSON(`{"terms": [{"term": "a"`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"terms": [{"term": "a"}]}`, out)
}
