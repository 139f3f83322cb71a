package batch

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termbatch/internal/source"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(BuilderConfig{
		Model:       "glm-4-flash",
		Endpoint:    "/v4/chat/completions",
		Temperature: 0.3,
		MaxTokens:   2000,
	}, nil, slog.Default())
}

func TestBuilder_BuildShapesJSONL(t *testing.T) {
	b := testBuilder(t)

	payload, index, err := b.Build([]source.Row{
		{ID: "doc_001", Text: "他举起了火焰剑。"},
		{ID: "doc_002", Text: "她施放了治疗术。"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 2)

	var unit RequestUnit
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &unit))
	assert.Equal(t, "request-row0", unit.CorrelationID)
	assert.Equal(t, "POST", unit.Method)
	assert.Equal(t, "/v4/chat/completions", unit.Endpoint)
	assert.Equal(t, "glm-4-flash", unit.Body.Model)
	assert.InDelta(t, 0.3, unit.Body.Temperature, 0.0001)
	assert.Equal(t, 2000, unit.Body.MaxTokens)

	require.Len(t, unit.Body.Messages, 2)
	assert.Equal(t, "system", unit.Body.Messages[0].Role)
	assert.Equal(t, SystemInstruction, unit.Body.Messages[0].Content)
	assert.Equal(t, "user", unit.Body.Messages[1].Role)
	assert.Contains(t, unit.Body.Messages[1].Content, "他举起了火焰剑。")

	assert.Equal(t, CorrelationIndex{
		"request-row0": "doc_001",
		"request-row1": "doc_002",
	}, index)
}

func TestBuilder_WireKeyNames(t *testing.T) {
	b := testBuilder(t)

	payload, _, err := b.Build([]source.Row{{ID: "r1", Text: "文本"}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload[:len(payload)-1], &raw))
	for _, key := range []string{"correlationId", "method", "endpoint", "body"} {
		assert.Contains(t, raw, key)
	}
	body := raw["body"].(map[string]any)
	for _, key := range []string{"model", "messages", "temperature", "max_tokens"} {
		assert.Contains(t, body, key)
	}
}

func TestBuilder_SkipsBlankRowsKeepsPositionalIDs(t *testing.T) {
	b := testBuilder(t)

	payload, index, err := b.Build([]source.Row{
		{ID: "keep0", Text: "第一句"},
		{ID: "skip1", Text: "   "},
		{ID: "keep2", Text: "第三句"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	assert.Len(t, lines, 2)

	// Skipped rows still consume their positional index.
	assert.Equal(t, CorrelationIndex{
		"request-row0": "keep0",
		"request-row2": "keep2",
	}, index)
}

func TestBuilder_AllRowsBlankIsAnError(t *testing.T) {
	b := testBuilder(t)

	_, _, err := b.Build([]source.Row{
		{ID: "a", Text: ""},
		{ID: "b", Text: "\t\n"},
	})

	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestBuilder_NoRowsIsAnError(t *testing.T) {
	b := testBuilder(t)

	_, _, err := b.Build(nil)

	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestRowRef(t *testing.T) {
	assert.Equal(t, "7", RowRef("request-row7"))
	assert.Equal(t, "custom-id", RowRef("custom-id"))
	assert.Equal(t, "request-rowX", RowRef("request-rowX"))
}

func TestPromptRenderer_InjectsDocument(t *testing.T) {
	p := NewPromptRenderer("")

	out, err := p.Render("勇者拔出了圣剑。")
	require.NoError(t, err)

	assert.Contains(t, out, "勇者拔出了圣剑。")
	// The JSON examples must survive templating intact.
	assert.Contains(t, out, `{"terms": []}`)
}

func TestPromptRenderer_CustomTemplateAndVars(t *testing.T) {
	p := NewPromptRenderer("prefix {{ extra }} :: {{ document }}").
		WithVar("extra", "注意")

	out, err := p.Render("正文")
	require.NoError(t, err)

	assert.Equal(t, "prefix 注意 :: 正文", out)
}
