package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"termbatch/internal/source"
)

// correlationPrefix is the fixed prefix for generated correlation ids.
// "request-row" plus a decimal index stays well under the 64-char cap.
const correlationPrefix = "request-row"

// CorrelationIndex maps a correlation id back to the originating row id.
type CorrelationIndex map[string]string

// Message is one chat message in a request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestBody holds the model invocation parameters for one row.
type RequestBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// RequestUnit is one newline-delimited record of the upload payload.
type RequestUnit struct {
	CorrelationID string      `json:"correlationId"`
	Method        string      `json:"method"`
	Endpoint      string      `json:"endpoint"`
	Body          RequestBody `json:"body"`
}

// BuilderConfig fixes the invocation parameters shared by every row.
type BuilderConfig struct {
	Model       string
	Endpoint    string
	Temperature float32
	MaxTokens   int
}

// Builder converts source rows into a newline-delimited batch payload.
type Builder struct {
	cfg    BuilderConfig
	prompt *PromptRenderer
	log    *slog.Logger
}

// NewBuilder wires a Builder. A nil renderer gets the default template.
func NewBuilder(cfg BuilderConfig, prompt *PromptRenderer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if prompt == nil {
		prompt = NewPromptRenderer("")
	}
	return &Builder{cfg: cfg, prompt: prompt, log: logger}
}

// Build produces the JSONL payload and the correlation index for the given
// rows. Rows with empty or whitespace-only text are skipped and receive no
// correlation id. Correlation ids are derived from the row's position in the
// input, so uniqueness holds by construction. Returns ErrEmptyBatch when no
// row survives.
func (b *Builder) Build(rows []source.Row) ([]byte, CorrelationIndex, error) {
	var buf bytes.Buffer
	index := make(CorrelationIndex, len(rows))
	skipped := 0

	for i, row := range rows {
		if strings.TrimSpace(row.Text) == "" {
			skipped++
			continue
		}

		userPrompt, err := b.prompt.Render(row.Text)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}

		correlationID := correlationPrefix + strconv.Itoa(i)
		unit := RequestUnit{
			CorrelationID: correlationID,
			Method:        "POST",
			Endpoint:      b.cfg.Endpoint,
			Body: RequestBody{
				Model: b.cfg.Model,
				Messages: []Message{
					{Role: "system", Content: SystemInstruction},
					{Role: "user", Content: userPrompt},
				},
				Temperature: b.cfg.Temperature,
				MaxTokens:   b.cfg.MaxTokens,
			},
		}

		line, err := json.Marshal(unit)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal row %d: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		index[correlationID] = row.ID
	}

	if len(index) == 0 {
		return nil, nil, ErrEmptyBatch
	}

	b.log.Info("batch.build.ok", "rows", len(rows), "retained", len(index), "skipped", skipped)
	return buf.Bytes(), index, nil
}

// RowRef resolves a correlation id outside of an index: "request-row<N>"
// yields the row index N, any other form is passed through opaquely.
func RowRef(correlationID string) string {
	if rest, ok := strings.CutPrefix(correlationID, correlationPrefix); ok {
		if _, err := strconv.Atoi(rest); err == nil {
			return rest
		}
	}
	return correlationID
}
