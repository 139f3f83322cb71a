package repair

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildTermsJSONSchema returns the JSON-Schema the repaired object is
// expected to satisfy: an object holding a "terms" array whose entries are
// either bare strings or term objects.
func BuildTermsJSONSchema() map[string]any {
	entry := map[string]any{
		"oneOf": []any{
			map[string]any{"type": "string"},
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"term":    map[string]any{"type": "string", "minLength": 1},
					"type":    map[string]any{"type": "string"},
					"context": map[string]any{"type": "string"},
				},
			},
		},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"terms": map[string]any{"type": "array", "items": entry},
		},
		"required": []string{"terms"},
	}
}

// ValidateAgainstSchema validates "data" against "schemaMap".
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
