package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/worksuite/exportd/constants"
)

// buildSubmitJSONSchema returns the JSON-Schema for the submit request
// body as a generic map. Validated before decoding so unknown fields and
// bad enum values are rejected with a specific code instead of being
// silently coerced.
func buildSubmitJSONSchema() map[string]any {
	ranges := make([]string, 0, len(constants.DateRanges))
	for _, r := range constants.DateRanges {
		ranges = append(ranges, string(r))
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"date_range":    map[string]any{"type": "string", "enum": ranges},
			"include_files": map[string]any{"type": "boolean"},
			"include_pii":   map[string]any{"type": "boolean"},
		},
		"required": []string{"date_range"},
	}
}

// compileSubmitSchema compiles the submit schema once at server startup.
func compileSubmitSchema() (*jsonschema.Schema, error) {
	b, err := json.Marshal(buildSubmitJSONSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("submit.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("submit.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateSubmitBody validates raw request bytes against the compiled schema.
func validateSubmitBody(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal body: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("body does not match schema: %w", err)
	}
	return nil
}
