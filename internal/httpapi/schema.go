package httpapi

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed run_action_schema.json
var runActionSchemaJSON string

// runActionSchema is compiled once at startup; the schema is embedded so a
// broken build fails immediately rather than on the first request.
var runActionSchema = mustCompileSchema("run_action_schema.json", runActionSchemaJSON)

func mustCompileSchema(name, text string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		panic("httpapi: invalid embedded schema " + name + ": " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic("httpapi: add schema " + name + ": " + err.Error())
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic("httpapi: compile schema " + name + ": " + err.Error())
	}
	return schema
}

// validateRunAction checks a decoded run_action body against the embedded
// schema. The coordinator re-validates semantics; this catches shape errors
// with a precise message at the edge.
func validateRunAction(body map[string]any) error {
	return runActionSchema.Validate(normalizeNumbers(body))
}

// normalizeNumbers converts json.Number values (from UseNumber decoding)
// into the float64/int shapes the validator expects.
func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = normalizeNumbers(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, vv := range x {
			s[i] = normalizeNumbers(vv)
		}
		return s
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return v
		}
		return f
	default:
		return v
	}
}
