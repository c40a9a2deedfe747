package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeStrict parses raw config bytes into a Config, rejecting unknown
// fields. The format follows the file extension: .yaml/.yml is coerced to
// JSON first so one strict decoder covers both formats.
func decodeStrict(path string, raw []byte) (*Config, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		coerced, err := yamlToJSON(raw)
		if err != nil {
			return nil, err
		}
		raw = coerced
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// A second document (concatenated JSON) is as wrong as an unknown field.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("config %s: trailing data after document", path)
		}
		return nil, err
	}
	return &cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("convert yaml to json: %w", err)
	}
	return j, nil
}

// stringKeys rewrites YAML's map[any]any keys to strings so the value
// can be marshaled as JSON.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[fmt.Sprint(k)] = stringKeys(vv)
		}
		return m
	case map[string]any:
		for k, vv := range x {
			x[k] = stringKeys(vv)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return v
	}
}
