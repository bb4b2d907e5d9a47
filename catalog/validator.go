package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/xraph/herald/event"
)

// Validator holds one compiled JSON Schema per kind. Kinds without a
// schema accept any data.
type Validator struct {
	schemas map[event.Kind]*jsonschema.Schema
}

// NewValidator compiles the given schemas.
func NewValidator(schemas map[event.Kind]map[string]any) (*Validator, error) {
	c := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[event.Kind]*jsonschema.Schema, len(schemas))}

	for k, s := range schemas {
		doc, err := toJSONValue(s)
		if err != nil {
			return nil, fmt.Errorf("catalog: schema for %s: %w", k, err)
		}

		url := "herald://kinds/" + k.String() + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("catalog: add schema for %s: %w", k, err)
		}

		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("catalog: compile schema for %s: %w", k, err)
		}
		v.schemas[k] = compiled
	}

	return v, nil
}

// Validate checks data against the schema of k.
func (v *Validator) Validate(k event.Kind, data any) error {
	s, ok := v.schemas[k]
	if !ok {
		return nil
	}

	doc, err := toJSONValue(data)
	if err != nil {
		return fmt.Errorf("catalog: encode %s data: %w", k, err)
	}

	return s.Validate(doc)
}

// toJSONValue round-trips v through JSON so structs, typed maps and raw
// JSON all reach the validator as plain JSON values.
func toJSONValue(v any) (any, error) {
	var raw []byte
	switch p := v.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
