// Package catalog describes the event kinds Herald delivers and validates
// event data against the JSON Schema registered for each kind.
package catalog

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/xraph/herald/event"
)

//go:embed kinds.yaml
var kindsYAML []byte

// Definition documents one event kind.
type Definition struct {
	Kind        event.Kind     `yaml:"-" json:"name"`
	Name        string         `yaml:"name" json:"-"`
	Description string         `yaml:"description" json:"description"`
	Schema      map[string]any `yaml:"schema" json:"schema,omitempty"`
}

// Catalog is the immutable set of kind definitions with compiled schemas.
type Catalog struct {
	defs      map[event.Kind]*Definition
	validator *Validator
}

// Load returns the built-in catalog.
func Load() (*Catalog, error) {
	return Parse(kindsYAML)
}

// Parse builds a catalog from a YAML document. Every kind must be defined
// exactly once.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Kinds []*Definition `yaml:"kinds"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	c := &Catalog{defs: make(map[event.Kind]*Definition, len(doc.Kinds))}
	schemas := make(map[event.Kind]map[string]any, len(doc.Kinds))

	for _, d := range doc.Kinds {
		k, err := event.ParseKind(d.Name)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if _, dup := c.defs[k]; dup {
			return nil, fmt.Errorf("catalog: kind %q defined twice", d.Name)
		}
		d.Kind = k
		c.defs[k] = d
		if d.Schema != nil {
			schemas[k] = d.Schema
		}
	}

	for _, k := range event.AllKinds() {
		if _, ok := c.defs[k]; !ok {
			return nil, fmt.Errorf("catalog: kind %q is not defined", k)
		}
	}

	v, err := NewValidator(schemas)
	if err != nil {
		return nil, err
	}
	c.validator = v

	return c, nil
}

// Definition returns the definition of k.
func (c *Catalog) Definition(k event.Kind) (*Definition, bool) {
	d, ok := c.defs[k]
	return d, ok
}

// Definitions returns all definitions in kind order.
func (c *Catalog) Definitions() []*Definition {
	out := make([]*Definition, 0, len(c.defs))
	for _, k := range event.AllKinds() {
		out = append(out, c.defs[k])
	}
	return out
}

// Validate checks data against the schema of k.
func (c *Catalog) Validate(k event.Kind, data any) error {
	if !k.Valid() {
		return fmt.Errorf("%w: %d", event.ErrUnknownKind, uint8(k))
	}
	return c.validator.Validate(k, data)
}
