package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"prompt-versioning/pkg/registry"

	"github.com/xeipuuv/gojsonschema"
)

// Validator checks submitted content against the JSON schema registered
// for a template category. Schemas are compiled once at construction.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
	keys    map[string]map[string]string
}

// NewValidator compiles every schema in the registry. A registry entry
// with an invalid schema fails construction rather than failing every
// later validation.
func NewValidator(reg *registry.SchemaRegistry) (*Validator, error) {
	v := &Validator{
		schemas: make(map[string]*gojsonschema.Schema, len(reg.Categories)),
		keys:    make(map[string]map[string]string, len(reg.Categories)),
	}
	for _, cat := range reg.Categories {
		raw, err := json.Marshal(cat.ContentSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for category %q: %w", cat.Category, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema for category %q: %w", cat.Category, err)
		}
		v.schemas[cat.Category] = schema
		if len(cat.SequenceKeys) > 0 {
			v.keys[cat.Category] = cat.SequenceKeys
		}
	}
	return v, nil
}

// Validate returns nil when the content satisfies the schema for the
// given category. Unknown categories and schema violations both report
// the failing reasons.
func (v *Validator) Validate(category string, c Value) error {
	schema, ok := v.schemas[category]
	if !ok {
		return fmt.Errorf("no content schema registered for category %q", category)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(ToInterface(c)))
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			reasons = append(reasons, re.String())
		}
		return fmt.Errorf("content schema violation: %s", strings.Join(reasons, "; "))
	}
	return nil
}

// SequenceKeys returns the natural-key mapping for a category's
// sequence fields, used by the diff engine to align sequence elements.
func (v *Validator) SequenceKeys(category string) map[string]string {
	return v.keys[category]
}
