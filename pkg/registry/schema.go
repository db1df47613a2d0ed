// pkg/registry/schema.go
package registry

// SchemaRegistry is the on-disk catalog of content schemas, one per
// template category. The version engine validates submitted content
// against the schema registered for the template's category.
type SchemaRegistry struct {
	Version     string           `json:"version"`
	LastUpdated string           `json:"lastUpdated"`
	Categories  []CategorySchema `json:"categories"`
}

// CategorySchema binds a template category to the JSON schema its
// content must satisfy.
type CategorySchema struct {
	Category      string                 `json:"category"`
	DisplayName   string                 `json:"displayName"`
	Description   string                 `json:"description"`
	ContentSchema map[string]interface{} `json:"contentSchema"`
	// SequenceKeys names, per sequence field, the element field that
	// identifies elements across edits (e.g. variables -> "name").
	SequenceKeys map[string]string `json:"sequenceKeys,omitempty"`
}

// Lookup returns the schema entry for a category, if registered.
func (r *SchemaRegistry) Lookup(category string) (CategorySchema, bool) {
	for _, c := range r.Categories {
		if c.Category == category {
			return c, true
		}
	}
	return CategorySchema{}, false
}
