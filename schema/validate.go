package schema

import (
	"encoding/json"
	"fmt"
)

// Validator validates method params or results against a resolved schema.
// It is safe for concurrent use.
type Validator struct {
	resolved *Resolved
}

// Compile resolves s once so repeated Validate calls avoid re-resolving
// references on every call.
func Compile(s *Schema) (*Validator, error) {
	resolved, err := s.Resolve(&ResolveOptions{ValidateDefaults: true})
	if err != nil {
		return nil, fmt.Errorf("schema: resolve: %w", err)
	}
	return &Validator{resolved: resolved}, nil
}

// Validate reports whether data (a JSON object, typically a Method's params
// or a Reply's result) conforms to the compiled schema.
func (v *Validator) Validate(data json.RawMessage) error {
	var value map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &value); err != nil {
			return fmt.Errorf("schema: invalid JSON: %w", err)
		}
	}
	if err := v.resolved.Validate(&value); err != nil {
		return fmt.Errorf("schema: validation failed: %w", err)
	}
	return nil
}
