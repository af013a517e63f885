// This file infers a JSON schema from a Go type, for validating the
// params of a named remote method when they cross the wire.

package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Infer constructs a JSON schema for the given type argument, for use as a
// per-method params schema on the Client facade.
//
// It translates Go types into schema types the same way encoding/json
// translates them into JSON:
//   - strings, bools, numbers map to their obvious schema type.
//   - slices and arrays become "array", with a corresponding Items schema.
//   - maps with a string key become "object", with AdditionalProperties set
//     from the map's value type.
//   - structs become "object"; properties come from exported fields using
//     their JSON name, required unless the field is "omitempty". A
//     "jsonschema" struct tag, if present, becomes the property description.
//
// Infer returns an error if t contains (possibly recursively) a map with a
// non-string key, a function, channel, complex, or unsafe.Pointer type, or a
// reference cycle.
func Infer[T any]() (*Schema, error) {
	seen := make(map[reflect.Type]bool)
	s, err := forType(reflect.TypeFor[T](), seen)
	if err != nil {
		var z T
		return nil, fmt.Errorf("schema.Infer[%T]: %w", z, err)
	}
	return s, nil
}

func forType(t reflect.Type, seen map[reflect.Type]bool) (*Schema, error) {
	allowNull := false
	for t.Kind() == reflect.Pointer {
		allowNull = true
		t = t.Elem()
	}

	if t.Name() != "" {
		if seen[t] {
			return nil, fmt.Errorf("cycle detected for type %v", t)
		}
		seen[t] = true
		defer delete(seen, t)
	}

	s := new(Schema)
	var err error

	switch t.Kind() {
	case reflect.Bool:
		s.Type = "boolean"

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		s.Type = "integer"

	case reflect.Float32, reflect.Float64:
		s.Type = "number"

	case reflect.Interface:
		// No constraint: a bare `any` params/result field accepts anything.

	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %v", t.Key().Kind())
		}
		s.Type = "object"
		if s.AdditionalProperties, err = forType(t.Elem(), seen); err != nil {
			return nil, fmt.Errorf("computing map value schema: %w", err)
		}

	case reflect.Slice, reflect.Array:
		s.Type = "array"
		if s.Items, err = forType(t.Elem(), seen); err != nil {
			return nil, fmt.Errorf("computing element schema: %w", err)
		}
		if t.Kind() == reflect.Array {
			n := t.Len()
			s.MinItems, s.MaxItems = &n, &n
		}

	case reflect.String:
		s.Type = "string"

	case reflect.Struct:
		s.Type = "object"
		s.AdditionalProperties = &Schema{Not: &Schema{}} // disallow unknown params fields

		for i := range t.NumField() {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported
			}
			name, omit, required := jsonFieldName(field)
			if omit {
				continue
			}
			fs, err := forType(field.Type, seen)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", t, field.Name, err)
			}
			if desc, ok := field.Tag.Lookup("jsonschema"); ok {
				fs.Description = desc
			}
			if s.Properties == nil {
				s.Properties = make(map[string]*Schema)
			}
			s.Properties[name] = fs
			if required {
				s.Required = append(s.Required, name)
			}
		}

	default:
		return nil, fmt.Errorf("type %v is unsupported by schema inference", t)
	}

	if allowNull && s.Type != "" {
		s.Types = []string{"null", s.Type}
		s.Type = ""
	}
	return s, nil
}

// jsonFieldName reports the JSON field name, whether the field is skipped
// entirely ("-"), and whether it's required (not marked "omitempty"),
// mirroring encoding/json's own struct tag parsing.
func jsonFieldName(f reflect.StructField) (name string, omit, required bool) {
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return f.Name, false, true
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" && len(parts) == 1 {
		return "", true, false
	}
	name = parts[0]
	if name == "" {
		name = f.Name
	}
	required = true
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			required = false
		}
	}
	return name, false, required
}
