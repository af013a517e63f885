// Package jsonrpc2 guards frame decoding against field-smuggling: a server
// (or an attacker sitting on the wire) sending both "seq" and "Seq", or a
// field Go's default decoder would silently fold together case-insensitively,
// must not be able to make the struct populate from the attacker's casing
// while a naive log line reports the legitimate one.
package jsonrpc2

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// StrictUnmarshal decodes data into v, rejecting:
//   - two keys at the same object level that differ only in case
//   - a key whose case doesn't exactly match the target struct's json tag
//   - any key with no matching field at all
//
// The first two checks run before decoding even starts, since by the time
// encoding/json has picked a winner among case-variant duplicates the
// smuggled value is already indistinguishable from the legitimate one.
func StrictUnmarshal(data []byte, v any) error {
	if err := walkForCaseIssues(data, fieldNamesOf(v)); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	return nil
}

// walkForCaseIssues checks data (expected to be an object matching the
// fields in topLevel) for case-variant duplicate keys at every nesting
// level, and for top-level keys whose case doesn't match topLevel exactly.
// Nested objects and array elements are checked only for duplicate keys,
// since topLevel has no visibility into their expected field names.
func walkForCaseIssues(data []byte, topLevel map[string]bool) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil // not an object: nothing for this check to do
	}

	byLower := make(map[string]string, len(obj))
	for key := range obj {
		lower := strings.ToLower(key)
		if prior, dup := byLower[lower]; dup && prior != key {
			return fmt.Errorf("duplicate key with different case: %q and %q", prior, key)
		}
		byLower[lower] = key
	}

	for key := range obj {
		if topLevel[key] {
			continue
		}
		for expected := range topLevel {
			if strings.EqualFold(expected, key) {
				return fmt.Errorf("field name case mismatch: got %q, expected %q", key, expected)
			}
		}
		// No case-insensitive match either: an unknown field, left for
		// DisallowUnknownFields to report with its own message.
	}

	for key, val := range obj {
		if err := walkNestedForDuplicates(val); err != nil {
			return fmt.Errorf("in field %q: %w", key, err)
		}
	}
	return nil
}

func walkNestedForDuplicates(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		byLower := make(map[string]string, len(obj))
		for key := range obj {
			lower := strings.ToLower(key)
			if prior, dup := byLower[lower]; dup && prior != key {
				return fmt.Errorf("duplicate key with different case: %q and %q", prior, key)
			}
			byLower[lower] = key
		}
		for key, val := range obj {
			if err := walkNestedForDuplicates(val); err != nil {
				return fmt.Errorf("in field %q: %w", key, err)
			}
		}
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		for i, elem := range arr {
			if err := walkNestedForDuplicates(elem); err != nil {
				return fmt.Errorf("in array index %d: %w", i, err)
			}
		}
	}
	return nil
}

// fieldNamesOf returns the set of JSON names a struct (or pointer to one)
// exposes via its json tags. Fields with no tag or an explicit "-" are
// untagged and excluded, since StrictUnmarshal has no name to check them
// against.
func fieldNamesOf(v any) map[string]bool {
	names := make(map[string]bool)

	t := reflect.TypeOf(v)
	if t == nil {
		return names
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return names
	}

	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		if idx := strings.Index(tag, ","); idx != -1 {
			tag = tag[:idx]
		}
		if tag != "" {
			names[tag] = true
		}
	}
	return names
}
