package jsonrpc2

import (
	"strings"
	"testing"
)

type probe struct {
	Name   string `json:"name"`
	Method string `json:"method"`
	Args   any    `json:"arguments,omitempty"`
}

func TestStrictUnmarshalRejectsCaseVariantDuplicates(t *testing.T) {
	for _, tt := range []struct {
		name string
		json string
	}{
		{"top-level name/Name", `{"name":"legitimate","Name":"smuggled"}`},
		{"top-level method/METHOD", `{"method":"call","METHOD":"secret"}`},
		{"nested object", `{"name":"test","arguments":{"key":"value","Key":"smuggled"}}`},
		{"triple variant", `{"name":"a","Name":"b","NAME":"c"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out probe
			err := StrictUnmarshal([]byte(tt.json), &out)
			if err == nil {
				t.Fatalf("StrictUnmarshal(%s) = nil, want duplicate-key error", tt.json)
			}
			if !strings.Contains(err.Error(), "duplicate key") {
				t.Errorf("error = %v, want it to mention duplicate key", err)
			}
		})
	}
}

func TestStrictUnmarshalRejectsFieldCaseMismatch(t *testing.T) {
	for _, tt := range []struct {
		name string
		json string
	}{
		{"Name instead of name", `{"Name":"test"}`},
		{"METHOD instead of method", `{"METHOD":"call"}`},
		{"one right one wrong", `{"name":"test","METHOD":"call"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out probe
			err := StrictUnmarshal([]byte(tt.json), &out)
			if err == nil {
				t.Fatalf("StrictUnmarshal(%s) = nil, want case-mismatch error", tt.json)
			}
			if !strings.Contains(err.Error(), "case mismatch") {
				t.Errorf("error = %v, want it to mention case mismatch", err)
			}
		})
	}
}

func TestStrictUnmarshalRejectsUnknownFields(t *testing.T) {
	for _, tt := range []struct {
		name string
		json string
	}{
		{"stray field", `{"name":"test","unknownField":"value"}`},
		{"extra field alongside known ones", `{"name":"test","method":"call","extra":"data"}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out probe
			if err := StrictUnmarshal([]byte(tt.json), &out); err == nil {
				t.Fatalf("StrictUnmarshal(%s) = nil, want an error", tt.json)
			}
		})
	}
}

func TestStrictUnmarshalAllowsWellFormedInput(t *testing.T) {
	for _, tt := range []struct {
		name     string
		json     string
		wantName string
	}{
		{"single field", `{"name":"test"}`, "test"},
		{"multiple fields", `{"name":"greet","method":"call"}`, "greet"},
		{"with nested object", `{"name":"test","method":"call","arguments":{"key":"value"}}`, "test"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out probe
			if err := StrictUnmarshal([]byte(tt.json), &out); err != nil {
				t.Fatalf("StrictUnmarshal(%s): unexpected error %v", tt.json, err)
			}
			if out.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", out.Name, tt.wantName)
			}
		})
	}
}

func TestStrictUnmarshalNestedDuplicatesAtAnyDepth(t *testing.T) {
	type args struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	type nested struct {
		Name string `json:"name"`
		Args args   `json:"args"`
	}

	for _, tt := range []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid", `{"name":"test","args":{"key":"k","value":"v"}}`, false},
		{"duplicate one level down", `{"name":"test","args":{"key":"k","Key":"smuggled"}}`, true},
		{"duplicate two levels down", `{"name":"test","args":{"key":"k","value":"v","extra":{"a":"1","A":"2"}}}`, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out nested
			err := StrictUnmarshal([]byte(tt.json), &out)
			if tt.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestStrictUnmarshalArrayElementsAreChecked(t *testing.T) {
	type withItems struct {
		Items []map[string]string `json:"items"`
	}

	for _, tt := range []struct {
		name    string
		json    string
		wantErr bool
	}{
		{"valid array", `{"items":[{"key":"value1"},{"key":"value2"}]}`, false},
		{"duplicate in first element", `{"items":[{"key":"value","Key":"smuggled"}]}`, true},
		{"duplicate in second element", `{"items":[{"key":"value1"},{"name":"test","Name":"smuggled"}]}`, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var out withItems
			err := StrictUnmarshal([]byte(tt.json), &out)
			if tt.wantErr && err == nil {
				t.Fatal("expected an error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFieldNamesOf(t *testing.T) {
	type tagged struct {
		Field1 string `json:"field1"`
		Field2 int    `json:"field2,omitempty"`
		Field3 bool   `json:"-"`
		Field4 string
	}

	names := fieldNamesOf(&tagged{})
	want := map[string]bool{"field1": true, "field2": true}

	if len(names) != len(want) {
		t.Errorf("fieldNamesOf() = %v, want %v", names, want)
	}
	for name := range want {
		if !names[name] {
			t.Errorf("fieldNamesOf() missing %q", name)
		}
	}
	if names["Field3"] || names["Field4"] || names["field4"] {
		t.Error("fieldNamesOf() should skip untagged and \"-\" fields")
	}
}
