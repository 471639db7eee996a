package schema

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrUnknownField = errors.New("unknown field")

// Field describes one top-level document field. Version is bumped whenever the
// field's shape or its reconciliation rule changes.
type Field struct {
	Name    string
	Version int
	Schema  string
}

const recordListSchema = `{"type": "array", "items": {"type": "object"}}`

var fields = []Field{
	{Name: FieldClasses, Version: 1, Schema: recordListSchema},
	{Name: FieldSchedules, Version: 1, Schema: recordListSchema},
	{Name: FieldForms, Version: 1, Schema: recordListSchema},
	{Name: FieldSeatingPlans, Version: 1, Schema: recordListSchema},
	{Name: FieldElections, Version: 1, Schema: recordListSchema},
	{Name: FieldRiskMaps, Version: 1, Schema: recordListSchema},
	{Name: FieldActiveClassID, Version: 1, Schema: `{"type": ["string", "null"]}`},
	{Name: FieldSettings, Version: 1, Schema: `{"type": "object"}`},
	{Name: FieldDashboardModules, Version: 2, Schema: `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"title": {"type": "string"},
				"description": {"type": "string"},
				"targetRoute": {"type": "string"},
				"iconName": {"type": "string"},
				"visible": {"type": "boolean"}
			}
		}
	}`},
}

// Fields returns the registry of known top-level fields in declaration order.
func Fields() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// Lookup returns the registry entry for name.
func Lookup(name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compileSchemas() {
	compiled = make(map[string]*jsonschema.Schema, len(fields))
	c := jsonschema.NewCompiler()
	for _, f := range fields {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(f.Schema))
		if err != nil {
			compileErr = fmt.Errorf("parse schema %s: %w", f.Name, err)
			return
		}
		url := schemaURL(f.Name)
		if err := c.AddResource(url, doc); err != nil {
			compileErr = fmt.Errorf("add schema %s: %w", f.Name, err)
			return
		}
	}
	for _, f := range fields {
		sch, err := c.Compile(schemaURL(f.Name))
		if err != nil {
			compileErr = fmt.Errorf("compile schema %s: %w", f.Name, err)
			return
		}
		compiled[f.Name] = sch
	}
}

func schemaURL(name string) string {
	return "https://classdesk.local/schema/" + name + ".json"
}

// Validate checks a serialized field value against the field's JSON Schema.
func Validate(name string, raw []byte) error {
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return compileErr
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if err := compiled[name].Validate(inst); err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	return nil
}
