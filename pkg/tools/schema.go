package tools

import (
	"fmt"
	"sort"

	"github.com/oceanbase/agentmem-go/pkg/core"
)

// FieldType is the JSON type of a structured content field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// Field describes one structured content field.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
}

// ContentSchema constrains the Fields of memories written through a
// ManageTool. A nil schema accepts free text only.
type ContentSchema struct {
	Name   string
	Fields []Field

	// AllowText keeps the free-text content argument alongside the fields.
	AllowText bool
}

// SharedWorkspaceSchema is the {task, action, result} entry agents use to
// coordinate in a shared namespace.
var SharedWorkspaceSchema = &ContentSchema{
	Name: "workspace_entry",
	Fields: []Field{
		{Name: "task", Type: FieldString, Required: true, Description: "The task being worked on"},
		{Name: "action", Type: FieldString, Required: true, Description: "What was done"},
		{Name: "result", Type: FieldString, Required: true, Description: "The outcome"},
	},
}

// Validate checks fields against the schema. Numbers decoded from JSON
// arrive as float64.
func (s *ContentSchema) Validate(fields map[string]interface{}) error {
	if s == nil {
		if len(fields) > 0 {
			return fmt.Errorf("%w: structured fields are not accepted here", core.ErrInvalidInput)
		}
		return nil
	}

	known := make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = f
		v, ok := fields[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%w: field %q is required", core.ErrInvalidInput, f.Name)
			}
			continue
		}
		if !f.Type.accepts(v) {
			return fmt.Errorf("%w: field %q must be a %s", core.ErrInvalidInput, f.Name, f.Type)
		}
	}

	var unknown []string
	for name := range fields {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown fields %v", core.ErrInvalidInput, unknown)
	}
	return nil
}

func (t FieldType) accepts(v interface{}) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldNumber:
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case FieldBoolean:
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// jsonSchema renders the fields as JSON schema properties.
func (s *ContentSchema) jsonSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Fields))
	var required []string
	for _, f := range s.Fields {
		props[f.Name] = map[string]interface{}{
			"type":        string(f.Type),
			"description": f.Description,
		}
		if f.Required {
			required = append(required, f.Name)
		}
	}
	out := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
