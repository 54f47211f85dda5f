// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package configdoc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Markdown renders the schema as a reference page.
func Markdown(s *Schema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", s.Title)
	if s.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", s.Description)
	}
	if len(s.Attributes) > 0 {
		sb.WriteString("## Top-level attributes\n\n")
		fieldTable(&sb, s.Attributes)
	}
	for _, b := range s.Blocks {
		markdownBlock(&sb, b, 2, "")
	}
	return sb.String()
}

func markdownBlock(sb *strings.Builder, b *Block, level int, parent string) {
	path := b.Name
	if parent != "" {
		path = parent + "." + b.Name
	}
	fmt.Fprintf(sb, "%s %s\n\n", strings.Repeat("#", level), path)
	if b.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", b.Description)
	}

	sb.WriteString("```hcl\n")
	sb.WriteString(b.Name)
	for _, l := range b.Labels {
		fmt.Fprintf(sb, " %q", l)
	}
	sb.WriteString(" {\n")
	for _, f := range b.Fields {
		fmt.Fprintf(sb, "  %s = %s\n", f.Name, sampleValue(f))
	}
	sb.WriteString("}\n```\n\n")
	if b.Multiple {
		sb.WriteString("May appear more than once.\n\n")
	}

	if len(b.Fields) > 0 {
		fieldTable(sb, b.Fields)
	}
	for _, nested := range b.Blocks {
		markdownBlock(sb, nested, level+1, path)
	}
}

func fieldTable(sb *strings.Builder, fields []*Field) {
	sb.WriteString("| Attribute | Type | Default | Description |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, f := range fields {
		def := f.Default
		if def == "" && f.Required {
			def = "required"
		}
		desc := f.Description
		if len(f.Enum) > 0 {
			desc = strings.TrimSpace(desc + " One of: `" + strings.Join(f.Enum, "`, `") + "`.")
		}
		fmt.Fprintf(sb, "| `%s` | %s | %s | %s |\n", f.Name, f.Type, def, desc)
	}
	sb.WriteString("\n")
}

func sampleValue(f *Field) string {
	switch {
	case f.Example != "":
		return f.Example
	case f.Default != "":
		return f.Default
	case len(f.Enum) > 0:
		return strconv.Quote(f.Enum[0])
	}
	switch f.Type {
	case "bool":
		return "false"
	case "number":
		return "0"
	}
	return `""`
}

// JSONSchema is a draft 2020-12 schema node.
type JSONSchema struct {
	Schema      string                 `json:"$schema,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Type        string                 `json:"type,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Default     any                    `json:"default,omitempty"`
	Minimum     *float64               `json:"minimum,omitempty"`
	Maximum     *float64               `json:"maximum,omitempty"`
	Examples    []any                  `json:"examples,omitempty"`
}

// ToJSONSchema converts the schema for editors that validate the JSON
// form of the configuration.
func ToJSONSchema(s *Schema) *JSONSchema {
	root := &JSONSchema{
		Schema:      "https://json-schema.org/draft/2020-12/schema",
		Title:       s.Title,
		Description: s.Description,
		Type:        "object",
		Properties:  make(map[string]*JSONSchema),
	}
	for _, f := range s.Attributes {
		root.Properties[f.Name] = fieldSchema(f)
		if f.Required {
			root.Required = append(root.Required, f.Name)
		}
	}
	for _, b := range s.Blocks {
		root.Properties[b.Name] = blockSchema(b)
	}
	return root
}

func blockSchema(b *Block) *JSONSchema {
	obj := &JSONSchema{
		Description: b.Description,
		Type:        "object",
		Properties:  make(map[string]*JSONSchema),
	}
	for _, l := range b.Labels {
		obj.Properties[l] = &JSONSchema{Type: "string", Description: "Block label"}
		obj.Required = append(obj.Required, l)
	}
	for _, f := range b.Fields {
		obj.Properties[f.Name] = fieldSchema(f)
		if f.Required {
			obj.Required = append(obj.Required, f.Name)
		}
	}
	for _, nested := range b.Blocks {
		obj.Properties[nested.Name] = blockSchema(nested)
	}
	if b.Multiple {
		return &JSONSchema{Type: "array", Description: b.Description, Items: obj}
	}
	return obj
}

func fieldSchema(f *Field) *JSONSchema {
	js := &JSONSchema{Description: f.Description}
	switch {
	case f.Type == "bool":
		js.Type = "boolean"
	case f.Type == "number":
		js.Type = "number"
		js.Minimum, js.Maximum = f.Min, f.Max
	case strings.HasPrefix(f.Type, "list("):
		js.Type = "array"
		js.Items = &JSONSchema{Type: jsonType(strings.TrimSuffix(strings.TrimPrefix(f.Type, "list("), ")"))}
	case f.Type == "map" || f.Type == "object":
		js.Type = "object"
	default:
		js.Type = "string"
		js.Enum = f.Enum
	}
	if f.Default != "" {
		js.Default = defaultValue(f.Default, js.Type)
	}
	if f.Example != "" {
		js.Examples = []any{strings.Trim(f.Example, `"`)}
	}
	return js
}

func jsonType(hcl string) string {
	switch hcl {
	case "bool":
		return "boolean"
	case "number":
		return "number"
	}
	return "string"
}

func defaultValue(def, typ string) any {
	def = strings.Trim(def, `"`)
	switch typ {
	case "boolean":
		return def == "true"
	case "number":
		if n, err := strconv.ParseFloat(def, 64); err == nil {
			return n
		}
	}
	return def
}

// MarshalJSONSchema renders the schema as indented JSON.
func MarshalJSONSchema(s *Schema) ([]byte, error) {
	return json.MarshalIndent(ToJSONSchema(s), "", "  ")
}
