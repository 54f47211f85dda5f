// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package configdoc

// Schema is the documented configuration tree.
type Schema struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Attributes  []*Field `json:"attributes,omitempty"`
	Blocks      []*Block `json:"blocks"`
}

// Block is an HCL block type.
type Block struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Multiple    bool     `json:"multiple,omitempty"`
	Fields      []*Field `json:"fields,omitempty"`
	Blocks      []*Block `json:"blocks,omitempty"`
}

// Field is an HCL attribute.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, bool, list(...)
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Default     string   `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Example     string   `json:"example,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
}

type hclTag struct {
	name     string
	optional bool
	block    bool
	label    bool
}

type annotation struct {
	def     string
	enum    []string
	example string
	min     *float64
	max     *float64
}

type structField struct {
	goType string
	tag    hclTag
	doc    string
	ann    annotation
}

type structDef struct {
	doc    string
	fields []structField
}
