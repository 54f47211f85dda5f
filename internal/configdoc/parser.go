// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package configdoc

import (
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"strconv"
	"strings"

	"grimm.is/procwall/internal/errors"
)

// Parser collects HCL-tagged structs from Go source.
type Parser struct {
	fset    *token.FileSet
	structs map[string]*structDef
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{fset: token.NewFileSet(), structs: make(map[string]*structDef)}
}

// AddSource parses one Go file.
func (p *Parser) AddSource(filename string, src []byte) error {
	file, err := parser.ParseFile(p.fset, filename, src, parser.ParseComments)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindValidation, "failed to parse config source"), "file", filename)
	}

	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			st, ok := ts.Type.(*ast.StructType)
			if !ok || st.Fields == nil {
				continue
			}
			def := &structDef{doc: commentText(gen.Doc)}
			if ts.Doc != nil {
				def.doc = commentText(ts.Doc)
			}
			for _, f := range st.Fields.List {
				if len(f.Names) == 0 || f.Tag == nil {
					continue
				}
				tag := reflect.StructTag(strings.Trim(f.Tag.Value, "`")).Get("hcl")
				if tag == "" || tag == "-" {
					continue
				}
				doc := commentText(f.Doc)
				if inline := commentText(f.Comment); inline != "" {
					doc = strings.TrimSpace(doc + "\n" + inline)
				}
				def.fields = append(def.fields, structField{
					goType: typeString(f.Type),
					tag:    parseTag(tag),
					doc:    doc,
					ann:    parseAnnotations(doc),
				})
			}
			if len(def.fields) > 0 {
				p.structs[ts.Name.Name] = def
			}
		}
	}
	return nil
}

// Schema builds the documentation tree rooted at the named struct.
func (p *Parser) Schema(root, title string) (*Schema, error) {
	def, ok := p.structs[root]
	if !ok {
		return nil, errors.Attr(errors.New(errors.KindNotFound, "root struct not found"), "type", root)
	}
	s := &Schema{Title: title, Description: def.doc}
	for _, f := range def.fields {
		if f.tag.block {
			s.Blocks = append(s.Blocks, p.block(f, 0))
		} else if !f.tag.label {
			s.Attributes = append(s.Attributes, field(f))
		}
	}
	return s, nil
}

func (p *Parser) block(f structField, depth int) *Block {
	b := &Block{
		Name:        f.tag.name,
		Description: description(f.doc),
		Multiple:    strings.HasPrefix(f.goType, "[]"),
	}
	def := p.structs[strings.TrimLeft(f.goType, "[]*")]
	if def == nil || depth > 8 {
		return b
	}
	if b.Description == "" {
		b.Description = description(def.doc)
	}
	for _, sf := range def.fields {
		switch {
		case sf.tag.label:
			b.Labels = append(b.Labels, sf.tag.name)
		case sf.tag.block:
			b.Blocks = append(b.Blocks, p.block(sf, depth+1))
		default:
			b.Fields = append(b.Fields, field(sf))
		}
	}
	return b
}

func field(f structField) *Field {
	return &Field{
		Name:        f.tag.name,
		Type:        hclType(f.goType),
		Description: description(f.doc),
		Required:    !f.tag.optional,
		Default:     f.ann.def,
		Enum:        f.ann.enum,
		Example:     f.ann.example,
		Min:         f.ann.min,
		Max:         f.ann.max,
	}
}

func parseTag(tag string) hclTag {
	parts := strings.Split(tag, ",")
	t := hclTag{name: parts[0]}
	for _, part := range parts[1:] {
		switch part {
		case "optional":
			t.optional = true
		case "block":
			t.block = true
		case "label":
			t.label = true
		}
	}
	return t
}

func parseAnnotations(doc string) annotation {
	var a annotation
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		key, val, ok := strings.Cut(line, ":")
		if !ok || !strings.HasPrefix(key, "@") {
			continue
		}
		val = strings.TrimSpace(val)
		switch key {
		case "@default":
			a.def = val
		case "@example":
			a.example = val
		case "@enum":
			for _, e := range strings.Split(val, ",") {
				a.enum = append(a.enum, strings.TrimSpace(e))
			}
		case "@min":
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				a.min = &n
			}
		case "@max":
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				a.max = &n
			}
		}
	}
	return a
}

// description drops annotation lines.
func description(doc string) string {
	var keep []string
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "@") {
			continue
		}
		keep = append(keep, line)
	}
	return strings.TrimSpace(strings.Join(keep, " "))
}

func commentText(cg *ast.CommentGroup) string {
	if cg == nil {
		return ""
	}
	return strings.TrimSpace(cg.Text())
}

func typeString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + typeString(t.X)
	case *ast.ArrayType:
		return "[]" + typeString(t.Elt)
	case *ast.MapType:
		return "map[" + typeString(t.Key) + "]" + typeString(t.Value)
	case *ast.SelectorExpr:
		return typeString(t.X) + "." + t.Sel.Name
	}
	return "unknown"
}

func hclType(goType string) string {
	goType = strings.TrimPrefix(goType, "*")
	if strings.HasPrefix(goType, "[]") {
		return "list(" + hclType(strings.TrimPrefix(goType, "[]")) + ")"
	}
	if strings.HasPrefix(goType, "map[") {
		return "map"
	}
	switch goType {
	case "string":
		return "string"
	case "bool":
		return "bool"
	case "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "float32", "float64":
		return "number"
	}
	return "object"
}
