// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package configdoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/config"
	"grimm.is/procwall/internal/errors"
)

func configSchema(t *testing.T) *Schema {
	t.Helper()
	p := NewParser()
	require.NoError(t, p.AddSource("config.go", config.Source))
	s, err := p.Schema("Config", "procwall configuration")
	require.NoError(t, err)
	return s
}

func findBlock(blocks []*Block, name string) *Block {
	for _, b := range blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func findField(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func TestSchemaFromConfig(t *testing.T) {
	s := configSchema(t)

	require.NotNil(t, findField(s.Attributes, "schema_version"))
	for _, name := range []string{"queues", "probe", "pending", "rules", "dns", "control", "firewall", "metrics", "logging"} {
		assert.NotNil(t, findBlock(s.Blocks, name), name)
	}

	pending := findBlock(s.Blocks, "pending")
	require.NotNil(t, pending)
	assert.Contains(t, pending.Description, "pending-packet queues")

	expired := findField(pending.Fields, "expired_verdict")
	require.NotNil(t, expired)
	assert.Equal(t, []string{"drop", "accept"}, expired.Enum)
	assert.Equal(t, `"drop"`, expired.Default)
	assert.False(t, expired.Required)
	assert.Equal(t, "Verdict for packets that expire or are evicted.", expired.Description)

	attach := findBlock(findBlock(s.Blocks, "probe").Blocks, "attach")
	require.NotNil(t, attach)
	assert.True(t, attach.Multiple)
	assert.Equal(t, []string{"program"}, attach.Labels)
	assert.True(t, findField(attach.Fields, "symbol").Required)

	queues := findBlock(s.Blocks, "queues")
	assert.Equal(t, "number", findField(queues.Fields, "outbound_v4").Type)
}

func TestSchemaUnknownRoot(t *testing.T) {
	p := NewParser()
	require.NoError(t, p.AddSource("config.go", config.Source))
	_, err := p.Schema("Missing", "x")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestAddSourceInvalid(t *testing.T) {
	err := NewParser().AddSource("bad.go", []byte("package x\nfunc {"))
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestMarkdown(t *testing.T) {
	md := Markdown(configSchema(t))
	assert.Contains(t, md, "# procwall configuration")
	assert.Contains(t, md, "## pending")
	assert.Contains(t, md, "### probe.attach")
	assert.Contains(t, md, `attach "program" {`)
	assert.Contains(t, md, "| `expired_verdict` | string | \"drop\" |")
	assert.Contains(t, md, "May appear more than once.")
}

func TestJSONSchema(t *testing.T) {
	raw, err := MarshalJSONSchema(configSchema(t))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props := doc["properties"].(map[string]any)

	pending := props["pending"].(map[string]any)["properties"].(map[string]any)
	depth := pending["max_depth"].(map[string]any)
	assert.Equal(t, "number", depth["type"])
	assert.Equal(t, float64(4096), depth["default"])

	attach := props["probe"].(map[string]any)["properties"].(map[string]any)["attach"].(map[string]any)
	assert.Equal(t, "array", attach["type"])
	assert.Contains(t, attach["items"].(map[string]any)["required"], "program")
}

func TestAnnotations(t *testing.T) {
	a := parseAnnotations("Port.\n@default: 9641\n@min: 1\n@max: 65535\n@example: 8080")
	assert.Equal(t, "9641", a.def)
	assert.Equal(t, "8080", a.example)
	require.NotNil(t, a.min)
	require.NotNil(t, a.max)
	assert.Equal(t, 1.0, *a.min)
	assert.Equal(t, 65535.0, *a.max)
	assert.Equal(t, "Port.", description("Port.\n@default: 9641"))
}
