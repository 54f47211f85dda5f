// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"bytes"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/correlator"
	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/process"
)

func TestRuleFlags(t *testing.T) {
	flags := flag.NewFlagSet("rules add", flag.ContinueOnError)
	rf := newRuleFlags(flags)
	require.NoError(t, flags.Parse([]string{
		"-action", "deny",
		"-priority", "5",
		"-executable", "/usr/bin/*",
		"-destination-port", "80,443",
		"-persistent=false",
	}))

	r, err := rf.rule()
	require.NoError(t, err)
	assert.Equal(t, engine.Deny, r.Action)
	assert.Equal(t, 5, r.Priority)
	assert.False(t, r.Persistent)
	assert.Equal(t, []engine.Clause{
		{Field: engine.FieldExecutable, Value: "/usr/bin/*"},
		{Field: engine.FieldDestinationPort, Value: "80,443"},
	}, r.Clauses)
}

func TestRuleFlagsRejectAsk(t *testing.T) {
	flags := flag.NewFlagSet("rules add", flag.ContinueOnError)
	rf := newRuleFlags(flags)
	require.NoError(t, flags.Parse([]string{"-action", "ask"}))

	_, err := rf.rule()
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestRuleFlagsRejectBadValue(t *testing.T) {
	flags := flag.NewFlagSet("rules add", flag.ContinueOnError)
	rf := newRuleFlags(flags)
	require.NoError(t, flags.Parse([]string{"-action", "allow", "-destination-port", "http"}))

	_, err := rf.rule()
	require.Error(t, err)
}

func TestRuleFileExportImport(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rules := []engine.Rule{{
		ID:         "r1",
		Action:     engine.Allow,
		Priority:   10,
		Persistent: true,
		Created:    created,
		Clauses: []engine.Clause{
			{Field: engine.FieldExecutable, Value: "/usr/bin/curl"},
			{Field: engine.FieldDestinationAddress, Value: "10.0.0.0/8"},
		},
	}}

	data, err := EncodeRules(rules)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rules:")
	assert.Contains(t, string(data), "field: executable")

	got, err := DecodeRules(data)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.True(t, got[0].Created.Equal(created))
	assert.Equal(t, rules[0].Clauses, got[0].Clauses)
}

func TestDecodeRulesValidates(t *testing.T) {
	doc := []byte(`
rules:
  - id: ok
    action: allow
  - id: broken
    action: allow
    clauses:
      - field: colour
        value: blue
`)
	_, err := DecodeRules(doc)
	require.Error(t, err)
	assert.Equal(t, 1, errors.GetAttributes(err)["index"])

	_, err = DecodeRules([]byte("rules: [unterminated"))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestRuleForPromptOutbound(t *testing.T) {
	p := correlator.Prompt{
		Direction: "outbound",
		Protocol:  "tcp",
		Local:     "10.0.0.2:40000",
		Remote:    "93.184.216.34:443",
		Process:   &process.Info{PID: 1, Executable: "/usr/bin/curl"},
	}

	r, err := RuleForPrompt(p, AllowRemote, true, 100)
	require.NoError(t, err)
	assert.Equal(t, engine.Allow, r.Action)
	assert.Equal(t, 100, r.Priority)
	assert.True(t, r.Persistent)
	assert.Equal(t, []engine.Clause{
		{Field: engine.FieldExecutable, Value: "/usr/bin/curl"},
		{Field: engine.FieldDirection, Value: "outbound"},
		{Field: engine.FieldProtocol, Value: "tcp"},
		{Field: engine.FieldDestinationAddress, Value: "93.184.216.34"},
		{Field: engine.FieldDestinationPort, Value: "443"},
	}, r.Clauses)
}

func TestRuleForPromptInboundUsesSource(t *testing.T) {
	p := correlator.Prompt{
		Direction: "inbound",
		Protocol:  "udp",
		Remote:    "[2001:db8::1]:5353",
		Process:   &process.Info{Executable: "/usr/sbin/avahi-daemon"},
	}
	r, err := RuleForPrompt(p, DenyRemote, false, 1)
	require.NoError(t, err)
	assert.Equal(t, engine.Deny, r.Action)
	assert.Contains(t, r.Clauses, engine.Clause{Field: engine.FieldSourceAddress, Value: "2001:db8::1"})
	assert.Contains(t, r.Clauses, engine.Clause{Field: engine.FieldSourcePort, Value: "5353"})
}

func TestRuleForPromptExecutableOnly(t *testing.T) {
	p := correlator.Prompt{
		Direction: "outbound",
		Protocol:  "tcp",
		Remote:    "1.1.1.1:53",
		Process:   &process.Info{Executable: "/usr/bin/firefox"},
	}
	r, err := RuleForPrompt(p, AllowExecutable, true, 1)
	require.NoError(t, err)
	assert.Len(t, r.Clauses, 2)
}

func TestRuleForPromptWildcardRemote(t *testing.T) {
	p := correlator.Prompt{
		Direction: "outbound",
		Protocol:  "udp",
		Remote:    "*:0",
		Process:   &process.Info{Executable: "/usr/bin/dig"},
	}
	r, err := RuleForPrompt(p, AllowRemote, true, 1)
	require.NoError(t, err)
	assert.Len(t, r.Clauses, 3)
}

func TestRuleForPromptErrors(t *testing.T) {
	_, err := RuleForPrompt(correlator.Prompt{Direction: "outbound"}, AllowRemote, true, 1)
	require.Error(t, err)

	p := correlator.Prompt{Direction: "outbound", Process: &process.Info{Executable: "/bin/x"}}
	_, err = RuleForPrompt(p, Skip, true, 1)
	require.Error(t, err)
}

func TestMainUnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	old := Stderr
	Stderr = &errOut
	defer func() { Stderr = old }()

	assert.Equal(t, 2, Main([]string{"frobnicate"}))
	assert.Contains(t, errOut.String(), "unknown command")
	assert.Equal(t, 2, Main(nil))
}

func TestDescribeClauses(t *testing.T) {
	assert.Equal(t, "*", describeClauses(nil))
	assert.Equal(t, "protocol=tcp user_id=0", describeClauses([]engine.Clause{
		{Field: engine.FieldProtocol, Value: "tcp"},
		{Field: engine.FieldUserID, Value: "0"},
	}))
}
