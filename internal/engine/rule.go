// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the outcome of evaluating a connection.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
	// Undecided means no rule applies and the operator has to be asked.
	Undecided Verdict = "undecided"
)

// ParseVerdict accepts allow, deny, or ask (which maps to Undecided).
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(s) {
	case "allow", "accept":
		return Allow, nil
	case "deny", "drop":
		return Deny, nil
	case "ask", "undecided":
		return Undecided, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Field names a connection attribute a clause can test.
type Field string

const (
	FieldExecutable         Field = "executable"
	FieldUserID             Field = "user_id"
	FieldDirection          Field = "direction"
	FieldProtocol           Field = "protocol"
	FieldSourceAddress      Field = "source_address"
	FieldSourcePort         Field = "source_port"
	FieldDestinationAddress Field = "destination_address"
	FieldDestinationPort    Field = "destination_port"
)

// Fields lists every supported clause field.
var Fields = []Field{
	FieldExecutable,
	FieldUserID,
	FieldDirection,
	FieldProtocol,
	FieldSourceAddress,
	FieldSourcePort,
	FieldDestinationAddress,
	FieldDestinationPort,
}

// Clause is one condition of a rule. Values are strings as typed by the
// operator; they are parsed when the rule is added.
type Clause struct {
	Field Field  `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// Rule allows or denies every connection matching all of its clauses.
// A rule with no clauses matches everything.
type Rule struct {
	ID         string    `json:"id" yaml:"id"`
	Action     Verdict   `json:"action" yaml:"action"`
	Priority   int       `json:"priority" yaml:"priority"`
	Persistent bool      `json:"persistent" yaml:"persistent"`
	Clauses    []Clause  `json:"clauses" yaml:"clauses"`
	Created    time.Time `json:"created" yaml:"created"`
}

// Decision is the answer for one connection.
type Decision struct {
	Verdict Verdict
	// RuleID is empty when the default action applied.
	RuleID string
}
