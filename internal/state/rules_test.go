// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/engine"
)

func TestRuleStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "rules.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()

	created := time.Unix(1700000000, 123).UTC()
	r := engine.Rule{
		ID:         "r1",
		Action:     engine.Deny,
		Priority:   5,
		Persistent: true,
		Clauses: []engine.Clause{
			{Field: engine.FieldExecutable, Value: "/usr/bin/curl"},
			{Field: engine.FieldDestinationPort, Value: "443"},
		},
		Created: created,
	}
	require.NoError(t, s.SaveRule(ctx, r))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, r, rules[0])
}

func TestRuleStore_UpsertAndDelete(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	r := engine.Rule{ID: "r1", Action: engine.Allow, Persistent: true, Created: time.Now()}
	require.NoError(t, s.SaveRule(ctx, r))
	r.Action = engine.Deny
	require.NoError(t, s.SaveRule(ctx, r))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.Deny, rules[0].Action)

	require.NoError(t, s.DeleteRule(ctx, "r1"))
	require.NoError(t, s.DeleteRule(ctx, "r1"))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRuleStore_Order(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	require.NoError(t, s.SaveRule(ctx, engine.Rule{ID: "old", Action: engine.Allow, Created: base}))
	require.NoError(t, s.SaveRule(ctx, engine.Rule{ID: "new", Action: engine.Allow, Created: base.Add(time.Minute)}))
	require.NoError(t, s.SaveRule(ctx, engine.Rule{ID: "high", Action: engine.Deny, Priority: 9, Created: base.Add(time.Hour)}))

	rules, err := s.LoadRules(ctx)
	require.NoError(t, err)
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"high", "old", "new"}, ids)
}

func TestRuleStore_BacksEngine(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	e := engine.NewRuleEngine(engine.Config{}, s, nil)
	r, err := e.AddRule(ctx, engine.Rule{Action: engine.Allow, Persistent: true})
	require.NoError(t, err)

	restarted := engine.NewRuleEngine(engine.Config{}, s, nil)
	require.NoError(t, restarted.Load(ctx))
	require.Len(t, restarted.Rules(), 1)
	assert.Equal(t, r.ID, restarted.Rules()[0].ID)
}
