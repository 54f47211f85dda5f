// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine decides whether a process may use a connection.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/kernel"
	"grimm.is/procwall/internal/logging"
	"grimm.is/procwall/internal/process"
)

// Store persists rules marked persistent.
type Store interface {
	LoadRules(ctx context.Context) ([]Rule, error)
	SaveRule(ctx context.Context, r Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// Config configures the engine.
type Config struct {
	// DefaultAction applies when no rule matches. Undecided defers to the
	// operator.
	DefaultAction Verdict
}

type compiledRule struct {
	Rule
	seq   uint64
	preds []predicate
}

func (c *compiledRule) matches(info *process.Info, t kernel.Tuple) bool {
	for _, p := range c.preds {
		if !p(info, t) {
			return false
		}
	}
	return true
}

// RuleEngine evaluates connections against an ordered rule set.
type RuleEngine struct {
	def    Verdict
	store  Store
	logger *logging.Logger

	mu    sync.RWMutex
	rules []*compiledRule
	seq   uint64
	// adding holds IDs claimed by an AddRule that is still persisting.
	adding map[string]struct{}

	cbMu      sync.Mutex
	callbacks []func()
}

// NewRuleEngine creates an engine. store may be nil, in which case
// persistent rules live only in memory.
func NewRuleEngine(cfg Config, store Store, logger *logging.Logger) *RuleEngine {
	if logger == nil {
		logger = logging.WithComponent("engine")
	}
	def := cfg.DefaultAction
	if def == "" {
		def = Undecided
	}
	return &RuleEngine{
		def:    def,
		store:  store,
		logger: logger,
		adding: make(map[string]struct{}),
	}
}

// Load replaces the in-memory rules with those from the store. Stored rules
// that no longer validate are skipped and logged.
func (e *RuleEngine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	stored, err := e.store.LoadRules(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to load rules")
	}

	compiled := make([]*compiledRule, 0, len(stored))
	e.mu.Lock()
	for _, r := range stored {
		c, err := e.compileLocked(r)
		if err != nil {
			e.logger.WithError(err).Warn("skipping stored rule", "id", r.ID)
			continue
		}
		compiled = append(compiled, c)
	}
	e.rules = compiled
	sortRules(e.rules)
	e.mu.Unlock()

	e.logger.Info("rules loaded", "count", len(compiled))
	e.fire()
	return nil
}

// Evaluate returns the verdict for a connection owned by info. It never
// blocks on I/O.
func (e *RuleEngine) Evaluate(info *process.Info, t kernel.Tuple) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if r.matches(info, t) {
			return Decision{Verdict: r.Action, RuleID: r.ID}
		}
	}
	return Decision{Verdict: e.def}
}

// AddRule validates and installs a rule, assigning an ID and creation time
// when missing. Persistent rules are written to the store first.
func (e *RuleEngine) AddRule(ctx context.Context, r Rule) (Rule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}

	e.mu.Lock()
	c, err := e.compileLocked(r)
	if err != nil {
		e.mu.Unlock()
		return Rule{}, err
	}
	if e.existsLocked(r.ID) {
		e.mu.Unlock()
		return Rule{}, errors.Attr(errors.New(errors.KindConflict, "rule already exists"), "id", r.ID)
	}
	e.adding[r.ID] = struct{}{}
	e.mu.Unlock()

	if r.Persistent && e.store != nil {
		if err := e.store.SaveRule(ctx, r); err != nil {
			e.mu.Lock()
			delete(e.adding, r.ID)
			e.mu.Unlock()
			return Rule{}, errors.Wrap(err, errors.KindUnavailable, "failed to persist rule")
		}
	}

	e.mu.Lock()
	delete(e.adding, r.ID)
	e.rules = append(e.rules, c)
	sortRules(e.rules)
	e.mu.Unlock()

	e.logger.Info("rule added", "id", r.ID, "action", r.Action, "priority", r.Priority, "persistent", r.Persistent)
	e.fire()
	return r, nil
}

func (e *RuleEngine) existsLocked(id string) bool {
	if _, ok := e.adding[id]; ok {
		return true
	}
	for _, r := range e.rules {
		if r.ID == id {
			return true
		}
	}
	return false
}

// RemoveRule deletes a rule by ID.
func (e *RuleEngine) RemoveRule(ctx context.Context, id string) error {
	e.mu.Lock()
	idx := -1
	for i, r := range e.rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return errors.Attr(errors.New(errors.KindNotFound, "rule not found"), "id", id)
	}
	removed := e.rules[idx]
	e.rules = append(e.rules[:idx:idx], e.rules[idx+1:]...)
	e.mu.Unlock()

	if removed.Persistent && e.store != nil {
		if err := e.store.DeleteRule(ctx, id); err != nil {
			e.logger.WithError(err).Error("failed to delete stored rule", "id", id)
		}
	}

	e.logger.Info("rule removed", "id", id)
	e.fire()
	return nil
}

// Rules returns the rules in evaluation order.
func (e *RuleEngine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Rule
		out[i].Clauses = append([]Clause(nil), r.Clauses...)
	}
	return out
}

// DefaultAction returns the verdict used when nothing matches.
func (e *RuleEngine) DefaultAction() Verdict {
	return e.def
}

// OnPolicyChanged registers fn to run after every rule change. Callbacks
// run on the goroutine that made the change, with no engine lock held.
func (e *RuleEngine) OnPolicyChanged(fn func()) {
	e.cbMu.Lock()
	e.callbacks = append(e.callbacks, fn)
	e.cbMu.Unlock()
}

func (e *RuleEngine) fire() {
	e.cbMu.Lock()
	cbs := append([]func(){}, e.callbacks...)
	e.cbMu.Unlock()
	for _, fn := range cbs {
		fn()
	}
}

func (e *RuleEngine) compileLocked(r Rule) (*compiledRule, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	preds := make([]predicate, 0, len(r.Clauses))
	for _, c := range r.Clauses {
		p, err := compile(c)
		if err != nil {
			return nil, errors.Attr(errors.Wrap(err, errors.KindValidation, "invalid clause"), "id", r.ID)
		}
		preds = append(preds, p)
	}
	e.seq++
	return &compiledRule{Rule: r, seq: e.seq, preds: preds}, nil
}

// Validate checks a rule without installing it.
func Validate(r Rule) error {
	if r.Action != Allow && r.Action != Deny {
		return errors.Errorf(errors.KindValidation, "rule action must be allow or deny, got %q", r.Action)
	}
	for _, c := range r.Clauses {
		if _, err := compile(c); err != nil {
			return errors.Wrap(err, errors.KindValidation, "invalid clause")
		}
	}
	return nil
}

// sortRules orders by priority descending, then creation, then insertion.
func sortRules(rules []*compiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.seq < b.seq
	})
}
