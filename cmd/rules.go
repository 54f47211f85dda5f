// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
	"grimm.is/procwall/internal/process"
)

// RuleFile is the export/import document.
type RuleFile struct {
	Rules []engine.Rule `yaml:"rules"`
}

// RunRules dispatches `procwall rules <sub>`.
func RunRules(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: procwall rules list|add|delete|export|import")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "list", "ls":
		return rulesList(rest)
	case "add":
		return rulesAdd(rest)
	case "delete", "rm":
		return rulesDelete(rest)
	case "export":
		return rulesExport(rest)
	case "import":
		return rulesImport(rest)
	default:
		return fmt.Errorf("unknown rules command %q", sub)
	}
}

func rulesList(args []string) error {
	flags := flag.NewFlagSet("rules list", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	rules, err := cf.client().Rules(ctx)
	if err != nil {
		return err
	}
	if *cf.json {
		return printJSON(rules)
	}

	tw := newTable()
	fmt.Fprintln(tw, "ID\tACTION\tPRIORITY\tPERSISTENT\tMATCH")
	for _, r := range rules {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", r.ID, r.Action, r.Priority, r.Persistent, describeClauses(r.Clauses))
	}
	return tw.Flush()
}

// ruleFlags maps one flag per clause field.
type ruleFlags struct {
	id         *string
	action     *string
	priority   *int
	persistent *bool
	fields     map[engine.Field]*string
}

func newRuleFlags(flags *flag.FlagSet) *ruleFlags {
	rf := &ruleFlags{
		id:         flags.String("id", "", "Rule id (generated when empty)"),
		action:     flags.String("action", "", "allow or deny"),
		priority:   flags.Int("priority", 0, "Higher priorities are evaluated first"),
		persistent: flags.Bool("persistent", true, "Store the rule across restarts"),
		fields:     make(map[engine.Field]*string),
	}
	for _, f := range engine.Fields {
		rf.fields[f] = flags.String(strings.ReplaceAll(string(f), "_", "-"), "", "Match "+strings.ReplaceAll(string(f), "_", " "))
	}
	return rf
}

func (rf *ruleFlags) rule() (engine.Rule, error) {
	action, err := engine.ParseVerdict(*rf.action)
	if err != nil || action == engine.Undecided {
		return engine.Rule{}, errors.New(errors.KindValidation, "-action must be allow or deny")
	}
	r := engine.Rule{
		ID:         *rf.id,
		Action:     action,
		Priority:   *rf.priority,
		Persistent: *rf.persistent,
	}
	for _, f := range engine.Fields {
		if v := strings.TrimSpace(*rf.fields[f]); v != "" {
			r.Clauses = append(r.Clauses, engine.Clause{Field: f, Value: v})
		}
	}
	return r, engine.Validate(r)
}

func rulesAdd(args []string) error {
	flags := flag.NewFlagSet("rules add", flag.ExitOnError)
	cf := newClientFlags(flags)
	rf := newRuleFlags(flags)
	flags.Parse(args)

	r, err := rf.rule()
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	added, err := cf.client().AddRule(ctx, r)
	if err != nil {
		return err
	}
	if *cf.json {
		return printJSON(added)
	}
	fmt.Fprintf(Stdout, "added %s: %s %s\n", added.ID, added.Action, describeClauses(added.Clauses))
	return nil
}

func rulesDelete(args []string) error {
	flags := flag.NewFlagSet("rules delete", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)
	if flags.NArg() == 0 {
		return fmt.Errorf("usage: procwall rules delete <id>...")
	}

	ctx, cancel := requestContext()
	defer cancel()
	c := cf.client()
	for _, id := range flags.Args() {
		if err := c.DeleteRule(ctx, id); err != nil {
			return errors.Attr(err, "id", id)
		}
		fmt.Fprintf(Stdout, "deleted %s\n", id)
	}
	return nil
}

func rulesExport(args []string) error {
	flags := flag.NewFlagSet("rules export", flag.ExitOnError)
	cf := newClientFlags(flags)
	out := flags.String("o", "-", "Output file")
	all := flags.Bool("all", false, "Include rules that are not persistent")
	flags.Parse(args)

	ctx, cancel := requestContext()
	defer cancel()
	rules, err := cf.client().Rules(ctx)
	if err != nil {
		return err
	}
	if !*all {
		kept := rules[:0]
		for _, r := range rules {
			if r.Persistent {
				kept = append(kept, r)
			}
		}
		rules = kept
	}

	data, err := EncodeRules(rules)
	if err != nil {
		return err
	}
	if *out == "-" {
		_, err = Stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

func rulesImport(args []string) error {
	flags := flag.NewFlagSet("rules import", flag.ExitOnError)
	cf := newClientFlags(flags)
	flags.Parse(args)
	if flags.NArg() != 1 {
		return fmt.Errorf("usage: procwall rules import <file|->")
	}

	var (
		data []byte
		err  error
	)
	if flags.Arg(0) == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(flags.Arg(0))
	}
	if err != nil {
		return err
	}
	rules, err := DecodeRules(data)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	c := cf.client()
	imported, skipped := 0, 0
	for _, r := range rules {
		if _, err := c.AddRule(ctx, r); err != nil {
			if errors.IsKind(err, errors.KindConflict) {
				skipped++
				continue
			}
			return errors.Attr(err, "id", r.ID)
		}
		imported++
	}
	fmt.Fprintf(Stdout, "imported %d rules, %d already present\n", imported, skipped)
	return nil
}

// EncodeRules renders rules as a YAML RuleFile.
func EncodeRules(rules []engine.Rule) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(RuleFile{Rules: rules}); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to encode rules")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to encode rules")
	}
	return buf.Bytes(), nil
}

// DecodeRules parses a YAML RuleFile and validates every rule.
func DecodeRules(data []byte) ([]engine.Rule, error) {
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to parse rule file")
	}
	for i, r := range f.Rules {
		if err := engine.Validate(r); err != nil {
			return nil, errors.Attr(err, "index", i)
		}
	}
	return f.Rules, nil
}

func describeClauses(clauses []engine.Clause) string {
	if len(clauses) == 0 {
		return "*"
	}
	parts := make([]string, len(clauses))
	for i, c := range clauses {
		parts[i] = string(c.Field) + "=" + c.Value
	}
	return strings.Join(parts, " ")
}

func processColumns(p *process.Info) (pid, exe string) {
	if p == nil {
		return "-", "-"
	}
	return strconv.FormatUint(uint64(p.PID), 10), p.Executable
}
