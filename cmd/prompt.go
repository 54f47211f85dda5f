// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"grimm.is/procwall/internal/correlator"
	"grimm.is/procwall/internal/engine"
	"grimm.is/procwall/internal/errors"
)

// Answer is the operator's choice for a prompt.
type Answer string

const (
	AllowRemote     Answer = "allow-remote"
	AllowExecutable Answer = "allow-executable"
	DenyRemote      Answer = "deny-remote"
	DenyExecutable  Answer = "deny-executable"
	Skip            Answer = "skip"
)

// RunPrompt answers connection prompts until interrupted.
func RunPrompt(args []string) error {
	flags := flag.NewFlagSet("prompt", flag.ExitOnError)
	cf := newClientFlags(flags)
	priority := flags.Int("priority", 100, "Priority of rules created from answers")
	flags.Parse(args)

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New(errors.KindValidation, "prompt needs an interactive terminal")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cf.client()
	events, err := c.Events(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, "waiting for connection prompts, ctrl-c to stop")

	for p := range events {
		answer, persist, err := ask(ctx, p)
		if err != nil {
			if stderrors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if answer == Skip {
			continue
		}

		r, err := RuleForPrompt(p, answer, persist, *priority)
		if err != nil {
			fmt.Fprintf(Stderr, "cannot build rule: %v\n", err)
			continue
		}
		added, err := c.AddRule(ctx, r)
		if err != nil {
			fmt.Fprintf(Stderr, "failed to add rule: %v\n", err)
			continue
		}
		fmt.Fprintf(Stdout, "added %s: %s %s\n", added.ID, added.Action, describeClauses(added.Clauses))
	}
	return nil
}

func ask(ctx context.Context, p correlator.Prompt) (Answer, bool, error) {
	var (
		answer  = Skip
		persist = true
	)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[Answer]().
				Title(promptTitle(p)).
				Description(promptDescription(p)).
				Options(
					huh.NewOption("Allow this destination", AllowRemote),
					huh.NewOption("Allow everything from this program", AllowExecutable),
					huh.NewOption("Deny this destination", DenyRemote),
					huh.NewOption("Deny everything from this program", DenyExecutable),
					huh.NewOption("Decide later", Skip),
				).
				Value(&answer),
			huh.NewConfirm().
				Title("Remember across restarts?").
				Value(&persist),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return Skip, false, err
	}
	return answer, persist, nil
}

func promptTitle(p correlator.Prompt) string {
	exe := "unknown program"
	if p.Process != nil {
		exe = p.Process.Executable
	}
	peer := p.Remote
	if p.Domain != "" {
		peer = fmt.Sprintf("%s (%s)", p.Remote, p.Domain)
	}
	if p.Direction == "inbound" {
		return fmt.Sprintf("%s: %s connection from %s", exe, p.Protocol, peer)
	}
	return fmt.Sprintf("%s wants to connect to %s over %s", exe, peer, p.Protocol)
}

func promptDescription(p correlator.Prompt) string {
	if p.Process == nil {
		return "local " + p.Local
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pid %d uid %d", p.Process.PID, p.Process.UID)
	if p.Process.User != "" {
		fmt.Fprintf(&b, " (%s)", p.Process.User)
	}
	if p.Process.Cmdline != "" {
		fmt.Fprintf(&b, "\n%s", p.Process.Cmdline)
	}
	return b.String()
}

// RuleForPrompt turns an answer into a rule. Destination answers pin the
// peer address and port; program answers match on the executable alone.
func RuleForPrompt(p correlator.Prompt, a Answer, persistent bool, priority int) (engine.Rule, error) {
	r := engine.Rule{Priority: priority, Persistent: persistent}
	switch a {
	case AllowRemote, AllowExecutable:
		r.Action = engine.Allow
	case DenyRemote, DenyExecutable:
		r.Action = engine.Deny
	default:
		return engine.Rule{}, errors.Errorf(errors.KindValidation, "answer %q does not create a rule", a)
	}

	if p.Process == nil || p.Process.Executable == "" {
		return engine.Rule{}, errors.New(errors.KindValidation, "prompt has no executable")
	}
	r.Clauses = append(r.Clauses,
		engine.Clause{Field: engine.FieldExecutable, Value: p.Process.Executable},
		engine.Clause{Field: engine.FieldDirection, Value: p.Direction},
	)

	if a == AllowExecutable || a == DenyExecutable {
		return r, engine.Validate(r)
	}

	r.Clauses = append(r.Clauses, engine.Clause{Field: engine.FieldProtocol, Value: p.Protocol})
	addrField, portField := engine.FieldDestinationAddress, engine.FieldDestinationPort
	if p.Direction == "inbound" {
		addrField, portField = engine.FieldSourceAddress, engine.FieldSourcePort
	}
	if ap, err := netip.ParseAddrPort(p.Remote); err == nil {
		r.Clauses = append(r.Clauses,
			engine.Clause{Field: addrField, Value: ap.Addr().String()},
			engine.Clause{Field: portField, Value: strconv.Itoa(int(ap.Port()))},
		)
	}
	return r, engine.Validate(r)
}
