// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cmd implements the procwall command line.
package cmd

import (
	"fmt"
	"io"
	"os"
)

// DefaultConfigPath is read by `run` and `check` when -config is not given.
const DefaultConfigPath = "/etc/procwall/procwall.hcl"

// Stdout and Stderr are swapped out by tests.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

const usage = `usage: procwall <command> [flags]

Daemon:
  run          run the firewall daemon
  check        validate a configuration file
  config-docs  print the configuration reference (markdown or jsonschema)

Control (talk to a running daemon):
  status       show queue depths, connection count and rule count
  connections  list attributed sockets
  pending      list packets awaiting a verdict
  rules        list | add | delete | export | import
  dns          reverse lookup of a snooped address
  prompt       answer connection prompts interactively
`

// Main dispatches a subcommand and returns the process exit code.
func Main(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(Stderr, usage)
		return 2
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "run":
		err = RunDaemon(rest)
	case "check":
		err = RunCheck(rest)
	case "config-docs":
		err = RunConfigDocs(rest)
	case "status":
		err = RunStatus(rest)
	case "connections", "conns":
		err = RunConnections(rest)
	case "pending":
		err = RunPending(rest)
	case "rules":
		err = RunRules(rest)
	case "dns":
		err = RunDNS(rest)
	case "prompt":
		err = RunPrompt(rest)
	case "help", "-h", "--help":
		fmt.Fprint(Stdout, usage)
		return 0
	default:
		fmt.Fprintf(Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(Stderr, "procwall %s: %v\n", args[0], err)
		return 1
	}
	return 0
}
