// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command procwall is a per-process application firewall.
package main

import (
	"os"

	"grimm.is/procwall/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args[1:]))
}
