// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil holds helpers shared by tests that touch the host kernel.
package testutil

import (
	"os"
	"testing"
)

// KernelEnv gates tests that install nftables rules or bind netfilter
// queues on the running host.
const KernelEnv = "PROCWALL_KERNEL_TEST"

// RequireKernel skips the test unless KernelEnv is set and the process
// runs as root. Such tests mutate host firewall state and belong in a
// throwaway VM.
func RequireKernel(t *testing.T) {
	t.Helper()
	if os.Getenv(KernelEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", KernelEnv)
	}
	if os.Geteuid() != 0 {
		t.Skip("Skipping test: requires root")
	}
}
