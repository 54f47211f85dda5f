// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package process

import (
	"context"
	"sync"

	"grimm.is/procwall/internal/errors"
)

// Static is an in-memory resolver for simulation and tests.
type Static struct {
	mu    sync.RWMutex
	procs map[uint32]*Info
	calls int
}

// NewStatic returns a resolver that knows the given processes.
func NewStatic(procs ...*Info) *Static {
	s := &Static{procs: make(map[uint32]*Info)}
	for _, p := range procs {
		s.procs[p.PID] = p
	}
	return s
}

// Set registers or replaces a process.
func (s *Static) Set(info *Info) {
	s.mu.Lock()
	s.procs[info.PID] = info
	s.mu.Unlock()
}

// Exit forgets a process.
func (s *Static) Exit(pid uint32) {
	s.mu.Lock()
	delete(s.procs, pid)
	s.mu.Unlock()
}

// Calls returns how many times Resolve ran.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Static) Resolve(_ context.Context, pid uint32) (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	info, ok := s.procs[pid]
	if !ok {
		return nil, errors.Attr(errors.New(errors.KindNotFound, "process not resolvable"), "pid", pid)
	}
	return info, nil
}
