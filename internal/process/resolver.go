// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package process

import (
	"context"
	"sync"
	"time"

	gops "github.com/shirou/gopsutil/v3/process"

	"grimm.is/procwall/internal/errors"
)

// Source reads raw process attributes. The default implementation is
// backed by gopsutil; tests substitute their own.
type Source interface {
	// StartTime returns the process creation time. It is cheap relative
	// to a full read and is used to validate cached snapshots.
	StartTime(ctx context.Context, pid uint32) (time.Time, error)
	Read(ctx context.Context, pid uint32) (*Info, error)
}

// Config tunes the resolver cache.
type Config struct {
	// CacheSize caps the number of cached snapshots. Zero disables caching.
	CacheSize int
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{CacheSize: 1024}
}

type cached struct {
	info  *Info
	start time.Time
}

// Resolver maps pids to snapshots. Cached snapshots are only reused while
// the pid still belongs to a process with the same start time, so a
// recycled pid never yields the previous owner's metadata.
type Resolver struct {
	src  Source
	size int

	mu    sync.Mutex
	cache map[uint32]cached
}

// NewResolver returns a resolver reading from /proc through gopsutil.
func NewResolver(cfg Config) *Resolver {
	return NewResolverWithSource(cfg, gopsutilSource{})
}

// NewResolverWithSource returns a resolver over an arbitrary source.
func NewResolverWithSource(cfg Config, src Source) *Resolver {
	return &Resolver{
		src:   src,
		size:  cfg.CacheSize,
		cache: make(map[uint32]cached),
	}
}

// Resolve returns the snapshot for pid. A process that no longer exists
// yields an error of kind errors.KindNotFound.
func (r *Resolver) Resolve(ctx context.Context, pid uint32) (*Info, error) {
	start, err := r.src.StartTime(ctx, pid)
	if err != nil {
		return nil, notFound(err, pid)
	}

	r.mu.Lock()
	c, ok := r.cache[pid]
	r.mu.Unlock()
	if ok && c.start.Equal(start) {
		return c.info, nil
	}

	info, err := r.src.Read(ctx, pid)
	if err != nil {
		return nil, notFound(err, pid)
	}

	if r.size > 0 {
		r.mu.Lock()
		if len(r.cache) >= r.size {
			// Random eviction via map iteration order.
			for k := range r.cache {
				delete(r.cache, k)
				break
			}
		}
		r.cache[pid] = cached{info: info, start: start}
		r.mu.Unlock()
	}
	return info, nil
}

// Forget drops any cached snapshot for pid.
func (r *Resolver) Forget(pid uint32) {
	r.mu.Lock()
	delete(r.cache, pid)
	r.mu.Unlock()
}

func notFound(err error, pid uint32) error {
	return errors.Attr(errors.Wrap(err, errors.KindNotFound, "process not resolvable"), "pid", pid)
}

type gopsutilSource struct{}

func (gopsutilSource) StartTime(ctx context.Context, pid uint32) (time.Time, error) {
	p, err := gops.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return time.Time{}, err
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (gopsutilSource) Read(ctx context.Context, pid uint32) (*Info, error) {
	p, err := gops.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}

	// The executable path is the one attribute rules depend on, so it is
	// the only one whose failure fails resolution.
	exe, err := p.ExeWithContext(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{PID: pid, Executable: exe}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if cmd, err := p.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmd
	}
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		info.PPID = uint32(ppid)
	}
	if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) > 0 {
		// Effective uid.
		if len(uids) > 1 {
			info.UID = uint32(uids[1])
		} else {
			info.UID = uint32(uids[0])
		}
	}
	if user, err := p.UsernameWithContext(ctx); err == nil {
		info.User = user
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		info.StartTime = time.UnixMilli(ms)
	}
	return info, nil
}
