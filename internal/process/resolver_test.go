// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package process

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/procwall/internal/errors"
)

type fakeSource struct {
	starts map[uint32]time.Time
	exes   map[uint32]string
	reads  int
}

func (f *fakeSource) StartTime(_ context.Context, pid uint32) (time.Time, error) {
	t, ok := f.starts[pid]
	if !ok {
		return time.Time{}, fmt.Errorf("process %d not running", pid)
	}
	return t, nil
}

func (f *fakeSource) Read(_ context.Context, pid uint32) (*Info, error) {
	f.reads++
	return &Info{PID: pid, Executable: f.exes[pid], StartTime: f.starts[pid]}, nil
}

func TestResolver_CachesWhileStartTimeMatches(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	src := &fakeSource{
		starts: map[uint32]time.Time{4821: t0},
		exes:   map[uint32]string{4821: "/usr/bin/curl"},
	}
	r := NewResolverWithSource(DefaultConfig(), src)

	a, err := r.Resolve(context.Background(), 4821)
	require.NoError(t, err)
	b, err := r.Resolve(context.Background(), 4821)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, src.reads)
	assert.Equal(t, "/usr/bin/curl", a.Executable)
}

func TestResolver_PidReuseRefreshes(t *testing.T) {
	src := &fakeSource{
		starts: map[uint32]time.Time{100: time.Unix(1, 0)},
		exes:   map[uint32]string{100: "/usr/bin/old"},
	}
	r := NewResolverWithSource(DefaultConfig(), src)

	old, err := r.Resolve(context.Background(), 100)
	require.NoError(t, err)

	src.starts[100] = time.Unix(2, 0)
	src.exes[100] = "/usr/bin/new"

	fresh, err := r.Resolve(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/new", fresh.Executable)
	assert.Equal(t, "/usr/bin/old", old.Executable, "earlier snapshot must be untouched")
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolverWithSource(DefaultConfig(), &fakeSource{})

	_, err := r.Resolve(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.Equal(t, uint32(99), errors.GetAttributes(err)["pid"])
}

func TestResolver_CacheBounded(t *testing.T) {
	src := &fakeSource{starts: map[uint32]time.Time{}, exes: map[uint32]string{}}
	for pid := uint32(1); pid <= 10; pid++ {
		src.starts[pid] = time.Unix(int64(pid), 0)
	}
	r := NewResolverWithSource(Config{CacheSize: 4}, src)
	for pid := uint32(1); pid <= 10; pid++ {
		_, err := r.Resolve(context.Background(), pid)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(r.cache), 4)
}

func TestResolver_Self(t *testing.T) {
	if _, err := os.Stat("/proc/self/exe"); err != nil {
		t.Skip("procfs not available")
	}
	r := NewResolver(DefaultConfig())
	info, err := r.Resolve(context.Background(), uint32(os.Getpid()))
	require.NoError(t, err)
	assert.NotEmpty(t, info.Executable)
	assert.Equal(t, uint32(os.Getpid()), info.PID)
}

func TestStatic(t *testing.T) {
	s := NewStatic(&Info{PID: 1, Executable: "/sbin/init"})
	info, err := s.Resolve(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "/sbin/init", info.Executable)

	s.Exit(1)
	_, err = s.Resolve(context.Background(), 1)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.Equal(t, 2, s.Calls())
}
