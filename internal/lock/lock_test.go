package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/fs"
)

const deadPID = 999999

func fakeAlive(pids ...int) func(int) bool {
	return func(pid int) bool {
		if pid == os.Getpid() {
			return true
		}
		for _, p := range pids {
			if p == pid {
				return true
			}
		}
		return false
	}
}

func TestManagerAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(nil, dir)

	require.NoError(t, m.TryAcquire(Index))
	assert.True(t, m.Owns(Index))
	assert.True(t, m.Held(Index))

	data, err := os.ReadFile(filepath.Join(dir, "index.lock"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	err = m.TryAcquire(Index)
	assert.ErrorIs(t, err, ErrBusy)

	other := NewManager(nil, dir)
	assert.ErrorIs(t, other.TryAcquire(Index), ErrBusy)
	assert.True(t, other.Held(Index))
	assert.False(t, other.Owns(Index))

	require.NoError(t, m.Release(Index))
	assert.False(t, m.Held(Index))
	assert.ErrorIs(t, m.Release(Index), ErrNotHeld)

	require.NoError(t, other.TryAcquire(Index))
	require.NoError(t, other.ReleaseAll())
}

func TestManagerReclaimsDeadOwner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Merge.FileName()), []byte(strconv.Itoa(deadPID)), 0o644))

	m := NewManager(nil, dir)
	m.alive = fakeAlive()
	assert.False(t, m.Held(Merge))
	require.NoError(t, m.TryAcquire(Merge))
	assert.True(t, m.Owns(Merge))
}

func TestManagerReclaimsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Duplicate.FileName()), []byte("not a pid"), 0o644))

	m := NewManager(nil, dir)
	require.NoError(t, m.TryAcquire(Duplicate))
}

func TestManagerLiveForeignOwner(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Index.FileName()), []byte("4242"), 0o644))

	m := NewManager(nil, dir)
	m.alive = fakeAlive(4242)
	assert.ErrorIs(t, m.TryAcquire(Index), ErrBusy)
	assert.True(t, m.Held(Index))
}

func TestManagerAcquireWaits(t *testing.T) {
	dir := t.TempDir()
	holder := NewManager(nil, dir)
	require.NoError(t, holder.TryAcquire(Merge))

	waiter := NewManager(nil, dir)
	waiter.SetPollInterval(5 * time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = holder.Release(Merge)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, waiter.Acquire(ctx, Merge))
	assert.True(t, waiter.Owns(Merge))
}

func TestManagerAcquireCanceled(t *testing.T) {
	dir := t.TempDir()
	holder := NewManager(nil, dir)
	require.NoError(t, holder.TryAcquire(Replicate))

	waiter := NewManager(nil, dir)
	waiter.SetPollInterval(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := waiter.Acquire(ctx, Replicate)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerCreateFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("index.lock", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	m := NewManager(ffs, t.TempDir())
	assert.ErrorIs(t, m.TryAcquire(Index), fs.ErrInjected)
	assert.False(t, m.Owns(Index))
	assert.False(t, fs.Exists(ffs, m.path(Index)))
}
