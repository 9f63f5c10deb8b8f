package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestMemoryLocker_SerializesSamePath(t *testing.T) {
	locker := NewMemoryLocker()
	path := t.TempDir()

	var (
		mu     sync.Mutex
		active int
		maxAct int
		wg     sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Lock(context.Background(), path)
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			active++
			maxAct = max(maxAct, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxAct)
}

func TestMemoryLocker_DifferentPathsIndependent(t *testing.T) {
	locker := NewMemoryLocker()
	r1, err := locker.Lock(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r2, err := locker.Lock(ctx, t.TempDir())
	require.NoError(t, err)
	r2()
}

func TestMemoryLocker_ContextCancel(t *testing.T) {
	locker := NewMemoryLocker()
	path := t.TempDir()
	release, err := locker.Lock(context.Background(), path)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, path)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLocker_ReleaseIdempotent(t *testing.T) {
	locker := NewMemoryLocker()
	path := t.TempDir()
	release, err := locker.Lock(context.Background(), path)
	require.NoError(t, err)
	release()
	release()

	release, err = locker.Lock(context.Background(), path)
	require.NoError(t, err)
	release()
}

func TestFileLocker_AcquireRelease(t *testing.T) {
	lockDir := t.TempDir()
	project := t.TempDir()
	locker := NewFileLocker(lockDir, "alice@laptop", WithPollInterval(5*time.Millisecond))

	release, err := locker.Lock(context.Background(), project)
	require.NoError(t, err)

	file := locker.lockPath(normalize(project))
	lk, err := readLock(file)
	require.NoError(t, err)
	assert.Equal(t, "alice@laptop", lk.Owner)
	assert.Equal(t, os.Getpid(), lk.PID)

	release()
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))
}

func TestFileLocker_BlocksOtherOwner(t *testing.T) {
	lockDir := t.TempDir()
	project := t.TempDir()
	alice := NewFileLocker(lockDir, "alice", WithPollInterval(5*time.Millisecond))
	bob := NewFileLocker(lockDir, "bob", WithPollInterval(5*time.Millisecond))

	release, err := alice.Lock(context.Background(), project)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = bob.Lock(ctx, project)
	require.Error(t, err)
	var lockErr *LockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, "alice", lockErr.Owner)

	release()
	release2, err := bob.Lock(context.Background(), project)
	require.NoError(t, err)
	release2()
}

func TestFileLocker_TakesOverStaleLock(t *testing.T) {
	lockDir := t.TempDir()
	project := t.TempDir()
	locker := NewFileLocker(lockDir, "bob", WithPollInterval(5*time.Millisecond))

	stale := Lock{
		Path:      normalize(project),
		Owner:     "crashed",
		Acquired:  time.Now().Add(-time.Hour),
		Heartbeat: time.Now().Add(-time.Hour),
		TTL:       "1m",
		PID:       1,
	}
	data, err := yaml.Marshal(&stale)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(lockDir, 0o755))
	require.NoError(t, os.WriteFile(locker.lockPath(normalize(project)), data, 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := locker.Lock(ctx, project)
	require.NoError(t, err)
	defer release()

	lk, err := readLock(locker.lockPath(normalize(project)))
	require.NoError(t, err)
	assert.Equal(t, "bob", lk.Owner)
}

func TestNewLocker(t *testing.T) {
	assert.IsType(t, &MemoryLocker{}, NewLocker(ModeSolo, "", ""))
	assert.IsType(t, &FileLocker{}, NewLocker(ModeShared, filepath.Join(t.TempDir(), "locks"), "me"))
}

func TestLockIsStale(t *testing.T) {
	lk := &Lock{Heartbeat: time.Now().Add(-2 * time.Minute), TTL: "1m"}
	assert.True(t, lk.IsStale())
	lk.Heartbeat = time.Now()
	assert.False(t, lk.IsStale())
	assert.Equal(t, DefaultTTL, (&Lock{TTL: "bogus"}).TTLDuration())
}
