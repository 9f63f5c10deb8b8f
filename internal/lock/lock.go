// Package lock serializes git-mutating operations per project path.
// In-process callers share a MemoryLocker; schedulers running several
// processes against the same repository use a FileLocker.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects the locker implementation.
type Mode string

const (
	ModeSolo   Mode = "solo"   // one process, in-memory mutex per path
	ModeShared Mode = "shared" // several processes, lock files
)

// DefaultTTL is the default time-to-live for file locks.
const DefaultTTL = 60 * time.Second

// DefaultHeartbeatInterval is the default interval for heartbeat updates.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultPollInterval is how often a FileLocker retries a held lock.
const DefaultPollInterval = 100 * time.Millisecond

// Release releases a held lock. It is safe to call more than once.
type Release func()

// Locker acquires exclusive access to a project path.
type Locker interface {
	// Lock blocks until the path is held or ctx is done.
	Lock(ctx context.Context, path string) (Release, error)
}

// NewLocker creates a Locker appropriate for the given mode.
func NewLocker(mode Mode, lockDir, owner string) Locker {
	if mode == ModeShared {
		return NewFileLocker(lockDir, owner)
	}
	return NewMemoryLocker()
}

// normalize makes different spellings of the same path share a lock.
func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	return filepath.Clean(path)
}

// MemoryLocker is a per-path mutex for a single process. Waiters are
// admitted in arrival order as far as the Go scheduler allows.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryLocker) slot(path string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[path]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[path] = s
	}
	return s
}

// Lock acquires the path's mutex.
func (l *MemoryLocker) Lock(ctx context.Context, path string) (Release, error) {
	s := l.slot(normalize(path))
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-s }) }, nil
}

// Lock represents the on-disk state of a file lock.
type Lock struct {
	Path      string    `yaml:"path"`      // project path being locked
	Owner     string    `yaml:"owner"`     // user@machine identifier
	Acquired  time.Time `yaml:"acquired"`  // when lock was acquired
	Heartbeat time.Time `yaml:"heartbeat"` // last heartbeat update
	TTL       string    `yaml:"ttl"`       // time-to-live as duration string
	PID       int       `yaml:"pid"`       // process ID of lock holder
}

// TTLDuration parses the TTL string and returns a time.Duration.
func (l *Lock) TTLDuration() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// IsStale returns true if the lock heartbeat is older than TTL.
func (l *Lock) IsStale() bool {
	return time.Since(l.Heartbeat) > l.TTLDuration()
}

// FileLocker implements cross-process locking with one lock file per
// project path. A lock whose heartbeat is older than its TTL is taken over.
type FileLocker struct {
	dir      string
	owner    string
	ttl      time.Duration
	poll     time.Duration
	interval time.Duration
	local    *MemoryLocker
}

// FileOption configures a FileLocker.
type FileOption func(*FileLocker)

// WithTTL sets the lock time-to-live.
func WithTTL(d time.Duration) FileOption { return func(l *FileLocker) { l.ttl = d } }

// WithPollInterval sets how often a held lock is retried.
func WithPollInterval(d time.Duration) FileOption { return func(l *FileLocker) { l.poll = d } }

// WithHeartbeatInterval sets how often a held lock is refreshed.
func WithHeartbeatInterval(d time.Duration) FileOption {
	return func(l *FileLocker) { l.interval = d }
}

// NewFileLocker creates a FileLocker storing lock files in dir.
func NewFileLocker(dir, owner string, opts ...FileOption) *FileLocker {
	l := &FileLocker{
		dir:      dir,
		owner:    owner,
		ttl:      DefaultTTL,
		poll:     DefaultPollInterval,
		interval: DefaultHeartbeatInterval,
		local:    NewMemoryLocker(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FileLocker) lockPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:8])+".lock")
}

// Lock acquires the lock file for path, retrying until ctx is done.
func (l *FileLocker) Lock(ctx context.Context, path string) (Release, error) {
	path = normalize(path)
	// Serialize in-process callers first so they don't spin on the file.
	releaseLocal, err := l.local.Lock(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		releaseLocal()
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	file := l.lockPath(path)
	for {
		err := l.tryAcquire(file, path)
		if err == nil {
			break
		}
		var held *LockError
		if !errors.As(err, &held) {
			releaseLocal()
			return nil, err
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, fmt.Errorf("%w: %w", held, ctx.Err())
		case <-time.After(l.poll):
		}
	}

	hb := newHeartbeat(l, file)
	hb.start()
	var once sync.Once
	return func() {
		once.Do(func() {
			hb.stop()
			_ = os.Remove(file)
			releaseLocal()
		})
	}, nil
}

func (l *FileLocker) tryAcquire(file, path string) error {
	now := time.Now().UTC()
	data, err := yaml.Marshal(&Lock{
		Path:      path,
		Owner:     l.owner,
		Acquired:  now,
		Heartbeat: now,
		TTL:       l.ttl.String(),
		PID:       os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		_, werr := f.Write(data)
		cerr := f.Close()
		return errors.Join(werr, cerr)
	}
	if !os.IsExist(err) {
		return fmt.Errorf("create lock file: %w", err)
	}

	existing, err := readLock(file)
	if err != nil {
		if os.IsNotExist(err) {
			return &LockError{Path: path, Reason: "released during acquire"}
		}
		return err
	}
	if existing.IsStale() {
		// Take over a stale lock and retry the exclusive create.
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
		return &LockError{Path: path, Owner: existing.Owner, Reason: "stale lock removed", Stale: true}
	}
	return &LockError{Path: path, Owner: existing.Owner, Reason: "path is locked"}
}

func readLock(file string) (*Lock, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var lk Lock
	if err := yaml.Unmarshal(data, &lk); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &lk, nil
}

// writeLock writes a lock file atomically.
func writeLock(file string, lk *Lock) error {
	data, err := yaml.Marshal(lk)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename lock file: %w", err)
	}
	return nil
}

// LockError represents a lock acquisition failure.
type LockError struct {
	Path   string
	Owner  string
	Reason string
	Stale  bool // true if a stale lock was found and removed
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock %s: %s (owner: %s)", e.Path, e.Reason, e.Owner)
}

// heartbeat keeps a held file lock fresh.
type heartbeat struct {
	locker *FileLocker
	file   string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newHeartbeat(l *FileLocker, file string) *heartbeat {
	return &heartbeat{locker: l, file: file, stopCh: make(chan struct{})}
}

func (h *heartbeat) start() {
	interval := h.locker.interval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				lk, err := readLock(h.file)
				if err != nil || lk.Owner != h.locker.owner || lk.PID != os.Getpid() {
					continue
				}
				lk.Heartbeat = time.Now().UTC()
				// Ignore errors; the lock goes stale if they persist.
				_ = writeLock(h.file, lk)
			}
		}
	}()
}

func (h *heartbeat) stop() {
	close(h.stopCh)
	h.wg.Wait()
}
