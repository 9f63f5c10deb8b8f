package preferences

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoflow/internal/automation"
)

// FileStore reads preferences from a YAML file and reloads it when the
// file changes on disk.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu  sync.RWMutex
	doc *Document
	raw []byte

	// reloaded is signalled after every successful reload (tests).
	reloaded chan struct{}
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *FileStore) { s.logger = l } }

// OpenFile loads the file at path. A missing file yields an empty store.
func OpenFile(path string, opts ...Option) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		logger:   slog.Default(),
		doc:      &Document{},
		reloaded: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.set(&Document{}, nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read preferences: %w", err)
	}

	s.mu.RLock()
	same := s.raw != nil && bytes.Equal(s.raw, data)
	s.mu.RUnlock()
	if same {
		return nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse preferences %s: %w", s.path, err)
	}
	if err := doc.validate(); err != nil {
		return fmt.Errorf("preferences %s: %w", s.path, err)
	}
	s.set(&doc, data)
	return nil
}

func (s *FileStore) set(doc *Document, raw []byte) {
	s.mu.Lock()
	s.doc = doc
	s.raw = raw
	s.mu.Unlock()
	select {
	case s.reloaded <- struct{}{}:
	default:
	}
}

func (d *Document) validate() error {
	check := func(kind, name string, p automation.Preferences) error {
		if p.Level != "" && !p.Level.IsValid() {
			return fmt.Errorf("%s %q: unknown automation level %q", kind, name, p.Level)
		}
		return nil
	}
	for name, p := range d.Users {
		if err := check("user", name, p); err != nil {
			return err
		}
	}
	for name, p := range d.Projects {
		if err := check("project", name, p); err != nil {
			return err
		}
	}
	return nil
}

// Lookup implements Store.
func (s *FileStore) Lookup(user, projectPath string) automation.Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Lookup(user, projectPath)
}

// Watch reloads the file on change until ctx is done. The parent
// directory is watched so editors that replace the file are followed.
// A file that fails to parse is logged and the previous contents stay.
func (s *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.load(); err != nil {
				s.logger.Warn("preferences reload failed", "path", s.path, "error", err)
				continue
			}
			s.logger.Debug("preferences reloaded", "path", s.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("fsnotify error", "error", err)
		}
	}
}
