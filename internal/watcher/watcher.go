// Package watcher turns local filesystem activity under the vault root into
// queued sync operations. Events are debounced per path so editor save
// bursts collapse into one mutation.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tildaslashalef/vaultsync/internal/config"
	"github.com/tildaslashalef/vaultsync/internal/loggy"
	"github.com/tildaslashalef/vaultsync/internal/queue"
)

// DefaultDebounce is how long a path must stay quiet before its latest
// mutation is enqueued.
const DefaultDebounce = 500 * time.Millisecond

// Enqueuer is the queue surface the watcher feeds. Implemented by
// queue.Service.
type Enqueuer interface {
	Enqueue(ctx context.Context, path string, kind queue.OpKind, content []byte, oldPath string) (*queue.Operation, error)
}

// Service watches the vault root recursively and records local mutations.
type Service struct {
	root     string
	queue    Enqueuer
	debounce time.Duration
	logger   *loggy.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*time.Timer
	created map[string]bool // paths first seen as Create, not yet flushed
}

// NewService creates a watcher over the configured vault root.
func NewService(vaultCfg config.VaultConfig, enqueuer Enqueuer, debounce time.Duration, logger *loggy.Logger) *Service {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Service{
		root:     vaultCfg.Root,
		queue:    enqueuer,
		debounce: debounce,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
		created:  make(map[string]bool),
	}
}

// Start begins watching. The event loop runs until Stop is called.
func (s *Service) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.watcher = watcher
	s.done = make(chan struct{})

	if err := s.addRecursive(s.root); err != nil {
		_ = watcher.Close()
		return err
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("Watching vault", "root", s.root)
	return nil
}

// Stop ends watching and cancels pending debounce timers.
func (s *Service) Stop() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()

	s.mu.Lock()
	for path, timer := range s.pending {
		timer.Stop()
		delete(s.pending, path)
	}
	s.mu.Unlock()
	return err
}

func (s *Service) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return s.watcher.Add(path)
	})
}

func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (s *Service) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if isIgnored(name) {
		return
	}

	// New directories join the watch set.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := s.watcher.Add(event.Name); err != nil {
				s.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	rel, err := filepath.Rel(s.root, event.Name)
	if err != nil {
		return
	}
	path := filepath.ToSlash(rel)

	s.mu.Lock()
	if event.Op.Has(fsnotify.Create) {
		s.created[path] = true
	}
	if timer, ok := s.pending[path]; ok {
		timer.Stop()
	}
	s.pending[path] = time.AfterFunc(s.debounce, func() { s.flush(path) })
	s.mu.Unlock()
}

// flush enqueues the settled mutation for a path: delete when the file is
// gone, otherwise create or update with the current content.
func (s *Service) flush(path string) {
	s.mu.Lock()
	delete(s.pending, path)
	wasCreated := s.created[path]
	delete(s.created, path)
	s.mu.Unlock()

	ctx := context.Background()
	full := filepath.Join(s.root, filepath.FromSlash(path))

	content, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		if _, err := s.queue.Enqueue(ctx, path, queue.OpDelete, nil, ""); err != nil {
			s.logger.Warn("Failed to enqueue deletion", "path", path, "error", err)
		}
		return
	}
	if err != nil {
		s.logger.Warn("Failed to read changed file", "path", path, "error", err)
		return
	}

	kind := queue.OpUpdate
	if wasCreated {
		kind = queue.OpCreate
	}
	if _, err := s.queue.Enqueue(ctx, path, kind, content, ""); err != nil {
		s.logger.Warn("Failed to enqueue change", "path", path, "error", err)
	}
}

// isIgnored filters hidden files and common editor temp artifacts.
func isIgnored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tmp", ".swp", ".swx", ".part":
		return true
	}
	return false
}
