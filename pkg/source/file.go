package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"vantage-hq/warden/pkg/rcp"
)

// DirSource loads policy drafts from a directory of YAML files and can
// watch it for changes.
type DirSource struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
}

// NewDirSource creates a directory draft source.
func NewDirSource(dir string) *DirSource {
	return &DirSource{
		dir:      dir,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default().With("component", "source.dir"),
	}
}

// Load implements DraftSource. Directory sources carry no revision.
func (s *DirSource) Load(ctx context.Context) ([]*rcp.Policy, string, error) {
	drafts, err := rcp.LoadDraftDir(s.dir)
	if err != nil {
		return nil, "", err
	}
	return drafts, "", nil
}

// Watch implements Watchable using fsnotify with debounced reloads.
func (s *DirSource) Watch(ctx context.Context, onChange func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating draft watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}

	s.logger.Info("draft directory watcher started",
		"dir", s.dir,
		"debounce_ms", s.debounce.Milliseconds(),
	)

	var mu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(s.debounce, func() {
			if err := onChange(); err != nil {
				s.logger.Error("draft reload failed", "error", err)
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("draft directory watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("draft watcher events channel closed")
			}
			if !relevantEvent(event) {
				continue
			}
			s.logger.Debug("draft change detected", "path", event.Name, "op", event.Op.String())
			trigger()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("draft watcher errors channel closed")
			}
			s.logger.Error("draft watcher error", "error", err)
		}
	}
}

func relevantEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	return ext == ".yaml" || ext == ".yml"
}
