package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/event"
)

const watchDebounce = 500 * time.Millisecond

// Watch publishes event.RegistryChanged when one of the documents changes
// on disk, whether through this process or an external edit. Bursts are
// coalesced per file. Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, bus *event.Bus) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic writes replace the files, which drops
	// watches placed on the files themselves.
	if err := watcher.Add(r.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
	}

	tracked := map[string]bool{ServicesFile: true, GroupsFile: true, SettingsFile: true}

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	debounce := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[name]; ok {
			t.Reset(watchDebounce)
			return
		}
		timers[name] = time.AfterFunc(watchDebounce, func() {
			mu.Lock()
			delete(timers, name)
			mu.Unlock()
			r.log.Debug("registry document changed", zap.String("file", name))
			bus.Publish(event.Event{Type: event.RegistryChanged, Message: name})
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !tracked[name] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				debounce(name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Error("registry watcher error", zap.Error(err))
		}
	}
}
