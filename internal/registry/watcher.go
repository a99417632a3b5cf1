package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounceDuration = 100 * time.Millisecond

// Watcher watches a directory of plugin artifacts (compiled converter
// plugins, or any file a constructor reads at build time) and reloads the
// affected plugin in place when one changes, rather than requiring a full
// process restart. fsnotify events are debounced per name before the
// reload fires.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration

	// byPath maps a watched file's path to the reload action it triggers.
	byPath map[string]watchTarget

	mu     sync.Mutex
	timers map[string]*time.Timer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// watchTarget is either a (kind, name) pair reloaded through the registry,
// or a caller-supplied callback — used for file-backed artifacts, such as a
// mapping script, that aren't themselves loaded as a registry plugin.
type watchTarget struct {
	kind Kind
	name string
	fn   func()
}

// NewWatcher builds a Watcher bound to registry. Call Watch for every
// plugin artifact path that should trigger a reload, then Start.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		registry: registry,
		watcher:  fsw,
		debounce: defaultDebounceDuration,
		byPath:   make(map[string]watchTarget),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Watch registers path (a plugin artifact file, or the directory holding
// it) as the trigger for reloading the (kind, name) plugin.
func (w *Watcher) Watch(kind Kind, name, path string) error {
	return w.watch(path, watchTarget{kind: kind, name: name})
}

// WatchFunc registers path as the trigger for calling fn directly, for
// file-backed artifacts that aren't resolved through the (kind, name)
// plugin registry — a schema-mapping script loaded from ScriptPath, for
// instance.
func (w *Watcher) WatchFunc(path string, fn func()) error {
	return w.watch(path, watchTarget{fn: fn})
}

func (w *Watcher) watch(path string, target watchTarget) error {
	dir := path
	if filepath.Ext(path) != "" {
		dir = filepath.Dir(path)
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("registry: watching %q: %w", dir, err)
	}
	w.mu.Lock()
	w.byPath[filepath.Clean(path)] = target
	w.mu.Unlock()
	return nil
}

// Start begins the event loop. Call Stop to release the underlying
// fsnotify watcher.
func (w *Watcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.eventLoop(ctx)
}

// Stop cancels the event loop and closes the underlying watcher.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.handleEvent(event)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("registry: plugin watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	target, ok := w.resolve(event.Name)
	if !ok {
		return
	}
	w.debounceReload(event.Name, target)
}

// resolve matches event.Name against either an exact watched path or a
// watched directory's contents.
func (w *Watcher) resolve(path string) (watchTarget, bool) {
	path = filepath.Clean(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if target, ok := w.byPath[path]; ok {
		return target, true
	}
	dir := filepath.Dir(path)
	for watched, target := range w.byPath {
		if strings.TrimSuffix(watched, string(filepath.Separator)) == dir {
			return target, true
		}
	}
	return watchTarget{}, false
}

func (w *Watcher) debounceReload(path string, target watchTarget) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, exists := w.timers[path]; exists {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		if target.fn != nil {
			target.fn()
			return
		}
		if err := w.registry.Reload(target.kind, target.name); err != nil {
			log.Error().Err(err).Str("kind", string(target.kind)).Str("name", target.name).Msg("registry: plugin reload failed")
		}
	})
}
