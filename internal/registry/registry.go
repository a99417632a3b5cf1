// Package registry implements Gauss's plugin registry: it
// resolves named plugins of four kinds (storage, format, converter,
// processor) from declarative configuration and invokes their constructors.
//
// The registry is a mutex-guarded name cache with Register/Load/Release
// operations and explicit ordering guarantees on teardown.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind identifies which of the four plugin families a name is resolved
// against. Names are namespaced per kind: a storage plugin and a format
// plugin may share a name without colliding.
type Kind string

const (
	KindStorage   Kind = "storage"
	KindFormat    Kind = "format"
	KindConverter Kind = "converter"
	KindProcessor Kind = "processor"
)

var (
	// ErrUnknownPlugin is returned when no constructor is registered for a
	// (kind, name) pair — a start-time fatal configuration error.
	ErrUnknownPlugin = errors.New("registry: unknown plugin")
	// ErrAlreadyRegistered is returned by Register when a (kind, name) pair
	// already has a constructor.
	ErrAlreadyRegistered = errors.New("registry: plugin already registered")
	// ErrUnknownHandle is returned by Release for a handle the registry did
	// not issue.
	ErrUnknownHandle = errors.New("registry: unknown handle")
)

// Capabilities is the set of declared capabilities a constructor returns
// alongside a plugin instance. Only storage plugins populate ReadModes
// today; the field is generic so other kinds can grow capabilities without
// changing the contract.
type Capabilities struct {
	ReadModes []string
}

// Plugin is the minimum contract every loaded instance satisfies: a
// destructor the registry runs on Release, in load-reverse order.
type Plugin interface {
	Close() error
}

// Constructor builds one plugin instance from a configuration blob. Config
// shape is kind-specific and opaque to the registry.
type Constructor func(config map[string]any) (Plugin, Capabilities, error)

// Handle is an opaque reference to one loaded plugin instance.
type Handle struct {
	id   uint64
	kind Kind
	name string
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s#%d", h.kind, h.name, h.id)
}

type loadedEntry struct {
	handle Handle
	plugin Plugin
	config map[string]any
}

// Registry resolves plugin names to runnable instances.
type Registry struct {
	mu           sync.RWMutex
	constructors map[Kind]map[string]Constructor
	loaded       []loadedEntry // load order; released in reverse
	byHandle     map[uint64]int // handle id -> index into loaded (only valid entries)
	nextID       uint64
}

// New creates an empty Registry. Callers register built-in and plugin
// constructors with Register before calling Load.
func New() *Registry {
	return &Registry{
		constructors: make(map[Kind]map[string]Constructor),
		byHandle:     make(map[uint64]int),
	}
}

// Register adds a constructor for (kind, name). Intended to be called at
// process start for every built-in plugin and every dynamically discovered
// one; calling it twice for the same (kind, name) is a programmer error.
func (r *Registry) Register(kind Kind, name string, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.constructors[kind] == nil {
		r.constructors[kind] = make(map[string]Constructor)
	}
	if _, exists := r.constructors[kind][name]; exists {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyRegistered, kind, name)
	}
	r.constructors[kind][name] = ctor
	return nil
}

// Load resolves (kind, name), invokes its constructor with config, and
// returns a handle plus the plugin's declared capabilities. Unknown names
// and constructor errors are both start-time fatal — callers
// (the pipeline supervisor) are expected to abort startup on error.
func (r *Registry) Load(kind Kind, name string, config map[string]any) (Handle, Capabilities, error) {
	r.mu.Lock()
	ctor, ok := r.constructors[kind][name]
	r.mu.Unlock()

	if !ok {
		return Handle{}, Capabilities{}, fmt.Errorf("%w: %s/%s", ErrUnknownPlugin, kind, name)
	}

	plugin, caps, err := ctor(config)
	if err != nil {
		return Handle{}, Capabilities{}, fmt.Errorf("constructing %s/%s: %w", kind, name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h := Handle{id: r.nextID, kind: kind, name: name}
	r.loaded = append(r.loaded, loadedEntry{handle: h, plugin: plugin, config: config})
	r.byHandle[h.id] = len(r.loaded) - 1

	log.Debug().Str("kind", string(kind)).Str("name", name).Uint64("handle", h.id).Msg("plugin loaded")
	return h, caps, nil
}

// Instance returns the loaded plugin instance for a handle, type-asserted
// by the caller. Returns ErrUnknownHandle if the handle was already
// released or was never issued by this registry.
func (r *Registry) Instance(h Handle) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byHandle[h.id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return r.loaded[idx].plugin, nil
}

// Release runs the plugin's destructor and removes it from the registry.
// Release never fails: destructor errors are logged, not returned.
func (r *Registry) Release(h Handle) {
	r.mu.Lock()
	idx, ok := r.byHandle[h.id]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry := r.loaded[idx]
	delete(r.byHandle, h.id)
	r.mu.Unlock()

	if err := entry.plugin.Close(); err != nil {
		log.Warn().Str("handle", h.String()).Err(err).Msg("plugin destructor returned an error")
	}
}

// ReleaseAll releases every currently loaded plugin in load-reverse order,
// matching the pipeline supervisor's final shutdown step.
func (r *Registry) ReleaseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.loaded))
	for _, e := range r.loaded {
		if _, ok := r.byHandle[e.handle.id]; ok {
			handles = append(handles, e.handle)
		}
	}
	r.mu.RUnlock()

	for i := len(handles) - 1; i >= 0; i-- {
		r.Release(handles[i])
	}
}

// Loaded returns the number of currently loaded plugins, for diagnostics
// and tests.
func (r *Registry) Loaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}

// Reload rebuilds every currently loaded (kind, name) instance in place:
// its constructor is invoked again with the config it was originally
// loaded with, the new instance replaces the old one under the same
// handle, and only then is the old instance's destructor run. Used by the
// plugin hot-reload watcher when a plugin's backing artifact changes on
// disk; unlike Release+Load, the handle identity is preserved so any
// topic or processor already holding it keeps working unchanged.
func (r *Registry) Reload(kind Kind, name string) error {
	r.mu.Lock()
	ctor, ok := r.constructors[kind][name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrUnknownPlugin, kind, name)
	}

	type target struct {
		idx    int
		config map[string]any
	}
	var targets []target
	for i, e := range r.loaded {
		if e.handle.kind == kind && e.handle.name == name {
			if _, live := r.byHandle[e.handle.id]; live {
				targets = append(targets, target{idx: i, config: e.config})
			}
		}
	}
	r.mu.Unlock()

	for _, t := range targets {
		newPlugin, _, err := ctor(t.config)
		if err != nil {
			return fmt.Errorf("reloading %s/%s: %w", kind, name, err)
		}

		r.mu.Lock()
		old := r.loaded[t.idx].plugin
		r.loaded[t.idx].plugin = newPlugin
		r.mu.Unlock()

		if err := old.Close(); err != nil {
			log.Warn().Str("kind", string(kind)).Str("name", name).Err(err).Msg("plugin destructor returned an error during reload")
		}
		log.Info().Str("kind", string(kind)).Str("name", name).Msg("plugin reloaded")
	}
	return nil
}
