package catalogs

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

type VisualKind string

const (
	VisualModel VisualKind = "MODEL"
	VisualBox   VisualKind = "BOX"
)

type Visual struct {
	ModuleID string     `json:"module_id"`
	Kind     VisualKind `json:"kind"`
	Digest   string     `json:"digest,omitempty"`

	mu       sync.Mutex
	data     []byte
	disposed bool
}

func NewModelVisual(moduleID string, data []byte) *Visual {
	return &Visual{ModuleID: moduleID, Kind: VisualModel, Digest: sha256Hex(data), data: data}
}

func DefaultBox(moduleID string) *Visual {
	return &Visual{ModuleID: moduleID, Kind: VisualBox}
}

func (v *Visual) Data() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.data
}

// Dispose drops the owned model bytes. Safe to call more than once.
func (v *Visual) Dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.data = nil
	v.disposed = true
}

func (v *Visual) Disposed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disposed
}

type Loader func(moduleID string) (*Visual, error)

// FileLoader reads the model file that model names for a module, relative to dir.
// A nil model, or an empty name, reads <dir>/<id>.glb.
func FileLoader(dir string, model func(moduleID string) string) Loader {
	return func(moduleID string) (*Visual, error) {
		name := moduleID + ".glb"
		if model != nil {
			if m := model(moduleID); m != "" {
				name = m
			}
		}
		if !filepath.IsLocal(name) {
			return nil, fmt.Errorf("model path %q escapes %s", name, dir)
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		return NewModelVisual(moduleID, b), nil
	}
}

// VisualCache owns loaded visuals keyed by module id. Callers check out handles and
// release them; Clear disposes every owned visual regardless of outstanding handles.
type VisualCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	loader  Loader
	log     *log.Logger
}

type cacheEntry struct {
	ready  chan struct{}
	visual *Visual
	err    error
	refs   int
	gone   bool
}

func NewVisualCache(loader Loader, logger *log.Logger) *VisualCache {
	if loader == nil {
		loader = func(id string) (*Visual, error) { return nil, fmt.Errorf("no loader for %s", id) }
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[visuals] ", log.LstdFlags)
	}
	return &VisualCache{entries: map[string]*cacheEntry{}, loader: loader, log: logger}
}

func (c *VisualCache) Checkout(moduleID string) *Pending {
	c.mu.Lock()
	e, ok := c.entries[moduleID]
	if !ok {
		e = &cacheEntry{ready: make(chan struct{})}
		c.entries[moduleID] = e
		go c.load(moduleID, e)
	}
	c.mu.Unlock()
	return &Pending{cache: c, id: moduleID, entry: e}
}

func (c *VisualCache) load(moduleID string, e *cacheEntry) {
	v, err := c.loader(moduleID)
	if err != nil || v == nil {
		if err != nil {
			c.log.Printf("visual %s: %v (using default box)", moduleID, err)
		}
		v = DefaultBox(moduleID)
	}

	c.mu.Lock()
	e.visual = v
	e.err = err
	gone := e.gone
	c.mu.Unlock()

	if gone {
		v.Dispose()
	}
	close(e.ready)
}

func (c *VisualCache) acquire(moduleID string, e *cacheEntry) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.gone {
		return &Handle{Visual: DefaultBox(moduleID)}
	}
	e.refs++
	return &Handle{Visual: e.visual, cache: c, entry: e}
}

func (c *VisualCache) release(e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.refs > 0 {
		e.refs--
	}
}

func (c *VisualCache) Refs(moduleID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[moduleID]; ok {
		return e.refs
	}
	return 0
}

func (c *VisualCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear disposes every loaded visual and forgets all entries. Loads still in flight
// dispose their result when they finish. It returns the number of entries dropped.
func (c *VisualCache) Clear() int {
	c.mu.Lock()
	entries := c.entries
	c.entries = map[string]*cacheEntry{}
	var loaded []*Visual
	for _, e := range entries {
		e.gone = true
		if e.visual != nil {
			loaded = append(loaded, e.visual)
		}
	}
	c.mu.Unlock()

	for _, v := range loaded {
		v.Dispose()
	}
	return len(entries)
}

type Pending struct {
	cache *VisualCache
	id    string
	entry *cacheEntry

	once   sync.Once
	handle *Handle
}

func (p *Pending) ModuleID() string { return p.id }

// Ready returns the handle once the load has finished. It never blocks; the first
// successful call takes the reference.
func (p *Pending) Ready() (*Handle, bool) {
	if p == nil {
		return nil, false
	}
	select {
	case <-p.entry.ready:
	default:
		return nil, false
	}
	p.once.Do(func() { p.handle = p.cache.acquire(p.id, p.entry) })
	return p.handle, true
}

func (p *Pending) Wait(ctx context.Context) (*Handle, error) {
	select {
	case <-p.entry.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h, _ := p.Ready()
	return h, nil
}

func (p *Pending) Release() {
	if p == nil {
		return
	}
	if p.handle != nil {
		p.handle.Release()
	}
}

type Handle struct {
	Visual *Visual

	cache    *VisualCache
	entry    *cacheEntry
	released bool
}

// Release returns the handle to the cache. Calling it twice is a no-op.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	h.released = true
	if h.cache != nil {
		h.cache.release(h.entry)
	}
}
