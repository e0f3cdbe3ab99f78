package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"slotplan.ai/internal/sim/geom"
)

var (
	ErrInvalidTemplate   = errors.New("invalid module template")
	ErrDuplicateTemplate = errors.New("module template already registered")
)

type Rules struct {
	RequiresFloorContact bool `json:"requires_floor_contact"`
	Stackable            bool `json:"stackable"`
}

// ModuleTemplate is a catalog entry. Size is the nominal size in millimetres.
type ModuleTemplate struct {
	ID    string    `json:"id"`
	Name  string    `json:"name,omitempty"`
	Size  geom.Size `json:"size"`
	Rules Rules     `json:"rules"`
	Model string    `json:"model,omitempty"`
}

func (t ModuleTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTemplate)
	}
	if !t.Size.Positive() {
		return fmt.Errorf("%w: %s has non-positive size", ErrInvalidTemplate, t.ID)
	}
	return nil
}

type Catalog struct {
	mu      sync.RWMutex
	byID    map[string]ModuleTemplate
	palette []string
	digest  string

	visuals *VisualCache
}

func New(visuals *VisualCache) *Catalog {
	if visuals == nil {
		visuals = NewVisualCache(nil, nil)
	}
	c := &Catalog{byID: map[string]ModuleTemplate{}, visuals: visuals}
	c.reindexLocked()
	return c
}

func Load(configDir string) (*Catalog, error) {
	path := filepath.Join(configDir, "modules.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []ModuleTemplate
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("modules.json: %w", err)
	}

	c := &Catalog{byID: map[string]ModuleTemplate{}}
	c.visuals = NewVisualCache(FileLoader(filepath.Join(configDir, "models"), c.modelFile), nil)
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("modules.json: %w", err)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("modules.json: duplicate id %s", d.ID)
		}
		c.byID[d.ID] = d
	}
	c.reindexLocked()
	return c, nil
}

// Register adds a template that appeared after startup. Registered templates are
// never replaced; placed modules and cached visuals depend on them.
func (c *Catalog) Register(t ModuleTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTemplate, t.ID)
	}
	c.byID[t.ID] = t
	c.reindexLocked()
	return nil
}

func (c *Catalog) modelFile(id string) string {
	t, _ := c.Template(id)
	return t.Model
}

func (c *Catalog) Template(id string) (ModuleTemplate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// Templates returns every template in palette (sorted id) order.
func (c *Catalog) Templates() []ModuleTemplate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModuleTemplate, 0, len(c.palette))
	for _, id := range c.palette {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Digest() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.digest
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// LoadVisual starts (or joins) the visual load for a module. It never blocks.
func (c *Catalog) LoadVisual(id string) *Pending { return c.visuals.Checkout(id) }

func (c *Catalog) reindexLocked() {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.palette = ids

	defs := make([]ModuleTemplate, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, c.byID[id])
	}
	b, _ := json.Marshal(defs)
	c.digest = sha256Hex(b)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
