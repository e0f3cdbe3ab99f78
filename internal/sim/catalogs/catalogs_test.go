package catalogs

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slotplan.ai/internal/sim/geom"
)

const modulesJSON = `[
  {"id":"BASE_600","name":"Base 600","size":{"width":600,"height":720,"depth":550},"rules":{"requires_floor_contact":true}},
  {"id":"WALL_400","size":{"width":400,"height":720,"depth":320},"rules":{"stackable":true}}
]`

func writeConfig(t *testing.T, modules string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "modules.json"), []byte(modules), 0o644); err != nil {
		t.Fatalf("write modules.json: %v", err)
	}
	return dir
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, modulesJSON))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d want=2", c.Len())
	}
	base, ok := c.Template("BASE_600")
	if !ok || !base.Rules.RequiresFloorContact || base.Size.Width != 600 {
		t.Fatalf("BASE_600 = %+v ok=%v", base, ok)
	}
	if got := c.Templates(); got[0].ID != "BASE_600" || got[1].ID != "WALL_400" {
		t.Fatalf("palette order: %+v", got)
	}
	if c.Digest() == "" {
		t.Fatalf("missing digest")
	}
}

func TestLoadRejectsBadTemplates(t *testing.T) {
	for _, raw := range []string{
		`[{"id":"","size":{"width":1,"height":1,"depth":1}}]`,
		`[{"id":"X","size":{"width":0,"height":1,"depth":1}}]`,
		`[{"id":"X","size":{"width":1,"height":1,"depth":1}},{"id":"X","size":{"width":1,"height":1,"depth":1}}]`,
		`{`,
	} {
		if _, err := Load(writeConfig(t, raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestRegisterChangesDigest(t *testing.T) {
	c := New(nil)
	before := c.Digest()
	err := c.Register(ModuleTemplate{ID: "TALL", Size: geom.Size{Width: 600, Height: 2000, Depth: 580}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if c.Digest() == before {
		t.Fatalf("digest unchanged after register")
	}
	if _, ok := c.Template("TALL"); !ok {
		t.Fatalf("registered template missing")
	}
	if err := c.Register(ModuleTemplate{ID: "BAD"}); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("err=%v want ErrInvalidTemplate", err)
	}
}

func TestRegisterKeepsExistingTemplate(t *testing.T) {
	c := New(nil)
	orig := ModuleTemplate{ID: "BASE_600", Size: geom.Size{Width: 600, Height: 720, Depth: 550}}
	if err := c.Register(orig); err != nil {
		t.Fatalf("Register: %v", err)
	}
	digest := c.Digest()
	err := c.Register(ModuleTemplate{ID: "BASE_600", Size: geom.Size{Width: 900, Height: 720, Depth: 550}})
	if !errors.Is(err, ErrDuplicateTemplate) {
		t.Fatalf("err=%v want ErrDuplicateTemplate", err)
	}
	got, _ := c.Template("BASE_600")
	if got != orig || c.Digest() != digest {
		t.Fatalf("template replaced: %+v", got)
	}
}

func quietCache(loader Loader) *VisualCache {
	return NewVisualCache(loader, log.New(io.Discard, "", 0))
}

func waitHandle(t *testing.T, p *Pending) *Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := p.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return h
}

func TestVisualCache_SharesLoadsAndCountsRefs(t *testing.T) {
	calls := 0
	release := make(chan struct{})
	c := quietCache(func(id string) (*Visual, error) {
		calls++
		<-release
		return NewModelVisual(id, []byte("glb")), nil
	})

	p1 := c.Checkout("BASE_600")
	p2 := c.Checkout("BASE_600")
	if _, ok := p1.Ready(); ok {
		t.Fatalf("ready before load finished")
	}
	close(release)

	h1 := waitHandle(t, p1)
	h2 := waitHandle(t, p2)
	if h1.Visual != h2.Visual || h1.Visual.Kind != VisualModel {
		t.Fatalf("expected one shared model visual")
	}
	if calls != 1 {
		t.Fatalf("loader calls=%d want=1", calls)
	}
	if got := c.Refs("BASE_600"); got != 2 {
		t.Fatalf("refs=%d want=2", got)
	}
	h1.Release()
	h1.Release()
	if got := c.Refs("BASE_600"); got != 1 {
		t.Fatalf("refs after release=%d want=1", got)
	}
}

func TestVisualCache_FallsBackToBox(t *testing.T) {
	c := quietCache(FileLoader(t.TempDir(), nil))
	h := waitHandle(t, c.Checkout("MISSING"))
	if h.Visual.Kind != VisualBox || h.Visual.ModuleID != "MISSING" {
		t.Fatalf("visual = %+v", h.Visual)
	}
}

func TestVisualCache_ClearDisposes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "BASE_600.glb"), []byte("mesh"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := quietCache(FileLoader(dir, nil))
	h := waitHandle(t, c.Checkout("BASE_600"))
	if string(h.Visual.Data()) != "mesh" {
		t.Fatalf("data=%q", h.Visual.Data())
	}
	if n := c.Clear(); n != 1 {
		t.Fatalf("cleared=%d want=1", n)
	}
	if !h.Visual.Disposed() || h.Visual.Data() != nil {
		t.Fatalf("visual not disposed on Clear")
	}
	if c.Len() != 0 {
		t.Fatalf("cache not empty")
	}
	h.Release()
}

func TestLoad_VisualUsesModelFile(t *testing.T) {
	dir := writeConfig(t, `[
  {"id":"BASE_600","size":{"width":600,"height":720,"depth":550},"model":"carcass/base.glb"},
  {"id":"BASE_500","size":{"width":500,"height":720,"depth":550}},
  {"id":"ESCAPE","size":{"width":500,"height":720,"depth":550},"model":"../secret.glb"}
]`)
	models := filepath.Join(dir, "models")
	if err := os.MkdirAll(filepath.Join(models, "carcass"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, data := range map[string]string{"carcass/base.glb": "shared", "BASE_500.glb": "own"} {
		if err := os.WriteFile(filepath.Join(models, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.glb"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	for id, want := range map[string]string{"BASE_600": "shared", "BASE_500": "own"} {
		h := waitHandle(t, c.LoadVisual(id))
		if h.Visual.Kind != VisualModel || string(h.Visual.Data()) != want {
			t.Fatalf("%s visual = %+v data=%q", id, h.Visual, h.Visual.Data())
		}
		h.Release()
	}
	if h := waitHandle(t, c.LoadVisual("ESCAPE")); h.Visual.Kind != VisualBox {
		t.Fatalf("model outside models/ was read: %+v", h.Visual)
	}
}
