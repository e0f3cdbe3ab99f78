package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slotplan.ai/internal/persistence/indexdb"
	"slotplan.ai/internal/persistence/snapshot"
	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/session"
	"slotplan.ai/internal/sim/tuning"
)

func newTestHandlers(t *testing.T) (*handlers, *http.ServeMux) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	cat := catalogs.New(catalogs.NewVisualCache(func(id string) (*catalogs.Visual, error) {
		return catalogs.DefaultBox(id), nil
	}, logger))
	if err := cat.Register(catalogs.ModuleTemplate{ID: "BASE_600", Size: geom.Size{Width: 600, Height: 720, Depth: 550}}); err != nil {
		t.Fatal(err)
	}
	sess, err := session.New(session.Config{Tuning: tuning.Defaults(), Catalog: cat, Logger: logger})
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = sess.Run(ctx) }()

	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"), sess.ID(), sess.Occupant)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	h := &handlers{sess: sess, index: idx, dataDir: t.TempDir(), log: logger}
	mux := http.NewServeMux()
	h.register(mux, serverConfig{})
	return h, mux
}

func TestMetrics(t *testing.T) {
	_, mux := newTestHandlers(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"slotplan_slots{session=",
		"} 8\n",
		`slotplan_placement_state{session=`,
		`state="idle"`,
		`slotplan_index_ops_total{outcome="dropped"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestRelayout_LoopbackOnly(t *testing.T) {
	h, mux := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/relayout", strings.NewReader(`{"slot_count":4}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote relayout code = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/v1/relayout", strings.NewReader(`{"slot_count":4,"reserved":{"start":0,"end":600,"drop":400}}`))
	req.RemoteAddr = "127.0.0.1:5555"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OK         bool   `json:"ok"`
		Generation uint64 `json:"generation"`
		Slots      int    `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Generation != 2 || resp.Slots != 4 {
		t.Fatalf("resp = %+v", resp)
	}

	for _, body := range []string{
		`{"slot_count":-1}`,
		`{"slot_count":1000000000}`,
		`{"slot_count":4,"reserved":{"start":600,"end":0}}`,
		`{"slot_count":4,"reserved":{"start":0,"end":600,"drop":-5}}`,
	} {
		req = httptest.NewRequest(http.MethodPost, "/admin/v1/relayout", strings.NewReader(body))
		req.RemoteAddr = "127.0.0.1:5555"
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: code = %d", body, rec.Code)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := h.sess.Snapshot(ctx)
	if err != nil || v.Generation != 2 || v.SlotCount != 4 {
		t.Fatalf("rejected relayout changed the layout: %+v err=%v", v, err)
	}
}

func TestState(t *testing.T) {
	h, mux := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "[::1]:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var resp struct {
		SessionID string          `json:"session_id"`
		Metrics   session.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	if resp.SessionID != h.sess.ID() || resp.Metrics.Slots != 8 {
		t.Fatalf("state = %+v", resp)
	}
}

func TestServerConfig_AdminDefaults(t *testing.T) {
	cases := []struct {
		cfg  serverConfig
		want bool
	}{
		{serverConfig{}, true},
		{serverConfig{DeployEnv: "production"}, false},
		{serverConfig{DeployEnv: "production", EnableAdminHTTP: "true"}, true},
		{serverConfig{EnableAdminHTTP: "off"}, false},
	}
	for _, c := range cases {
		if got := c.cfg.adminEnabled(); got != c.want {
			t.Fatalf("%+v: adminEnabled = %v", c.cfg, got)
		}
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("SLOTPLAN_ADDR", ":9999")
	t.Setenv("SLOTPLAN_INDEX_BACKEND", "none")
	var cfg serverConfig
	if err := parseEnv(&cfg); err != nil {
		t.Fatalf("parseEnv: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.IndexBackend != "none" || cfg.ConfigDir != "./configs" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	h, mux := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/snapshot", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body=%s", rec.Code, rec.Body.String())
	}

	path, err := snapshot.Latest(snapshotDir(h.dataDir))
	if err != nil || path == "" {
		t.Fatalf("latest = %q err=%v", path, err)
	}
	hdr, err := snapshot.ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if hdr.SessionID != h.sess.ID() || hdr.SlotCount != 8 || hdr.Placed != 0 {
		t.Fatalf("header = %+v", hdr)
	}
}
