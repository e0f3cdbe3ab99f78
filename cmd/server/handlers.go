package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"slotplan.ai/internal/persistence/indexdb"
	persistlog "slotplan.ai/internal/persistence/log"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/session"
	"slotplan.ai/internal/sim/tuning"
)

type handlers struct {
	sess    *session.Session
	index   *indexdb.SQLiteIndex
	journal *persistlog.Journal
	dataDir string
	log     *log.Logger
}

func (h *handlers) register(mux *http.ServeMux, cfg serverConfig) {
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/metrics", h.metrics)
	if cfg.adminEnabled() {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", h.state)
		mux.HandleFunc("/admin/v1/relayout", h.relayout)
		mux.HandleFunc("/admin/v1/snapshot", h.snapshot)
	} else {
		h.log.Printf("admin endpoints disabled (SLOTPLAN_ENABLE_ADMIN_HTTP=false)")
	}
	if cfg.EnablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}

func (h *handlers) healthz(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

func (h *handlers) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := h.sess.Metrics()
	id := h.sess.ID()

	// Minimal Prometheus exposition format.
	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{session=%q} %v\n", name, id, v)
	}
	gauge("slotplan_layout_generation", "Current slot layout generation.", m.Generation)
	gauge("slotplan_slots", "Slots in the current layout.", m.Slots)
	gauge("slotplan_slots_occupied", "Slots holding a placed module.", m.Occupied)
	gauge("slotplan_clients", "Connected clients.", m.Clients)

	fmt.Fprintf(rw, "# HELP slotplan_events_total Events published on the session bus.\n")
	fmt.Fprintf(rw, "# TYPE slotplan_events_total counter\n")
	fmt.Fprintf(rw, "slotplan_events_total{session=%q} %d\n", id, m.Events)

	fmt.Fprintf(rw, "# HELP slotplan_placement_state Current placement state (1 for the active state).\n")
	fmt.Fprintf(rw, "# TYPE slotplan_placement_state gauge\n")
	fmt.Fprintf(rw, "slotplan_placement_state{session=%q,state=%q} 1\n", id, m.State)

	fmt.Fprintf(rw, "# HELP slotplan_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE slotplan_queue_depth gauge\n")
	fmt.Fprintf(rw, "slotplan_queue_depth{session=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "slotplan_queue_depth{session=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "slotplan_queue_depth{session=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	if h.journal != nil {
		fmt.Fprintf(rw, "# HELP slotplan_journal_lines_total Entries written to the event journal.\n")
		fmt.Fprintf(rw, "# TYPE slotplan_journal_lines_total counter\n")
		fmt.Fprintf(rw, "slotplan_journal_lines_total{session=%q} %d\n", id, h.journal.Lines())
	}
	if h.index != nil {
		st := h.index.Stats()
		fmt.Fprintf(rw, "# HELP slotplan_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE slotplan_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "slotplan_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "# HELP slotplan_index_ops_total Index writer operations by outcome.\n")
		fmt.Fprintf(rw, "# TYPE slotplan_index_ops_total counter\n")
		fmt.Fprintf(rw, "slotplan_index_ops_total{outcome=%q} %d\n", "written", st.WrittenTotal)
		fmt.Fprintf(rw, "slotplan_index_ops_total{outcome=%q} %d\n", "dropped", st.DroppedTotal)
		fmt.Fprintf(rw, "slotplan_index_ops_total{outcome=%q} %d\n", "failed", st.FailedTotal)
	}
}

func (h *handlers) state(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		SessionID string           `json:"session_id"`
		Metrics   session.Metrics  `json:"metrics"`
		Index     *indexdb.Stats   `json:"index,omitempty"`
		Events    map[string]int64 `json:"events,omitempty"`
	}{
		SessionID: h.sess.ID(),
		Metrics:   h.sess.Metrics(),
	}
	if h.index != nil {
		st := h.index.Stats()
		resp.Index = &st
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if counts, err := h.index.EventCounts(ctx); err == nil {
			resp.Events = counts
		}
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

type relayoutRequest struct {
	SlotCount int            `json:"slot_count"`
	Reserved  *layout.Region `json:"reserved,omitempty"`
}

func (h *handlers) relayout(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	var req relayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(rw, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	gen, n, err := h.sess.Relayout(ctx, req.SlotCount, req.Reserved)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, tuning.ErrInvalidLayout) {
			status = http.StatusBadRequest
		}
		rw.WriteHeader(status)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	h.log.Printf("relayout: generation=%d slots=%d", gen, n)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "generation": gen, "slots": n})
}

func (h *handlers) snapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	rw.Header().Set("Content-Type", "application/json")
	v, err := h.sess.Snapshot(ctx)
	if err == nil {
		err = writeSnapshot(h.dataDir, h.sess.ID(), v)
	}
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "generation": v.Generation, "placed": len(v.Placements)})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
