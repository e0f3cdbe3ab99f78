package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"slotplan.ai/internal/bus"
	"slotplan.ai/internal/protocol"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/slots"
	"slotplan.ai/internal/sim/tuning"
)

type fakeRegistry map[string]slots.PlacedModule

func (r fakeRegistry) lookup(slotID string) (slots.PlacedModule, bool) {
	pm, ok := r[slotID]
	return pm, ok
}

func placed(id, tmpl, slotID string, x float64) slots.PlacedModule {
	return slots.PlacedModule{
		ID:         id,
		TemplateID: tmpl,
		SlotID:     slotID,
		Position:   geom.Vec3{X: x, Y: 100, Z: 300},
		ScaleX:     1.2,
		Size:       geom.Size{Width: 600, Height: 720, Depth: 550},
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func openTest(t *testing.T, path string, reg fakeRegistry) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(path, "session-1", reg.lookup)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return idx
}

func flush(t *testing.T, idx *SQLiteIndex) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestSQLiteIndex_TracksPlacements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	reg := fakeRegistry{}
	idx := openTest(t, path, reg)

	b := bus.NewLocal()
	b.SubscribeAll(idx.Handle)

	reg["slot-1"] = placed("pm-1", "BASE_600", "slot-1", -1500)
	b.Publish(protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-1", SlotIndex: 1})
	reg["slot-4"] = placed("pm-2", "BASE_500", "slot-4", 300)
	b.Publish(protocol.ModulePlaced{ModuleID: "BASE_500", SlotID: "slot-4", SlotIndex: 4})
	b.Publish(protocol.PointerMoved{X: 0.2})

	delete(reg, "slot-1")
	reg["slot-2"] = placed("pm-3", "BASE_600", "slot-2", -900)
	b.Publish(protocol.ModuleMoved{ModuleID: "BASE_600", FromSlotIndex: 1, ToSlotID: "slot-2", ToSlotIndex: 2})
	b.Publish(protocol.ModuleRemoved{SlotID: "slot-4", SlotIndex: 4})
	flush(t, idx)

	got, err := idx.Placements(context.Background())
	if err != nil {
		t.Fatalf("Placements: %v", err)
	}
	if diff := cmp.Diff([]slots.PlacedModule{reg["slot-2"]}, got); diff != "" {
		t.Fatalf("placements (-want +got):\n%s", diff)
	}

	counts, err := idx.EventCounts(context.Background())
	if err != nil {
		t.Fatalf("EventCounts: %v", err)
	}
	want := map[string]int64{
		protocol.EventModulePlaced:  2,
		protocol.EventModuleMoved:   1,
		protocol.EventModuleRemoved: 1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}
	if st := idx.Stats(); st.DroppedTotal != 0 || st.FailedTotal != 0 || st.WrittenTotal == 0 {
		t.Fatalf("stats = %+v", st)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Placements survive a restart.
	idx = openTest(t, path, reg)
	defer idx.Close()
	got, err = idx.Placements(context.Background())
	if err != nil || len(got) != 1 || got[0].ID != "pm-3" {
		t.Fatalf("reopened placements = %+v err=%v", got, err)
	}
}

func TestSQLiteIndex_LayoutAppliedClears(t *testing.T) {
	reg := fakeRegistry{"slot-0": placed("pm-1", "BASE_600", "slot-0", -2100)}
	idx := openTest(t, filepath.Join(t.TempDir(), "index.sqlite"), reg)
	defer idx.Close()

	idx.Handle(bus.Message{Seq: 1, Event: protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-0", SlotIndex: 0}})
	idx.Handle(bus.Message{Seq: 2, Event: protocol.LayoutApplied{Generation: 2, SlotCount: 4}})
	flush(t, idx)

	got, err := idx.Placements(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("placements = %+v err=%v", got, err)
	}
}

func TestSQLiteIndex_UnknownOccupantCountsFailure(t *testing.T) {
	idx := openTest(t, filepath.Join(t.TempDir(), "index.sqlite"), fakeRegistry{})
	defer idx.Close()

	idx.Handle(bus.Message{Seq: 1, Event: protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-9", SlotIndex: 9}})
	flush(t, idx)
	if st := idx.Stats(); st.FailedTotal != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSQLiteIndex_FreshnessTracksLossAndResync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	reg := fakeRegistry{"slot-2": placed("pm-1", "BASE_600", "slot-2", -900)}
	idx := openTest(t, path, reg)
	ctx := context.Background()

	f, err := idx.Freshness(ctx)
	if err != nil || !f.UpdatedAt.IsZero() || f.Lossy {
		t.Fatalf("fresh db: %+v err=%v", f, err)
	}

	idx.Handle(bus.Message{Seq: 1, Event: protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-2", SlotIndex: 2}})
	flush(t, idx)
	f, _ = idx.Freshness(ctx)
	if f.UpdatedAt.IsZero() || f.Lossy {
		t.Fatalf("after place: %+v", f)
	}

	// The occupant of slot-9 is unknown, so the table misses this placement.
	idx.Handle(bus.Message{Seq: 2, Event: protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-9", SlotIndex: 9}})
	flush(t, idx)
	if f, _ = idx.Freshness(ctx); !f.Lossy {
		t.Fatalf("loss not recorded: %+v", f)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx = openTest(t, path, reg)
	defer idx.Close()
	if f, _ = idx.Freshness(ctx); !f.Lossy {
		t.Fatalf("loss marker not persisted: %+v", f)
	}
	want := []slots.PlacedModule{placed("pm-7", "BASE_500", "slot-4", 300)}
	if err := idx.Resync(ctx, want); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if f, _ = idx.Freshness(ctx); f.Lossy {
		t.Fatalf("resync kept loss marker: %+v", f)
	}
	got, err := idx.Placements(ctx)
	if err != nil {
		t.Fatalf("Placements: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("placements (-want +got):\n%s", diff)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqClear}

	s.Handle(bus.Message{Seq: 2, Event: protocol.DragCancelled{}})
	s.Handle(bus.Message{Seq: 3, Event: protocol.ModuleRemoved{SlotID: "slot-1", SlotIndex: 1}})
	s.Handle(bus.Message{Seq: 4, Event: protocol.PointerMoved{}})

	st := s.Stats()
	// The removal queues an event row and a delete; pointer moves are never indexed.
	if st.DroppedTotal != 3 {
		t.Fatalf("DroppedTotal=%d want=3", st.DroppedTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_UpsertCatalog(t *testing.T) {
	idx := openTest(t, filepath.Join(t.TempDir(), "index.sqlite"), nil)
	defer idx.Close()

	ctx := context.Background()
	defs := []protocol.TemplateDef{{ID: "BASE_600", Size: [3]float64{600, 720, 550}}}
	if err := idx.UpsertCatalog(ctx, "abc123", defs, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalog: %v", err)
	}
	if d, err := idx.CatalogDigest(ctx, "modules"); err != nil || d != "abc123" {
		t.Fatalf("modules digest=%q err=%v", d, err)
	}
	if d, err := idx.CatalogDigest(ctx, "tuning"); err != nil || len(d) != 64 {
		t.Fatalf("tuning digest=%q err=%v", d, err)
	}
	if d, err := idx.CatalogDigest(ctx, "missing"); err != nil || d != "" {
		t.Fatalf("missing digest=%q err=%v", d, err)
	}
}
