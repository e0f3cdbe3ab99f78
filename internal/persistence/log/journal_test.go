package log

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"slotplan.ai/internal/bus"
	"slotplan.ai/internal/protocol"
)

func TestJournal_RecordsAndRotates(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, "session-1", nil)
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	j.w.now = func() time.Time { return now }

	b := bus.NewLocal()
	b.SubscribeAll(j.Handle)
	b.Publish(protocol.PointerMoved{X: 0.1})
	b.Publish(protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-2", SlotIndex: 2, Position: [3]float64{-900, 100, 300}})
	b.Publish(protocol.UpdateSlotStatus{SlotIndex: 2, Status: protocol.SlotOccupied})
	now = now.Add(2 * time.Minute)
	b.Publish(protocol.ModuleRemoved{SlotID: "slot-2", SlotIndex: 2})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if j.Errors() != 0 || j.Lines() != 3 {
		t.Fatalf("errors=%d lines=%d", j.Errors(), j.Lines())
	}

	files, err := Files(j.Dir())
	if err != nil || len(files) != 2 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	if filepath.Base(files[0]) != "events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("first file %s", files[0])
	}

	var seqs []uint64
	var events []protocol.Event
	if err := ReadDir(j.Dir(), func(e Entry) error {
		if e.Session != "session-1" {
			t.Fatalf("session=%q", e.Session)
		}
		ev, err := e.Decode()
		if err != nil {
			return err
		}
		seqs = append(seqs, e.Seq)
		events = append(events, ev)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]uint64{2, 3, 4}, seqs); diff != "" {
		t.Fatalf("seqs (-want +got):\n%s", diff)
	}
	want := []protocol.Event{
		protocol.ModulePlaced{ModuleID: "BASE_600", SlotID: "slot-2", SlotIndex: 2, Position: [3]float64{-900, 100, 300}},
		protocol.UpdateSlotStatus{SlotIndex: 2, Status: protocol.SlotOccupied},
		protocol.ModuleRemoved{SlotID: "slot-2", SlotIndex: 2},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

func TestJSONLZstdWriter_ReopenAppendsFrame(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		w := NewJSONLZstdWriter(dir, "events")
		w.now = func() time.Time { return at }
		if err := w.Write(Entry{Seq: uint64(i + 1), Event: protocol.EventDragCancelled}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, _ := Files(dir)
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	n := 0
	if err := ReadFile(files[0], func(Entry) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries=%d want 2", n)
	}
}

func TestJournal_UnflushedWriterIsReadable(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, "s", nil)
	j.Handle(bus.Message{Seq: 7, Event: protocol.DragCancelled{}})
	defer j.Close()

	n := 0
	if err := ReadDir(j.Dir(), func(e Entry) error {
		n++
		if e.Seq != 7 || e.Event != protocol.EventDragCancelled {
			t.Fatalf("entry=%+v", e)
		}
		return nil
	}); err != nil {
		t.Fatalf("read open journal: %v", err)
	}
	if n != 1 {
		t.Fatalf("entries=%d", n)
	}
}
