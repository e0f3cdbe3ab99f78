package bus

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"slotplan.ai/internal/protocol"
)

func TestLocal_FIFOWithReentrantPublish(t *testing.T) {
	b := NewLocal()
	var order []string
	b.Subscribe(protocol.EventSlotClicked, func(m Message) {
		order = append(order, "clicked")
		b.Publish(protocol.SlotHovered{SlotID: "slot-1", IsHovered: true})
		order = append(order, "clicked-done")
	})
	b.Subscribe(protocol.EventSlotHovered, func(m Message) {
		order = append(order, "hovered")
	})
	rec := &Recorder{}
	b.SubscribeAll(rec.Handle)

	b.Publish(protocol.SlotClicked{SlotID: "slot-1", SlotIndex: 1})

	want := []string{"clicked", "clicked-done", "hovered"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
	msgs := rec.Messages()
	if len(msgs) != 2 || msgs[0].Seq != 1 || msgs[1].Seq != 2 {
		t.Fatalf("recorded = %+v", msgs)
	}
	if b.Seq() != 2 {
		t.Fatalf("seq=%d", b.Seq())
	}
}

func TestLocal_Unsubscribe(t *testing.T) {
	b := NewLocal()
	n := 0
	unsub := b.Subscribe(protocol.EventModuleRemoved, func(Message) { n++ })
	b.Publish(protocol.ModuleRemoved{SlotID: "slot-0"})
	unsub()
	b.Publish(protocol.ModuleRemoved{SlotID: "slot-0"})
	if n != 1 {
		t.Fatalf("handler calls=%d want=1", n)
	}
	b.Publish(nil)
	if b.Seq() != 2 {
		t.Fatalf("nil publish must be ignored")
	}
}
