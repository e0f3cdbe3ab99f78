package main

import (
	"fmt"
	"sort"

	persistlog "slotplan.ai/internal/persistence/log"
	"slotplan.ai/internal/protocol"
)

// checker replays occupancy from the journal. A slot's reported status must agree
// with the modules placed in it once the status update for that slot has arrived.
type checker struct {
	resetOnSession bool

	session string
	lastSeq uint64

	placed   map[int]string // slot index -> template id
	status   map[int]protocol.SlotStatus
	pending  map[int]bool
	entries  int
	sessions int
}

func newChecker() *checker {
	c := &checker{}
	c.reset()
	return c
}

func (c *checker) reset() {
	c.placed = map[int]string{}
	c.status = map[int]protocol.SlotStatus{}
	c.pending = map[int]bool{}
}

func (c *checker) apply(e persistlog.Entry) error {
	if e.Session != c.session {
		if len(c.pending) > 0 {
			return fmt.Errorf("session %s ended with unconfirmed slots %v", c.session, keys(c.pending))
		}
		c.session = e.Session
		c.lastSeq = 0
		c.sessions++
		if c.resetOnSession {
			c.reset()
		}
	}
	if e.Seq <= c.lastSeq {
		return fmt.Errorf("seq went backwards (%d after %d)", e.Seq, c.lastSeq)
	}
	c.lastSeq = e.Seq
	c.entries++

	ev, err := e.Decode()
	if err != nil {
		return err
	}
	switch ev := ev.(type) {
	case protocol.LayoutApplied:
		c.reset()
	case protocol.ModulePlaced:
		if occ, ok := c.placed[ev.SlotIndex]; ok {
			return fmt.Errorf("%s placed into slot %d already holding %s", ev.ModuleID, ev.SlotIndex, occ)
		}
		c.placed[ev.SlotIndex] = ev.ModuleID
		c.pending[ev.SlotIndex] = true
	case protocol.ModuleMoved:
		if _, ok := c.placed[ev.FromSlotIndex]; !ok {
			return fmt.Errorf("%s moved out of empty slot %d", ev.ModuleID, ev.FromSlotIndex)
		}
		if occ, ok := c.placed[ev.ToSlotIndex]; ok {
			return fmt.Errorf("%s moved into slot %d already holding %s", ev.ModuleID, ev.ToSlotIndex, occ)
		}
		delete(c.placed, ev.FromSlotIndex)
		c.placed[ev.ToSlotIndex] = ev.ModuleID
		c.pending[ev.FromSlotIndex] = true
		c.pending[ev.ToSlotIndex] = true
	case protocol.ModuleRemoved:
		if _, ok := c.placed[ev.SlotIndex]; !ok {
			return fmt.Errorf("removal from empty slot %d", ev.SlotIndex)
		}
		delete(c.placed, ev.SlotIndex)
		c.pending[ev.SlotIndex] = true
	case protocol.UpdateSlotStatus:
		c.status[ev.SlotIndex] = ev.Status
		delete(c.pending, ev.SlotIndex)
	}
	return c.verify()
}

func (c *checker) verify() error {
	for idx, st := range c.status {
		if c.pending[idx] {
			continue
		}
		_, has := c.placed[idx]
		if has != (st == protocol.SlotOccupied) {
			return fmt.Errorf("slot %d reports %s but placed=%v", idx, st, has)
		}
	}
	for idx := range c.placed {
		if c.pending[idx] {
			continue
		}
		if c.status[idx] != protocol.SlotOccupied {
			return fmt.Errorf("slot %d holds %s but reports %q", idx, c.placed[idx], c.status[idx])
		}
	}
	return nil
}

func (c *checker) finish() error {
	if len(c.pending) > 0 {
		return fmt.Errorf("journal ends with unconfirmed slots %v", keys(c.pending))
	}
	return nil
}

func keys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
