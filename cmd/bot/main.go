package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"slotplan.ai/internal/protocol"
)

// bot is a scripted input client: it fills empty slots by click-to-place and, with
// -churn, removes and re-places modules until interrupted.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		every = flag.Duration("every", 2*time.Second, "delay between actions")
		churn = flag.Bool("churn", false, "keep removing and re-placing modules")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Role:            "input",
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	b := &bot{conn: conn, log: logger, rng: rand.New(rand.NewSource(*seed)), occupied: map[int]bool{}}
	msgs := make(chan []byte, 64)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(*every)
	defer tick.Stop()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Printf("connection closed")
				return
			}
			b.handle(msg)
		case <-tick.C:
			if !b.act(*churn) {
				logger.Printf("layout full")
				if !*churn {
					return
				}
			}
		}
	}
}

type bot struct {
	conn *websocket.Conn
	log  *log.Logger
	rng  *rand.Rand

	slots    []protocol.SlotView
	modules  []protocol.TemplateDef
	occupied map[int]bool
}

func (b *bot) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		b.slots = w.Slots
		b.modules = w.Modules
		b.occupied = map[int]bool{}
		for _, s := range w.Slots {
			if s.Status == protocol.SlotOccupied {
				b.occupied[s.Index] = true
			}
		}
		b.log.Printf("WELCOME session=%s generation=%d slots=%d modules=%d", w.SessionID, w.Generation, len(w.Slots), len(w.Modules))

	case protocol.TypeEvent:
		var m struct {
			Seq     uint64          `json:"seq"`
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		ev, err := protocol.DecodeEvent(m.Event, m.Payload)
		if err != nil {
			return
		}
		if st, ok := ev.(protocol.UpdateSlotStatus); ok {
			b.occupied[st.SlotIndex] = st.Status == protocol.SlotOccupied
		}
		if m.Event != protocol.EventSlotHovered {
			b.log.Printf("EVENT #%d %s %s", m.Seq, m.Event, m.Payload)
		}

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err == nil {
			b.log.Printf("ERROR %s: %s", e.Code, e.Message)
		}
	}
}

func (b *bot) act(churn bool) bool {
	if len(b.modules) == 0 {
		return false
	}
	var empty, full []protocol.SlotView
	for _, s := range b.slots {
		if b.occupied[s.Index] {
			full = append(full, s)
		} else {
			empty = append(empty, s)
		}
	}
	if len(empty) == 0 {
		if !churn || len(full) == 0 {
			return false
		}
		s := full[b.rng.Intn(len(full))]
		b.send(protocol.RemoveRequested{SlotID: s.ID})
		return true
	}
	s := empty[b.rng.Intn(len(empty))]
	m := b.modules[b.rng.Intn(len(b.modules))]
	b.send(protocol.ModuleSelected{ModuleID: m.ID})
	b.send(protocol.SlotClicked{SlotID: s.ID, SlotIndex: s.Index})
	return true
}

func (b *bot) send(ev protocol.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	in := protocol.InputMsg{
		Type:            protocol.TypeInput,
		ProtocolVersion: protocol.Version,
		Event:           ev.EventName(),
		Payload:         payload,
	}
	if err := b.conn.WriteJSON(in); err != nil {
		b.log.Printf("send %s: %v", ev.EventName(), err)
	}
}
