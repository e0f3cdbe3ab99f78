// Package session hosts one placement engine. A single goroutine (Run) owns the bus,
// the manager and the slot registry; transports only talk to it through channels.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"slotplan.ai/internal/bus"
	"slotplan.ai/internal/protocol"
	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/ghost"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/placement"
	"slotplan.ai/internal/sim/project"
	"slotplan.ai/internal/sim/slots"
	"slotplan.ai/internal/sim/tuning"
	"slotplan.ai/internal/sim/validate"
)

const (
	RoleRenderer = "renderer"
	RoleInput    = "input"
)

const refreshInterval = 100 * time.Millisecond

type JoinRequest struct {
	Name string
	Role string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	ClientID string
	Welcome  protocol.WelcomeMsg
}

type InputEnvelope struct {
	ClientID string
	Event    protocol.Event
}

type relayoutReq struct {
	slotCount int
	reserved  *layout.Region
	resp      chan relayoutResp
}

type call struct {
	fn   func()
	done chan struct{}
}

type relayoutResp struct {
	Generation uint64
	Slots      int
}

type Config struct {
	Tuning  tuning.Tuning
	Catalog *catalogs.Catalog
	// Surface defaults to a camera ray cast against the floor from the tuning camera.
	Surface project.SceneSurface
	Logger  *log.Logger
	// Restore is applied once, after the initial layout.
	Restore []slots.PlacedModule
}

type client struct {
	id   string
	name string
	role string
	out  chan []byte
}

type Session struct {
	id      string
	tune    tuning.Tuning
	catalog *catalogs.Catalog
	log     *log.Logger

	bus     *bus.Local
	manager *placement.Manager
	ghost   *ghost.Controller
	frame   layout.FrameGeometry
	params  layout.Params

	clients map[string]*client
	// current is the client whose input is being dispatched.
	current string

	inbox    chan InputEnvelope
	join     chan JoinRequest
	leave    chan string
	relayout chan relayoutReq
	calls    chan call
	stop     chan struct{}

	metrics atomic.Value
}

func New(cfg Config) (*Session, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("session: catalog required")
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	surface := cfg.Surface
	if surface == nil {
		surface = &project.RaySurface{Camera: cfg.Tuning.Camera.Project(), FloorY: cfg.Tuning.Rules.FloorY}
	}

	s := &Session{
		id:       uuid.NewString(),
		tune:     cfg.Tuning,
		catalog:  cfg.Catalog,
		log:      cfg.Logger,
		bus:      bus.NewLocal(),
		frame:    cfg.Tuning.FrameGeometry(),
		params:   cfg.Tuning.LayoutParams(),
		clients:  map[string]*client{},
		inbox:    make(chan InputEnvelope, cfg.Tuning.Session.InboxSize),
		join:     make(chan JoinRequest, 16),
		leave:    make(chan string, 16),
		relayout: make(chan relayoutReq, 1),
		calls:    make(chan call, 4),
		stop:     make(chan struct{}),
	}
	s.ghost = ghost.New(ghostFanout{s}, cfg.Tuning.GhostEnvelope())
	s.manager = placement.New(placement.Config{
		Bus:       s.bus,
		Catalog:   cfg.Catalog,
		Projector: project.New(surface),
		Ghost:     s.ghost,
		Validator: validate.New(cfg.Tuning.Rules.FloorY, cfg.Tuning.Rules.FloorTolerance),
		Logger:    cfg.Logger,
		OnReject:  s.rejected,
	})
	s.bus.SubscribeAll(s.broadcast)
	s.manager.ApplyLayout(s.params)
	s.manager.Attach()
	if skipped := s.manager.Restore(cfg.Restore); len(skipped) > 0 {
		s.log.Printf("session: restore skipped %d placements", len(skipped))
	}
	s.publishMetrics()
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Bus is for subscribers (journal, index) to attach before Run. Handlers run on the
// session goroutine.
func (s *Session) Bus() bus.Bus { return s.bus }

// Occupant reads the registry. It is only safe from a bus handler, which runs on the
// session goroutine.
func (s *Session) Occupant(slotID string) (slots.PlacedModule, bool) {
	sl, ok := s.manager.Registry().Slot(slotID)
	if !ok || sl.Occupant == nil {
		return slots.PlacedModule{}, false
	}
	return *sl.Occupant, true
}

func (s *Session) Inbox() chan<- InputEnvelope { return s.inbox }
func (s *Session) Join() chan<- JoinRequest     { return s.join }
func (s *Session) Leave() chan<- string         { return s.leave }

// Relayout regenerates the slots with a new count and reserved region. All placed
// modules are dropped. An out-of-range layout fails with tuning.ErrInvalidLayout.
func (s *Session) Relayout(ctx context.Context, slotCount int, reserved *layout.Region) (uint64, int, error) {
	if err := (tuning.Layout{SlotCount: slotCount, Reserved: reserved}).Validate(); err != nil {
		return 0, 0, err
	}
	req := relayoutReq{slotCount: slotCount, reserved: reserved, resp: make(chan relayoutResp, 1)}
	select {
	case s.relayout <- req:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r.Generation, r.Slots, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	defer s.manager.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.join:
			s.handleJoin(req)
		case id := <-s.leave:
			s.handleLeave(id)
		case req := <-s.relayout:
			s.handleRelayout(req)
		case c := <-s.calls:
			c.fn()
			close(c.done)
		case env := <-s.inbox:
			s.handleInput(env)
		case <-ticker.C:
			s.ghost.Refresh()
			s.publishMetrics()
		}
	}
}

func (s *Session) Stop() { close(s.stop) }

type View struct {
	Generation    uint64
	SlotCount     int
	Reserved      *layout.Region
	CatalogDigest string
	Placements    []slots.PlacedModule
}

func (s *Session) Snapshot(ctx context.Context) (View, error) {
	var v View
	c := call{fn: func() { v = s.View() }, done: make(chan struct{})}
	select {
	case s.calls <- c:
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case <-c.done:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// View reads the state directly. Use it before Run starts or after it has returned;
// while Run is active use Snapshot.
func (s *Session) View() View {
	reg := s.manager.Registry()
	return View{
		Generation:    reg.Generation(),
		SlotCount:     reg.Len(),
		Reserved:      s.tune.Layout.Reserved,
		CatalogDigest: s.catalog.Digest(),
		Placements:    reg.Occupants(),
	}
}

func (s *Session) handleJoin(req JoinRequest) {
	c := &client{id: uuid.NewString(), name: req.Name, role: req.Role, out: req.Out}
	if c.role == "" {
		c.role = RoleRenderer
	}
	s.clients[c.id] = c
	s.log.Printf("session: join %s name=%q role=%s", c.id, c.name, c.role)
	req.Resp <- JoinResponse{ClientID: c.id, Welcome: s.welcome()}
}

func (s *Session) handleLeave(id string) {
	if _, ok := s.clients[id]; !ok {
		return
	}
	delete(s.clients, id)
	s.log.Printf("session: leave %s", id)
}

func (s *Session) handleInput(env InputEnvelope) {
	if env.Event == nil {
		return
	}
	s.current = env.ClientID
	s.bus.Publish(env.Event)
	s.current = ""
}

func (s *Session) handleRelayout(req relayoutReq) {
	tune := s.tune
	tune.Layout.SlotCount = req.slotCount
	tune.Layout.Reserved = req.reserved
	s.params = tune.LayoutParams()
	s.tune = tune
	ls := s.manager.ApplyLayout(s.params)

	// Slot geometry changed: every client gets a fresh welcome.
	w := s.welcome()
	if b, err := json.Marshal(w); err == nil {
		for _, c := range s.clients {
			s.send(c, b)
		}
	}
	req.resp <- relayoutResp{Generation: w.Generation, Slots: len(ls)}
}

func (s *Session) welcome() protocol.WelcomeMsg {
	reg := s.manager.Registry()
	views := make([]protocol.SlotView, 0, reg.Len())
	for _, sl := range reg.Slots() {
		v := protocol.SlotView{
			ID:            sl.ID,
			Index:         sl.Index,
			Center:        sl.Center.ToArray(),
			Size:          sl.Size.Vec().ToArray(),
			BelowReserved: sl.BelowReservedRegion,
			Status:        protocol.SlotEmpty,
		}
		if sl.Occupant != nil {
			v.Status = protocol.SlotOccupied
			v.ModuleID = sl.Occupant.TemplateID
		}
		views = append(views, v)
	}
	frame, _ := json.Marshal(s.frame)
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       s.id,
		Generation:      reg.Generation(),
		Slots:           views,
		Frame:           frame,
		CatalogDigest:   s.catalog.Digest(),
		Modules:         TemplateDefs(s.catalog.Templates()),
	}
}

func (s *Session) broadcast(m bus.Message) {
	if len(s.clients) == 0 {
		return
	}
	b, err := json.Marshal(protocol.NewEventMsg(m.Seq, m.Event))
	if err != nil {
		s.log.Printf("session: encode %s: %v", m.Name(), err)
		return
	}
	for _, c := range s.clients {
		s.send(c, b)
	}
}

// send never blocks the session. A client whose buffer is full has fallen behind the
// event stream and is dropped; closing its channel ends its transport.
func (s *Session) send(c *client, b []byte) {
	select {
	case c.out <- b:
	default:
		s.log.Printf("session: client %s is too slow, dropping", c.id)
		delete(s.clients, c.id)
		close(c.out)
	}
}

func (s *Session) rejected(ev protocol.Event, err error) {
	c, ok := s.clients[s.current]
	if !ok {
		return
	}
	b, mErr := json.Marshal(protocol.NewErrorMsg(ErrorCode(err), fmt.Sprintf("%s: %v", ev.EventName(), err)))
	if mErr != nil {
		return
	}
	s.send(c, b)
}

func ErrorCode(err error) string {
	var occ *slots.OccupiedSlotError
	switch {
	case errors.As(err, &occ), errors.Is(err, catalogs.ErrDuplicateTemplate):
		return protocol.ErrConflict
	case errors.Is(err, placement.ErrUnknownModule):
		return protocol.ErrUnknownModule
	case errors.Is(err, slots.ErrUnknownSlot), errors.Is(err, placement.ErrEmptySlot), errors.Is(err, placement.ErrNoFit):
		return protocol.ErrInvalidTarget
	case errors.Is(err, placement.ErrBusy):
		return protocol.ErrBusy
	default:
		return protocol.ErrBadRequest
	}
}

func TemplateDefs(ts []catalogs.ModuleTemplate) []protocol.TemplateDef {
	out := make([]protocol.TemplateDef, 0, len(ts))
	for _, t := range ts {
		out = append(out, protocol.TemplateDef{
			ID:   t.ID,
			Name: t.Name,
			Size: t.Size.Vec().ToArray(),
			Rules: protocol.TemplateRules{
				RequiresFloorContact: t.Rules.RequiresFloorContact,
				Stackable:            t.Rules.Stackable,
			},
		})
	}
	return out
}

// ghostFanout draws the ghost on every renderer client. A Show that finds a full
// buffer is skipped since the next pointer move redraws; a Hide is always delivered.
type ghostFanout struct{ s *Session }

func (g ghostFanout) Show(f ghost.Frame) {
	b, err := json.Marshal(protocol.GhostMsg{
		Type:            protocol.TypeGhost,
		ProtocolVersion: protocol.Version,
		Visible:         true,
		Frame: &protocol.GhostFrame{
			TemplateID:   f.TemplateID,
			Position:     f.Position.ToArray(),
			Scale:        f.Scale.ToArray(),
			Size:         f.Size.Vec().ToArray(),
			Tint:         string(f.Tint),
			SlotID:       f.SlotID,
			VisualKind:   string(f.Visual.Kind),
			VisualDigest: f.Visual.Digest,
		},
	})
	if err != nil {
		return
	}
	for _, c := range g.s.clients {
		if c.role != RoleRenderer {
			continue
		}
		select {
		case c.out <- b:
		default:
		}
	}
}

func (g ghostFanout) Hide() {
	b, err := json.Marshal(protocol.GhostMsg{Type: protocol.TypeGhost, ProtocolVersion: protocol.Version})
	if err != nil {
		return
	}
	for _, c := range g.s.clients {
		if c.role == RoleRenderer {
			g.s.send(c, b)
		}
	}
}
