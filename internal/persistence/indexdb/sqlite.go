// Package indexdb keeps a queryable SQLite read model of the placement event stream:
// the current placement per slot, a row per journaled event and the catalog in use.
// The journal stays the source of truth; the index may drop events when it falls
// behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"slotplan.ai/internal/bus"
	"slotplan.ai/internal/protocol"
	"slotplan.ai/internal/sim/slots"
	"slotplan.ai/internal/sim/tuning"
)

const (
	defaultQueue = 4096
	commitEvery  = 500
)

// Lookup returns the module occupying a slot at the moment an event is handled.
type Lookup func(slotID string) (slots.PlacedModule, bool)

type SQLiteIndex struct {
	db      *sql.DB
	session string
	lookup  Lookup

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	// lossSeen is dropped+failed as of the last time the loss was recorded in meta.
	lossSeen atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqUpsert
	reqDeleteSlot
	reqDeleteIndex
	reqClear
	reqFlush
)

type req struct {
	kind reqKind

	event     eventRow
	placement slots.PlacedModule
	slotIndex int
	slotID    string
	done      chan struct{}
}

type eventRow struct {
	Seq     uint64
	Name    string
	Payload []byte
	At      time.Time
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	WrittenTotal  uint64
	DroppedTotal  uint64
	FailedTotal   uint64
}

// Freshness says how far the placements table can be trusted. Lossy is set once an
// operation was dropped or failed and stays set until the next Resync.
type Freshness struct {
	UpdatedAt time.Time
	Lossy     bool
}

// OpenSQLite opens (or creates) the index at path. lookup resolves the occupant of a
// slot named by ModulePlaced and ModuleMoved events; it may be nil in read-only use.
func OpenSQLite(path, sessionID string, lookup Lookup) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &SQLiteIndex{
		db:      db,
		session: sessionID,
		lookup:  lookup,
		ch:      make(chan req, defaultQueue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA temp_store=MEMORY;`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", s, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			session TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			payload TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (session, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(name);`,
		`CREATE TABLE IF NOT EXISTS placements (
			slot_id TEXT PRIMARY KEY,
			slot_index INTEGER NOT NULL,
			module_id TEXT NOT NULL,
			template_id TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			scale_x REAL NOT NULL,
			width REAL NOT NULL,
			height REAL NOT NULL,
			depth REAL NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_placements_slot_index ON placements(slot_index);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Handle is a bus.Handler. It never blocks: when the queue is full the event is
// dropped and counted.
func (s *SQLiteIndex) Handle(m bus.Message) {
	if s == nil || s.closed.Load() {
		return
	}
	name := m.Name()
	if name == protocol.EventPointerMoved {
		return
	}
	payload, err := json.Marshal(m.Event)
	if err != nil {
		s.failed.Add(1)
		return
	}
	s.enqueue(req{kind: reqEvent, event: eventRow{
		Seq:     m.Seq,
		Name:    name,
		Payload: payload,
		At:      time.Now().UTC(),
	}})

	switch ev := m.Event.(type) {
	case protocol.ModulePlaced:
		s.upsert(ev.SlotID, ev.SlotIndex)
	case protocol.ModuleMoved:
		s.enqueue(req{kind: reqDeleteIndex, slotIndex: ev.FromSlotIndex})
		s.upsert(ev.ToSlotID, ev.ToSlotIndex)
	case protocol.ModuleRemoved:
		s.enqueue(req{kind: reqDeleteSlot, slotID: ev.SlotID})
	case protocol.LayoutApplied:
		s.enqueue(req{kind: reqClear})
	}
}

func (s *SQLiteIndex) upsert(slotID string, slotIndex int) {
	if s.lookup == nil {
		return
	}
	pm, ok := s.lookup(slotID)
	if !ok {
		s.failed.Add(1)
		return
	}
	s.enqueue(req{kind: reqUpsert, placement: pm, slotIndex: slotIndex})
}

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Flush waits until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		WrittenTotal:  s.written.Load(),
		DroppedTotal:  s.dropped.Load(),
		FailedTotal:   s.failed.Load(),
	}
}

func (s *SQLiteIndex) Placements(ctx context.Context) ([]slots.PlacedModule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot_id, module_id, template_id, x, y, z, scale_x, width, height, depth, created_at
		FROM placements ORDER BY slot_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []slots.PlacedModule
	for rows.Next() {
		var (
			pm      slots.PlacedModule
			created string
		)
		if err := rows.Scan(&pm.SlotID, &pm.ID, &pm.TemplateID,
			&pm.Position.X, &pm.Position.Y, &pm.Position.Z, &pm.ScaleX,
			&pm.Size.Width, &pm.Size.Height, &pm.Size.Depth, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			pm.CreatedAt = t
		}
		out = append(out, pm)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) EventCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, COUNT(*) FROM events GROUP BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	for rows.Next() {
		var (
			name string
			n    int64
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) UpsertCatalog(ctx context.Context, digest string, modules []protocol.TemplateDef, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, err := json.Marshal(modules); err == nil {
		rows = append(rows, kv{name: "modules", digest: digest, json: b})
	}
	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('session',?)`, s.session); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Freshness(ctx context.Context) (Freshness, error) {
	var f Freshness
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta WHERE key IN ('updated_at_ms','lossy')`)
	if err != nil {
		return f, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return f, err
		}
		switch k {
		case "updated_at_ms":
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
				f.UpdatedAt = time.UnixMilli(ms).UTC()
			}
		case "lossy":
			f.Lossy = v == "1"
		}
	}
	return f, rows.Err()
}

// Resync replaces the placements table with pms and clears the loss marker. The
// server calls it once the session has restored its state, before events flow.
func (s *SQLiteIndex) Resync(ctx context.Context, pms []slots.PlacedModule) error {
	if s == nil {
		return nil
	}
	loss := s.dropped.Load() + s.failed.Load()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM placements`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsertPlacementSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, pm := range pms {
		if _, err := stmt.ExecContext(ctx, placementArgs(pm, slotIndexOf(pm.SlotID))...); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, setMetaSQL, "updated_at_ms", strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, setMetaSQL, "lossy", "0"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.lossSeen.Store(loss)
	return nil
}

const (
	setMetaSQL         = `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`
	upsertPlacementSQL = `INSERT OR REPLACE INTO placements(slot_id,slot_index,module_id,template_id,x,y,z,scale_x,width,height,depth,created_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`
)

func placementArgs(pm slots.PlacedModule, slotIndex int) []any {
	return []any{pm.SlotID, slotIndex, pm.ID, pm.TemplateID,
		pm.Position.X, pm.Position.Y, pm.Position.Z, pm.ScaleX,
		pm.Size.Width, pm.Size.Height, pm.Size.Depth,
		pm.CreatedAt.UTC().Format(time.RFC3339Nano)}
}

func slotIndexOf(slotID string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(slotID, "slot-"))
	if err != nil {
		return -1
	}
	return n
}

func (s *SQLiteIndex) markLoss() {
	n := s.dropped.Load() + s.failed.Load()
	if n <= s.lossSeen.Load() {
		return
	}
	if _, err := s.db.Exec(setMetaSQL, "lossy", "1"); err == nil {
		s.lossSeen.Store(n)
	}
}

func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name = ?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

// loop batches writes into transactions. A transaction is committed after commitEvery
// operations or as soon as the queue drains, so readers never wait on an idle writer.
func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(session,seq,name,payload,recorded_at) VALUES(?,?,?,?,?)`)
	upsertPlacement, _ := s.db.Prepare(upsertPlacementSQL)
	setMeta, _ := s.db.Prepare(setMetaSQL)
	deleteSlot, _ := s.db.Prepare(`DELETE FROM placements WHERE slot_id = ?`)
	deleteIndex, _ := s.db.Prepare(`DELETE FROM placements WHERE slot_index = ?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, upsertPlacement, setMeta, deleteSlot, deleteIndex} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx      *sql.Tx
		opCount int
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(opCount) + 1)
		tx = nil
		opCount = 0
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			s.markLoss()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			exec(insertEvent, s.session, int64(e.Seq), e.Name, string(e.Payload), e.At.Format(time.RFC3339Nano))
			exec(setMeta, "updated_at_ms", strconv.FormatInt(e.At.UnixMilli(), 10))
		case reqUpsert:
			pm := r.placement
			// A stale row may still hold the slot index from a previous generation.
			exec(deleteIndex, r.slotIndex)
			exec(upsertPlacement, placementArgs(pm, r.slotIndex)...)
		case reqDeleteSlot:
			exec(deleteSlot, r.slotID)
		case reqDeleteIndex:
			exec(deleteIndex, r.slotIndex)
		case reqClear:
			if tx != nil {
				if _, err := tx.Exec(`DELETE FROM placements`); err != nil {
					rollback()
				} else {
					opCount++
				}
			}
		}
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
			s.markLoss()
		}
	}
	commit()
	s.markLoss()
}
