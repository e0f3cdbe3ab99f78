package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"slotplan.ai/internal/bus"
	"slotplan.ai/internal/protocol"
)

type Entry struct {
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
	Session string          `json:"session"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (e Entry) Decode() (protocol.Event, error) {
	return protocol.DecodeEvent(e.Event, e.Payload)
}

// Journal is a bus subscriber that appends events to the event log. Pointer moves are
// not journaled by default; they carry no state and arrive at frame rate.
type Journal struct {
	w       *JSONLZstdWriter
	session string
	skip    map[string]bool
	log     *stdlog.Logger
	errs    uint64
}

func NewJournal(dataDir, sessionID string, logger *stdlog.Logger) *Journal {
	if logger == nil {
		logger = stdlog.New(io.Discard, "", 0)
	}
	return &Journal{
		w:       NewJSONLZstdWriter(filepath.Join(dataDir, "journal"), "events"),
		session: sessionID,
		skip:    map[string]bool{protocol.EventPointerMoved: true},
		log:     logger,
	}
}

func (j *Journal) Record(name string) { delete(j.skip, name) }

func (j *Journal) Dir() string { return j.w.Dir() }

func (j *Journal) Handle(m bus.Message) {
	if j.skip[m.Name()] {
		return
	}
	payload, err := json.Marshal(m.Event)
	if err != nil {
		j.fail(m, err)
		return
	}
	e := Entry{Seq: m.Seq, Time: j.w.now().UTC(), Session: j.session, Event: m.Name(), Payload: payload}
	if err := j.w.Write(e); err != nil {
		j.fail(m, err)
	}
}

func (j *Journal) fail(m bus.Message, err error) {
	j.errs++
	j.log.Printf("journal: seq=%d %s: %v", m.Seq, m.Name(), err)
}

func (j *Journal) Errors() uint64 { return j.errs }

func (j *Journal) Lines() uint64 { return j.w.Lines() }

func (j *Journal) Close() error { return j.w.Close() }

func Files(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile calls fn for every entry in path. A truncated final frame (the writer was
// killed mid-write) ends the file without an error.
func ReadFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func ReadDir(dir string, fn func(Entry) error) error {
	files, err := Files(dir)
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := ReadFile(p, fn); err != nil {
			return err
		}
	}
	return nil
}
