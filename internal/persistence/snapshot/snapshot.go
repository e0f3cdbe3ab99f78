// Package snapshot writes point-in-time copies of a session's placements. A snapshot is
// a zstd stream holding one JSON header line followed by the gob-encoded body, so the
// header can be listed without decoding placements.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/slots"
)

const Version = 1

const suffix = ".snap.zst"

var ErrVersion = errors.New("unsupported snapshot version")

type Header struct {
	Version       int       `json:"version"`
	SessionID     string    `json:"session_id"`
	Generation    uint64    `json:"generation"`
	SlotCount     int       `json:"slot_count"`
	Placed        int       `json:"placed"`
	CatalogDigest string    `json:"catalog_digest"`
	WrittenAt     time.Time `json:"written_at"`
}

type SnapshotV1 struct {
	Header     Header
	Reserved   *layout.Region
	Placements []slots.PlacedModule
}

// Path names a snapshot in dir by its write time; names sort by age.
func Path(dir string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%020d%s", at.UnixMilli(), suffix))
}

// WriteSnapshot writes to a temporary file and renames it into place.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	snap.Header.Version = Version
	snap.Header.Placed = len(snap.Placements)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	if _, err := readHeader(br); err != nil {
		return snap, err
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return Header{}, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReader(dec))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}

func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if _, err := strconv.ParseInt(strings.TrimSuffix(e.Name(), suffix), 10, 64); err != nil {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

func Latest(dir string) (string, error) {
	all, err := List(dir)
	if err != nil || len(all) == 0 {
		return "", err
	}
	return all[len(all)-1], nil
}
