package main

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"slotplan.ai/internal/persistence/indexdb"
	"slotplan.ai/internal/persistence/snapshot"
	"slotplan.ai/internal/sim/slots"
	"slotplan.ai/internal/sim/tuning"
)

type indexView struct {
	ok         bool
	placements []slots.PlacedModule
	fresh      indexdb.Freshness
}

func loadRestore(cfg serverConfig, tune *tuning.Tuning, logger *log.Logger) []slots.PlacedModule {
	var snap *snapshot.SnapshotV1
	if path, err := snapshot.Latest(snapshotDir(cfg.DataDir)); err != nil {
		logger.Printf("snapshot: %v", err)
	} else if path != "" {
		s, err := snapshot.ReadSnapshot(path)
		if err != nil {
			logger.Printf("snapshot %s: %v", filepath.Base(path), err)
		} else {
			snap = &s
			tune.Layout.SlotCount = s.Header.SlotCount
			tune.Layout.Reserved = s.Reserved
			logger.Printf("snapshot %s: %d slots, %d placed", filepath.Base(path), s.Header.SlotCount, len(s.Placements))
		}
	}

	pms, from := pickRestore(snap, readIndex(cfg, logger))
	if from != "" {
		logger.Printf("restore: %d placements from %s", len(pms), from)
	}
	return pms
}

func readIndex(cfg serverConfig, logger *log.Logger) indexView {
	idx, err := openIndex(cfg.IndexBackend, cfg.DataDir, "", nil)
	if err != nil || idx == nil {
		return indexView{}
	}
	defer idx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pms, err := idx.Placements(ctx)
	if err != nil {
		logger.Printf("index: read placements: %v", err)
		return indexView{}
	}
	fresh, err := idx.Freshness(ctx)
	if err != nil {
		logger.Printf("index: read freshness: %v", err)
		return indexView{}
	}
	return indexView{ok: true, placements: pms, fresh: fresh}
}

// pickRestore prefers the snapshot. The index only wins when it saw every operation
// and was written after the snapshot, which covers a crash that skipped the final
// snapshot.
func pickRestore(snap *snapshot.SnapshotV1, idx indexView) ([]slots.PlacedModule, string) {
	indexUsable := idx.ok && !idx.fresh.Lossy && !idx.fresh.UpdatedAt.IsZero()
	switch {
	case snap == nil && indexUsable:
		return idx.placements, "index"
	case snap == nil:
		return nil, ""
	case indexUsable && idx.fresh.UpdatedAt.After(snap.Header.WrittenAt):
		return idx.placements, "index"
	default:
		return snap.Placements, "snapshot"
	}
}
