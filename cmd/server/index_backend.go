package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"slotplan.ai/internal/persistence/indexdb"
)

// openIndex opens the read-model backend. A nil index means indexing is off.
func openIndex(backend, dataDir, sessionID string, lookup indexdb.Lookup) (*indexdb.SQLiteIndex, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "placements.sqlite"), sessionID, lookup)
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", backend)
	}
}
