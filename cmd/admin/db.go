package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/placements.sqlite)")
	limit := fs.Int("limit", 50, "result limit (events)")
	name := fs.String("name", "", "event name filter (events)")
	session := fs.String("session", "", "session id filter (events)")
	_ = fs.Parse(args)

	q := "placements"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "placements.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "placements":
		err = queryPlacements(db)
	case "events":
		if *limit <= 0 {
			*limit = 50
		}
		err = queryEvents(db, *name, *session, *limit)
	case "catalogs":
		err = queryCatalogs(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want placements, events or catalogs)")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func queryPlacements(db *sql.DB) error {
	rows, err := db.Query(`SELECT slot_id,slot_index,module_id,template_id,x,y,z,scale_x,width,height,depth,created_at FROM placements ORDER BY slot_index`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			SlotID     string     `json:"slot_id"`
			SlotIndex  int        `json:"slot_index"`
			ModuleID   string     `json:"module_id"`
			TemplateID string     `json:"template_id"`
			Position   [3]float64 `json:"position"`
			ScaleX     float64    `json:"scale_x"`
			Size       [3]float64 `json:"size"`
			CreatedAt  string     `json:"created_at"`
		}
		if err := rows.Scan(&r.SlotID, &r.SlotIndex, &r.ModuleID, &r.TemplateID,
			&r.Position[0], &r.Position[1], &r.Position[2], &r.ScaleX,
			&r.Size[0], &r.Size[1], &r.Size[2], &r.CreatedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryEvents(db *sql.DB, name, session string, limit int) error {
	where := []string{"1=1"}
	var args []any
	if name != "" {
		where = append(where, "name = ?")
		args = append(args, name)
	}
	if session != "" {
		where = append(where, "session = ?")
		args = append(args, session)
	}
	args = append(args, limit)
	rows, err := db.Query(`SELECT session,seq,name,payload,recorded_at FROM events WHERE `+strings.Join(where, " AND ")+` ORDER BY recorded_at DESC, seq DESC LIMIT ?`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Session    string `json:"session"`
			Seq        int64  `json:"seq"`
			Name       string `json:"name"`
			Payload    string `json:"payload"`
			RecordedAt string `json:"recorded_at"`
		}
		if err := rows.Scan(&r.Session, &r.Seq, &r.Name, &r.Payload, &r.RecordedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryCatalogs(db *sql.DB) error {
	rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Name      string `json:"name"`
			Digest    string `json:"digest"`
			UpdatedAt string `json:"updated_at"`
		}
		if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}
