package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"slotplan.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "relayout":
			relayoutCmd(os.Args[2:])
			return
		case "snapshots":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(filepath.Join(*dataDir, "snapshots"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(p), err)
			continue
		}
		printJSON(struct {
			File string `json:"file"`
			snapshot.Header
		}{File: filepath.Base(p), Header: h})
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
