package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "slotplan.ai/internal/persistence/log"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory (reads <data>/journal)")
		journalDir = flag.String("journal", "", "journal dir containing events-*.jsonl.zst (overrides -data)")
		session    = flag.String("session", "", "only replay entries of this session id (optional)")
		resetEach  = flag.Bool("reset_on_session", false, "start each session from an empty layout instead of carrying occupancy over")
		verbose    = flag.Bool("v", false, "print every applied entry")
	)
	flag.Parse()

	dir := *journalDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "journal")
	}
	files, err := persistlog.Files(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files found in", dir)
		os.Exit(1)
	}

	c := newChecker()
	c.resetOnSession = *resetEach
	for _, path := range files {
		err := persistlog.ReadFile(path, func(e persistlog.Entry) error {
			if *session != "" && e.Session != *session {
				return nil
			}
			if err := c.apply(e); err != nil {
				return fmt.Errorf("%s seq=%d: %w", filepath.Base(path), e.Seq, err)
			}
			if *verbose {
				fmt.Printf("%s seq=%d %s occupied=%d\n", e.Session, e.Seq, e.Event, len(c.placed))
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	if err := c.finish(); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: entries=%d sessions=%d occupied=%d\n", c.entries, c.sessions, len(c.placed))
}
