package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "slotplan.ai/internal/persistence/log"
	"slotplan.ai/internal/persistence/snapshot"
	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/session"
	"slotplan.ai/internal/sim/slots"
	"slotplan.ai/internal/sim/tuning"
	"slotplan.ai/internal/transport/ws"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	var cfg serverConfig
	if err := parseEnv(&cfg); err != nil {
		logger.Fatalf("%v", err)
	}
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "http listen address")
	flag.StringVar(&cfg.ConfigDir, "configs", cfg.ConfigDir, "config directory (modules.json, models/, tuning.yaml)")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "runtime data directory")
	flag.StringVar(&cfg.TuningPath, "tuning", cfg.TuningPath, "path to tuning.yaml (default: <configs>/tuning.yaml)")
	flag.StringVar(&cfg.IndexBackend, "index", cfg.IndexBackend, "placement index backend: sqlite or none")
	flag.BoolVar(&cfg.NoRestore, "no_restore", cfg.NoRestore, "start with an empty layout instead of restoring indexed placements")
	flag.Parse()

	cat, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(cfg.TuningPath)
	if tp == "" {
		tp = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	// Placements from the previous run seed the new session.
	var restore []slots.PlacedModule
	if !cfg.NoRestore {
		restore = loadRestore(cfg, &tune, logger)
	}

	sess, err := session.New(session.Config{
		Tuning:  tune,
		Catalog: cat,
		Logger:  logger,
		Restore: restore,
	})
	if err != nil {
		logger.Fatalf("session: %v", err)
	}
	logger.Printf("session %s: %d templates, %d slots, %d restored", sess.ID(), cat.Len(), sess.Metrics().Slots, sess.Metrics().Occupied)

	journal := persistlog.NewJournal(cfg.DataDir, sess.ID(), logger)
	sess.Bus().SubscribeAll(journal.Handle)

	idx, err := openIndex(cfg.IndexBackend, cfg.DataDir, sess.ID(), sess.Occupant)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		sess.Bus().SubscribeAll(idx.Handle)
		uctx, ucancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Resync(uctx, sess.View().Placements); err != nil {
			logger.Printf("index: resync: %v", err)
		}
		if err := idx.UpsertCatalog(uctx, cat.Digest(), session.TemplateDefs(cat.Templates()), tune); err != nil {
			logger.Printf("index: upsert catalog: %v", err)
		}
		ucancel()
	}

	ctx, cancel := signalContext()
	defer cancel()

	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("session stopped: %v", err)
		}
	}()

	h := &handlers{
		sess:    sess,
		index:   idx,
		journal: journal,
		dataDir: cfg.DataDir,
		log:     logger,
	}
	mux := http.NewServeMux()
	h.register(mux, cfg)
	mux.HandleFunc("/v1/ws", ws.NewServer(sess, tune.Session.ClientBuffer, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}

	<-sessDone
	if err := writeSnapshot(cfg.DataDir, sess.ID(), sess.View()); err != nil {
		logger.Printf("snapshot: %v", err)
	}
	if err := journal.Close(); err != nil {
		logger.Printf("journal close: %v", err)
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("index close: %v", err)
		}
	}
}

func snapshotDir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

func writeSnapshot(dataDir, sessionID string, v session.View) error {
	now := time.Now().UTC()
	return snapshot.WriteSnapshot(snapshot.Path(snapshotDir(dataDir), now), snapshot.SnapshotV1{
		Header: snapshot.Header{
			SessionID:     sessionID,
			Generation:    v.Generation,
			SlotCount:     v.SlotCount,
			CatalogDigest: v.CatalogDigest,
			WrittenAt:     now,
		},
		Reserved:   v.Reserved,
		Placements: v.Placements,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
