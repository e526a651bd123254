package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/avolkov/tutti/internal/config"
	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/log"
	"github.com/avolkov/tutti/internal/orchestrator"
	"github.com/avolkov/tutti/internal/pipeline"
	"github.com/avolkov/tutti/internal/source"
	"github.com/avolkov/tutti/internal/state"
	"github.com/avolkov/tutti/internal/store"

	"golang.org/x/time/rate"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var (
		showVersion bool
		runSync     bool
		force       bool
	)
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.BoolVar(&runSync, "sync", false, "run a sync and wait for it to finish")
	flag.BoolVar(&force, "force", false, "with -sync: full refresh, ignoring delta signatures")
	flag.Parse()

	if showVersion {
		fmt.Printf("tutti %s\n", Version)
		return
	}

	if err := run(runSync, force); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(runSync, force bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.Setup(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.Null()
	}
	slog.SetDefault(logger)

	logger.Info("starting tutti", "version", Version)

	st, err := store.New(cfg.Cache.Dir)
	if err != nil {
		return fmt.Errorf("failed to open cache: %w", err)
	}
	defer st.Close()

	publisher := state.NewPublisher(st, logger)
	registry := source.NewRegistry(st, nil, nil, logger)

	if runSync {
		return runSyncAndWait(cfg, st, publisher, registry, logger, force)
	}

	printStatus(publisher)
	return nil
}

func runSyncAndWait(cfg *config.Config, st *store.Store, publisher *state.Publisher, registry *source.Registry, logger *slog.Logger, force bool) error {
	pipe := pipeline.New(pipeline.Config{
		Store:             st,
		State:             publisher,
		Logger:            logger,
		DetailParallelism: cfg.Sync.DetailParallelism,
		AssetRate:         rate.Limit(cfg.Sync.AssetRate),
		DataSaving:        cfg.Sync.DataSaving,
	})
	orch := orchestrator.New(orchestrator.Config{
		Pipeline:     pipe,
		State:        publisher,
		Provider:     registry,
		Logger:       logger,
		MinInterval:  time.Duration(cfg.Sync.MinIntervalHours) * time.Hour,
		StallTimeout: time.Duration(cfg.Sync.StallMinutes) * time.Minute,
		DataSaving:   cfg.Sync.DataSaving,
	})

	// Echo stage transitions while the run executes.
	lastStage := domain.Stage(-1)
	unsubscribe := publisher.Subscribe(func(s domain.SyncState) {
		if s.Stage != lastStage {
			lastStage = s.Stage
			fmt.Printf("  %s\n", s.Stage)
		}
	})
	defer unsubscribe()

	if err := orch.RunSyncNow(context.Background(), force); err != nil {
		return fmt.Errorf("sync not started: %w", err)
	}
	printStatus(publisher)
	return nil
}

func printStatus(publisher *state.Publisher) {
	snap := publisher.Snapshot()

	fmt.Println("Sync status")
	fmt.Printf("  active:         %v\n", snap.Active)
	fmt.Printf("  stage:          %s\n", snap.Stage)
	fmt.Printf("  progress:       %d/%d\n", snap.ProgressCurrent, snap.ProgressTotal)
	fmt.Printf("  cover art:      %d/%d\n", snap.CoverArtCurrent, snap.CoverArtTotal)
	fmt.Printf("  lyrics:         %d/%d\n", snap.LyricsCurrent, snap.LyricsTotal)
	fmt.Printf("  last completed: %s\n", formatMillis(snap.LastCompletedAt))

	logs := publisher.Logs()
	if len(logs) == 0 {
		return
	}
	fmt.Println("Recent activity")
	for _, entry := range logs {
		marker := " "
		if entry.Completed {
			marker = "*"
		}
		fmt.Printf("  %s [%s] %s\n", marker, entry.Stage, entry.Message)
	}
}

func formatMillis(ts int64) string {
	if ts <= 0 {
		return "never"
	}
	return time.UnixMilli(ts).Format(time.RFC3339)
}
