package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/sigmgr"
)

var (
	configPath = flag.String("config", "", "Configuration file path (TOML)")
	graphPath  = flag.String("graph", "./data/graph.db", "Path to the shared graph store")
)

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	cfg := sigmgr.DefaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read sigmgr config")
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			logger.Fatal().Err(err).Msg("failed to parse sigmgr config")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, err := graphdb.Open(ctx, logger, graphdb.DefaultConfig(*graphPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open graph store")
	}
	defer db.Close()

	bus := broker.NewBus()
	mgr, err := sigmgr.NewManager(db, bus, *cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build sigmgr")
	}
	mgr.Start(ctx)

	logger.Info().
		Str("ndb_path", cfg.NDBPath).
		Str("clamd_addr", cfg.ClamdAddr).
		Str("poll_schedule", cfg.PollSchedule).
		Msg("sigmgr ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down sigmgr")
	cancel()
	mgr.Stop()
	fmt.Println()
	logger.Info().Msg("sigmgr stopped")
}
