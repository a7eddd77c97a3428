package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/ternarybob/ctxpipe/internal/frontend"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

// fileConfig is the on-disk shape: one [[workers]] entry per object
// type this frontend process hosts, all sharing one queue.Registry
// and one WaitRegistry so a zip containing a mail containing a pdf
// aggregates correctly even though each type is a separate Manager.
type fileConfig struct {
	GraphPath string            `toml:"graph_path"`
	Workers   []frontend.Config `toml:"workers"`
}

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

	if *configPath == "" {
		logger.Fatal().Msg("frontend requires -config")
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read frontend config")
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse frontend config")
	}
	if len(fc.Workers) == 0 {
		logger.Fatal().Msg("frontend config must list at least one [[workers]] entry")
	}
	if fc.GraphPath == "" {
		fc.GraphPath = *graphPath
	}

	db, err := graphdb.Open(context.Background(), logger, graphdb.DefaultConfig(fc.GraphPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open graph store")
	}
	defer db.Close()

	queues := queue.NewRegistry(db.Conn())
	waitRegistry := frontend.NewWaitRegistry()

	managers := make([]*frontend.Manager, 0, len(fc.Workers))
	for _, wcfg := range fc.Workers {
		m, err := frontend.NewManager(wcfg, queues, waitRegistry, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("object_type", wcfg.ObjectType).Msg("failed to build frontend manager")
		}
		managers = append(managers, m)
		m.Start()
		logger.Info().Str("object_type", wcfg.ObjectType).Str("backend", wcfg.BackendAddr).Msg("frontend worker started")
	}

	logger.Info().Int("workers", len(managers)).Msg("frontend ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down frontend")
	for _, m := range managers {
		m.Stop()
	}
	fmt.Println()
	logger.Info().Msg("frontend stopped")
}
