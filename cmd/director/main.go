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

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/director"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

var graphPath = flag.String("graph", "./data/graph.db", "Path to the shared graph store")

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	ctx, cancel := context.WithCancel(context.Background())

	db, err := graphdb.Open(ctx, logger, graphdb.DefaultConfig(*graphPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open graph store")
	}
	defer db.Close()

	queues := queue.NewRegistry(db.Conn())
	qcfg := queue.NewDefaultConfig(ctxmodel.DirectorQueueName)

	// The director's own bus only carries reload events published by
	// its own process; scenario.reload events from the endpoint
	// process reach it through the ReloadPollInterval poll instead.
	bus := broker.NewBus()

	eval, err := director.NewEvaluator(ctx, db, queues, bus, qcfg, director.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build director")
	}
	eval.Start()

	logger.Info().Str("graph_path", *graphPath).Msg("director ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down director")
	eval.Stop()
	cancel()
	fmt.Println()
	logger.Info().Msg("director stopped")
}
