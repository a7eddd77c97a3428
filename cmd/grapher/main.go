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

	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/grapher"
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

	db, err := graphdb.Open(context.Background(), logger, graphdb.DefaultConfig(*graphPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open graph store")
	}
	defer db.Close()

	queues := queue.NewRegistry(db.Conn())
	qcfg := queue.NewDefaultConfig(ctxmodel.ResultsQueueName)

	writer, err := grapher.NewWriter(db, queues, qcfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build grapher")
	}
	writer.Start()

	logger.Info().Str("graph_path", *graphPath).Msg("grapher ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down grapher")
	writer.Stop()
	fmt.Println()
	logger.Info().Msg("grapher stopped")
}
