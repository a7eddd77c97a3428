package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
	"github.com/ternarybob/banner"

	"github.com/ternarybob/ctxpipe/internal/broker"
	"github.com/ternarybob/ctxpipe/internal/endpoint"
	"github.com/ternarybob/ctxpipe/internal/graphdb"
	"github.com/ternarybob/ctxpipe/internal/queue"
)

var (
	configPath = flag.String("config", "", "Configuration file path (TOML)")
	port       = flag.Int("port", 0, "Server port (overrides config)")
	host       = flag.String("host", "", "Server host (overrides config)")
)

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	cfg, err := endpoint.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}

	printBanner(cfg, logger)

	ctx := context.Background()
	db, err := graphdb.Open(ctx, logger, graphdb.DefaultConfig(cfg.Storage.GraphPath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open graph store")
	}
	defer db.Close()

	reg := queue.NewRegistry(db.Conn())
	bus := broker.NewBus()
	srv := endpoint.New(cfg, db, reg, bus, logger)

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := srv.Start(runCtx); err != nil {
			logger.Fatal().Err(err).Msg("endpoint server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("endpoint ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	cancel()

	logger.Info().Msg("shutting down endpoint")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("endpoint shutdown failed")
	}
	logger.Info().Msg("endpoint stopped")
}

func printBanner(cfg *endpoint.Config, logger arbor.ILogger) {
	serviceURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("CTX ENDPOINT")
	b.PrintCenteredText("Content analysis pipeline ingress")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Service URL", serviceURL, 15)
	b.PrintKeyValue("Objects", cfg.Storage.ObjectsPath, 15)
	b.PrintKeyValue("Graph", cfg.Storage.GraphPath, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().Str("service_url", serviceURL).Msg("endpoint starting")
}
