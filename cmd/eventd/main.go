package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobmcallan/offerengine/internal/app"
	"github.com/bobmcallan/offerengine/internal/common"
)

func main() {
	common.LoadVersionFromFile()

	configPath := os.Getenv("OFFERENGINE_CONFIG")

	a, err := app.NewApp(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		a.Logger.Fatal().Err(err).Msg("Failed to start event engine")
	}

	a.Logger.Info().
		Str("addr", fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)).
		Msg("Event engine ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")
	a.Close()
}
