package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/ledgersync/internal/client/cli"
	"github.com/dmitrijs2005/ledgersync/internal/client/config"
	"github.com/dmitrijs2005/ledgersync/internal/filex"
	"github.com/dmitrijs2005/ledgersync/internal/logging"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.LogFile != "" {
		if _, err := filex.EnsureParentDir(cfg.LogFile); err != nil {
			log.Fatalf("%v", err)
		}
	}

	logger, closeLog, err := logging.New(logging.Options{Backend: cfg.LogBackend, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeLog()

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
