package main

import (
	"context"
	"fmt"
	"os"

	"gofinances/internal/cli"
	"gofinances/internal/config"
	applog "gofinances/internal/log"
	"gofinances/internal/upload"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	// stdout carries command output
	logger := cli.SetupLogger(cfg, os.Stderr, applog.ComponentCLI)
	cli.ValidateConfig(logger, cfg)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)

	a := &app{
		ledger:   res.Backend.Ledger,
		importer: res.Backend.Importer,
		stager:   upload.NewStager(cfg.UploadDir),
		out:      os.Stdout,
	}
	if res.Backend.AMQP != nil {
		a.queue = res.Backend.AMQP
	}

	err := a.run(ctx, os.Args[1:])
	if cerr := res.Cleanup(); cerr != nil {
		logger.Warn("Cleanup failed", "error", cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(exitCode(err))
	}
}
