// Fraudlens - Hybrid fraud scoring for card transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// fraudctl is the Fraudlens operator CLI.
//
// Usage:
//
//	fraudctl calibrate --csv scores.csv --out models/model_config.json
//	fraudctl benchmark --csv creditcard.csv --url http://localhost:8080
//	fraudctl inspect --models ./models
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/fraudlens/internal/config"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "fraudctl",
		Usage:   "Fraudlens operator tooling - calibrate, benchmark and inspect models",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FRAUDLENS_LOG_LEVEL"},
			},
		},

		Before: func(c *cli.Context) error {
			if _, err := config.ParseLevel(c.String("log-level")); err != nil {
				return err
			}
			slog.SetDefault(config.NewLogger(domain.LoggingConfig{
				Level:  c.String("log-level"),
				Format: "text",
			}))
			return nil
		},

		Commands: []*cli.Command{
			calibrateCommand(),
			benchmarkCommand(),
			inspectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
