// Copyright 2024-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command ticketsync runs the Linear-GitHub ticket synchronization daemon.
// It serves two webhook endpoints: POST /webhook/linear for Linear
// deliveries and POST /webhook/github for GitHub deliveries, and mirrors
// changes across the two platforms.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aiku/ticketsync/pkg/store/sqlite"
	"github.com/aiku/ticketsync/pkg/sync"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath   string
	writeExample bool
)

var rootCmd = &cobra.Command{
	Use:     "ticketsync",
	Short:   "Linear-GitHub ticket synchronization daemon",
	Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
	RunE:    run,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register GitHub repository webhooks for every configured sync",
	RunE:  runRegister,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.Flags().BoolVarP(&writeExample, "generate-config", "g", false, "write the example config to stdout and exit")
	rootCmd.AddCommand(registerCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if writeExample {
		_, err := io.WriteString(cmd.OutOrStdout(), sync.ExampleConfig)
		return err
	}

	_ = godotenv.Load()

	cfg, err := sync.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	log.Info().Str("path", cfg.DatabasePath).Msg("Opened correlation store")

	engine := sync.NewEngine(cfg, st, sync.WithLogger(log))
	return sync.NewServer(engine).ListenAndServe()
}

func runRegister(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := sync.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	engine := sync.NewEngine(cfg, st, sync.WithLogger(log))
	outcomes, err := engine.RegisterWebhooks(cmd.Context())
	for _, line := range outcomes {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return err
}

// newLogger builds the process logger: console output, plus a rotating
// file when one is configured.
func newLogger(cfg *sync.Config) zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
