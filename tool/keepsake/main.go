/*
 * Keepsake
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command keepsake runs the keepsake time-locked capsule server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/lib/config"
	"github.com/gravitational/keepsake/lib/service"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("keepsake", "Keepsake time-locked capsule server.")
	app.HelpFlag.Short('h')

	start := app.Command("start", "Start the keepsake server.")
	configPath := start.Flag("config", "Path to the configuration file.").Short('c').String()
	listenAddr := start.Flag("listen-addr", "HTTP API listen address.").String()
	diagAddr := start.Flag("diag-addr", "Diagnostics listen address.").String()
	dataDir := start.Flag("data-dir", "Directory for server state.").String()
	backendType := start.Flag("storage", "Storage backend, lite or memory.").String()
	debug := start.Flag("debug", "Enable debug logging.").Short('d').Bool()

	version := app.Command("version", "Print the version and exit.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	switch command {
	case start.FullCommand():
		cfg := service.Config{
			DataDir:    *dataDir,
			ListenAddr: *listenAddr,
			DiagAddr:   *diagAddr,
			Debug:      *debug,
		}
		cfg.Backend.Type = *backendType
		if *configPath != "" {
			fc, err := config.ReadFile(*configPath)
			if err != nil {
				return trace.Wrap(err)
			}
			if err := config.Apply(fc, &cfg); err != nil {
				return trace.Wrap(err)
			}
		}
		return trace.Wrap(onStart(cfg))
	case version.FullCommand():
		fmt.Println(keepsake.Version)
		return nil
	}
	return nil
}

func onStart(cfg service.Config) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	process, err := service.NewProcess(ctx, cfg)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(process.Run(ctx))
}
