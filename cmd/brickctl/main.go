// Brick Core
// Copyright (c) 2026 The Brick Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Brick Core.
//
// Brick Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Brick Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Brick Core.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/brick-instruments/brick-core/pkg/cli"
	"github.com/brick-instruments/brick-core/pkg/config"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags := cli.SetupFlags(fs)
	verbose := fs.Bool(
		"v",
		false,
		"also write logs to stderr",
	)

	exit, err := flags.Pre(fs, os.Args[1:], os.Stdout)
	if err != nil {
		return err
	}
	if exit {
		return nil
	}

	var logWriters []io.Writer
	if *verbose {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg, err := cli.Setup(
		config.DefaultConfigDir(),
		config.DefaultDataDir(),
		config.BaseDefaults,
		logWriters,
	)
	if err != nil {
		return err
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flags.Run(ctx, cfg, os.Stdout); err != nil {
		log.Error().Err(err).Msg("brickctl failed")
		return err
	}
	return nil
}
