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

// Package cli implements brickctl, a host tool that drives the SD storage
// stack against a simulated card or a host-mounted card.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/brick-instruments/brick-core/pkg/config"
	"github.com/brick-instruments/brick-core/pkg/helpers"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDevice = errors.New("no card device configured, use -device or -mem")
	ErrNoRoot   = errors.New("no card mount root configured, use -root or -mem")
	ErrBadRef   = errors.New("expected project/pattern")
	ErrNoInput  = errors.New("-save-pattern requires -in")
	ErrNoOutput = errors.New("-load-sample requires -out")
)

type Flags struct {
	Device      *string
	Root        *string
	LoadPattern *string
	SavePattern *string
	In          *string
	Out         *string
	LoadSample  *string
	StatsCSV    *string
	Gen         *uint
	Mem         *bool
	ReadOnly    *bool
	List        *bool
	Stats       *bool
	Watch       *bool
	Version     *bool
}

// SetupFlags defines the brickctl flags on fs.
func SetupFlags(fs *flag.FlagSet) *Flags {
	return &Flags{
		Device: fs.String(
			"device",
			"",
			"card image or block device used for presence and write protect",
		),
		Root: fs.String(
			"root",
			"",
			"directory where the card filesystem is mounted on the host",
		),
		Mem: fs.Bool(
			"mem",
			false,
			"use an in-memory simulated card",
		),
		ReadOnly: fs.Bool(
			"ro",
			false,
			"mount the card read-only",
		),
		List: fs.Bool(
			"list",
			false,
			"list projects on the card",
		),
		LoadPattern: fs.String(
			"load-pattern",
			"",
			"load project/pattern, writing the payload to -out if set",
		),
		SavePattern: fs.String(
			"save-pattern",
			"",
			"save project/pattern from the file given with -in",
		),
		In: fs.String(
			"in",
			"",
			"input file for -save-pattern",
		),
		Gen: fs.Uint(
			"gen",
			0,
			"generation stored with -save-pattern",
		),
		LoadSample: fs.String(
			"load-sample",
			"",
			"load a sample by name into the file given with -out",
		),
		Out: fs.String(
			"out",
			"",
			"output file for -load-pattern and -load-sample",
		),
		Stats: fs.Bool(
			"stats",
			false,
			"print driver statistics",
		),
		StatsCSV: fs.String(
			"stats-csv",
			"",
			"write driver statistics as CSV to this file",
		),
		Watch: fs.Bool(
			"watch",
			false,
			"follow card insertion and print state changes until interrupted",
		),
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
	}
}

// Pre parses args and handles flags that need no environment. It reports
// true when the program should exit.
func (f *Flags) Pre(fs *flag.FlagSet, args []string, out io.Writer) (bool, error) {
	if err := fs.Parse(args); err != nil {
		return false, fmt.Errorf("failed to parse flags: %w", err)
	}
	if *f.Version {
		_, _ = fmt.Fprintf(out, "brickctl v%s\n", config.AppVersion)
		return true, nil
	}
	return false, nil
}

// Setup initializes logging and the user config.
//
//nolint:gocritic // config struct copied for immutability
func Setup(
	configDir string,
	logDir string,
	defaultConfig config.Values,
	writers []io.Writer,
) (*config.Instance, error) {
	err := helpers.EnsureDirectories(configDir, logDir)
	if err != nil {
		return nil, fmt.Errorf("error creating directories: %w", err)
	}

	err = helpers.InitLogging(logDir, writers)
	if err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(configDir, defaultConfig)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	helpers.SetDebugLogging(cfg.DebugLogging())
	log.Debug().Str("config", cfg.Path()).Msg("brickctl configured")

	return cfg, nil
}

// splitRef splits "project/pattern".
func splitRef(ref string) (projectName, pattern string, err error) {
	projectName, pattern, ok := strings.Cut(ref, "/")
	if !ok || projectName == "" || pattern == "" {
		return "", "", fmt.Errorf("%q: %w", ref, ErrBadRef)
	}
	return projectName, pattern, nil
}
