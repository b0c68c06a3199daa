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

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/brick-instruments/brick-core/pkg/config"
	"github.com/brick-instruments/brick-core/pkg/sd"
	"github.com/brick-instruments/brick-core/pkg/sd/automount"
	"github.com/brick-instruments/brick-core/pkg/sd/blockdev"
	"github.com/brick-instruments/brick-core/pkg/sd/events"
	"github.com/brick-instruments/brick-core/pkg/sd/project"
	"github.com/brick-instruments/brick-core/pkg/sd/sdfs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// memBlocks sizes the simulated card.
const memBlocks = 8192

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// openDriver builds the driver for the selected card. presence is the path
// to watch for insertion, empty for the simulated card.
func (f *Flags) openDriver(cfg *config.Instance, source chan<- events.Event) (*sd.Driver, string, error) {
	var (
		ctrl     blockdev.Controller
		mounter  sdfs.Mounter
		presence string
	)
	if *f.Mem {
		ctrl = blockdev.NewMemController(memBlocks)
		mounter = sdfs.NewMemMounter()
	} else {
		device := firstSet(*f.Device, cfg.SDDevice())
		if device == "" {
			return nil, "", ErrNoDevice
		}
		root := firstSet(*f.Root, cfg.SDMountRoot())
		if root == "" {
			return nil, "", ErrNoRoot
		}
		ctrl = blockdev.NewFileController(device, *f.ReadOnly)
		mounter = sdfs.DirMounter{Root: root}
		presence = device
	}

	d, err := sd.New(sd.Options{
		Controller:       ctrl,
		Mounter:          mounter,
		Timeout:          cfg.SDRequestTimeout(),
		ForbiddenThreads: cfg.SDForbiddenThreads(),
		Events:           source,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create sd driver: %w", err)
	}
	return d, presence, nil
}

// Run performs the requested actions in a fixed order: save, load pattern,
// load sample, list, stats. With -watch it follows the card instead.
func (f *Flags) Run(ctx context.Context, cfg *config.Instance, stdout io.Writer) error {
	source := make(chan events.Event, 16)
	d, presence, err := f.openDriver(cfg, source)
	if err != nil {
		return err
	}
	defer d.Close()

	readOnly := *f.ReadOnly || cfg.SDMountReadOnly()
	if *f.Watch {
		return f.watch(ctx, cfg, d, presence, source, readOnly, stdout)
	}

	if err := d.Mount(ctx, readOnly); err != nil {
		return fmt.Errorf("failed to mount card: %w", err)
	}
	log.Debug().Stringer("state", d.State()).Msg("card mounted")

	if *f.SavePattern != "" {
		if err := f.savePattern(ctx, d, stdout); err != nil {
			return err
		}
	}
	if *f.LoadPattern != "" {
		if err := f.loadPattern(ctx, d, stdout); err != nil {
			return err
		}
	}
	if *f.LoadSample != "" {
		if err := f.loadSample(ctx, d, stdout); err != nil {
			return err
		}
	}
	if *f.List {
		if err := listProjects(ctx, d, stdout); err != nil {
			return err
		}
	}
	if *f.Stats || *f.StatsCSV != "" {
		s, err := d.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}
		if *f.Stats {
			printStats(stdout, &s)
		}
		if *f.StatsCSV != "" {
			if err := writeStatsCSV(*f.StatsCSV, &s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Flags) savePattern(ctx context.Context, d *sd.Driver, stdout io.Writer) error {
	projectName, pattern, err := splitRef(*f.SavePattern)
	if err != nil {
		return err
	}
	if *f.In == "" {
		return ErrNoInput
	}
	data, err := os.ReadFile(*f.In)
	if err != nil {
		return fmt.Errorf("failed to read pattern input: %w", err)
	}
	gen := uint32(*f.Gen) //nolint:gosec // generation is a caller-chosen 32-bit counter
	if err := d.SavePattern(ctx, projectName, pattern, data, gen); err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "saved %s/%s: %d bytes, generation %d\n", projectName, pattern, len(data), gen)
	return nil
}

func (f *Flags) loadPattern(ctx context.Context, d *sd.Driver, stdout io.Writer) error {
	projectName, pattern, err := splitRef(*f.LoadPattern)
	if err != nil {
		return err
	}
	buf := make([]byte, project.MaxPatternSize)
	n, gen, err := d.LoadPattern(ctx, projectName, pattern, buf)
	if err != nil {
		return fmt.Errorf("failed to load pattern: %w", err)
	}
	if *f.Out != "" {
		if err := os.WriteFile(*f.Out, buf[:n], 0o600); err != nil {
			return fmt.Errorf("failed to write pattern output: %w", err)
		}
	}
	_, _ = fmt.Fprintf(stdout, "loaded %s/%s: %d bytes, generation %d\n", projectName, pattern, n, gen)
	return nil
}

func (f *Flags) loadSample(ctx context.Context, d *sd.Driver, stdout io.Writer) error {
	if *f.Out == "" {
		return ErrNoOutput
	}
	buf := make([]byte, project.MaxSampleSize)
	n, err := d.LoadSample(ctx, *f.LoadSample, buf)
	if err != nil {
		return fmt.Errorf("failed to load sample: %w", err)
	}
	if err := os.WriteFile(*f.Out, buf[:n], 0o600); err != nil {
		return fmt.Errorf("failed to write sample output: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "loaded sample %s: %d bytes\n", *f.LoadSample, n)
	return nil
}

func listProjects(ctx context.Context, d *sd.Driver, stdout io.Writer) error {
	projects, err := d.ListProjects(ctx, sd.MaxListProjects)
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	for _, p := range projects {
		_, _ = fmt.Fprintln(stdout, p.Name)
	}
	return nil
}

func (*Flags) watch(
	ctx context.Context,
	cfg *config.Instance,
	d *sd.Driver,
	presence string,
	source <-chan events.Event,
	readOnly bool,
	stdout io.Writer,
) error {
	g, gctx := errgroup.WithContext(ctx)

	broker := events.NewBroker(gctx, source)
	sub, _ := broker.Subscribe(16)
	broker.Start()

	if cfg.SDAutoMount() {
		var src automount.Source
		if presence == "" {
			src = automount.NewPollSource(d.IsPresent, cfg.SDPollInterval(), nil)
		} else {
			src = automount.NewNotifySource(presence)
		}
		policy := automount.NewPolicy(d, automount.Config{
			ReadOnly:    readOnly,
			MinInterval: cfg.SDMinMountInterval(),
			Burst:       cfg.SDMountBurst(),
		})
		g.Go(func() error {
			return policy.Run(gctx, src)
		})
	} else {
		log.Info().Msg("auto mount disabled, only reporting state changes")
	}

	// The broker closes sub once gctx ends.
	g.Go(func() error {
		for ev := range sub {
			_, _ = fmt.Fprintf(stdout, "%s %s -> %s (%s)\n",
				ev.At.Format(time.RFC3339), ev.From, ev.To, ev.Cause)
		}
		return nil
	})

	err := g.Wait()
	<-broker.Done()
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	return nil
}
