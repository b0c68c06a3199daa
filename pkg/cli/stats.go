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
	"fmt"
	"io"
	"os"

	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/brick-instruments/brick-core/pkg/sd/worker"
	"github.com/gocarina/gocsv"
)

type statRow struct {
	Metric string `csv:"metric"`
	Value  uint32 `csv:"value"`
}

func statRows(s *worker.Stats) []statRow {
	rows := []statRow{
		{Metric: "ops_total", Value: s.OpsTotal},
		{Metric: "ops_success", Value: s.OpsSuccess},
		{Metric: "ops_error", Value: s.OpsError},
		{Metric: "latency_samples", Value: s.Samples},
		{Metric: "latency_min_us", Value: s.LatencyMinUs},
		{Metric: "latency_max_us", Value: s.LatencyMaxUs},
		{Metric: "latency_avg_us", Value: s.LatencyAvgUs},
	}
	for code := status.Code(1); int(code) < status.NumCodes; code++ {
		rows = append(rows, statRow{Metric: "code:" + code.String(), Value: s.Count(code)})
	}
	return rows
}

func printStats(w io.Writer, s *worker.Stats) {
	for _, row := range statRows(s) {
		_, _ = fmt.Fprintf(w, "%-32s %d\n", row.Metric, row.Value)
	}
}

func writeStatsCSV(path string, s *worker.Stats) error {
	f, err := os.Create(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	rows := statRows(s)
	if err := gocsv.Marshal(&rows, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write stats csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close stats file: %w", err)
	}
	return nil
}
