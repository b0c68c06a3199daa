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

package helpers

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfgDir := filepath.Join(root, "config", "nested")
	logDir := filepath.Join(root, "logs", "nested")

	require.NoError(t, EnsureDirectories(cfgDir, logDir))
	require.NoError(t, EnsureDirectories(cfgDir, logDir))

	for _, dir := range []string{cfgDir, logDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		if runtime.GOOS != "windows" {
			assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
		}
	}
}

func TestEnsureDirectoriesErrorHandling(t *testing.T) {
	t.Parallel()

	err := EnsureDirectories("/proc/invalid\x00path", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create config directory")

	err = EnsureDirectories(t.TempDir(), "/proc/invalid\x00path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create log directory")
}

func TestInitLogging(t *testing.T) {
	// Not parallel: InitLogging replaces the global log.Logger.
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	logDir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	require.NoError(t, InitLogging(logDir, []io.Writer{&buf}))

	SetDebugLogging(false)
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	SetDebugLogging(true)
	cause := errors.New("card vanished")
	log.Error().Stack().Err(status.Wrap(status.NoCard, "mount", "", cause)).Msg("sd mount failed")

	out := buf.String()
	assert.Contains(t, out, `"message":"sd mount failed"`)
	assert.Contains(t, out, "no card")
	assert.Contains(t, out, `"stack"`)
	assert.FileExists(t, LogPath(logDir))
}
