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

package project

import (
	"strings"

	"github.com/brick-instruments/brick-core/pkg/sd/status"
)

const (
	ProjectsDir = "/projects"
	SamplesDir  = "/samples"
	patternsDir = "patterns"
	patternExt  = ".pat"
	tmpSuffix   = ".tmp"
)

func validName(op, name string) error {
	if name == "" || len(name) >= MaxNameLen || name == "." || name == ".." ||
		strings.ContainsAny(name, "/\\") {
		return status.Wrap(status.InvalidParam, op, name, errBadName)
	}
	return nil
}

func bounded(op, path string) (string, error) {
	if len(path) >= MaxPathLen {
		return "", status.Wrap(status.InvalidParam, op, path, errPathTooLong)
	}
	return path, nil
}

// ProjectDir returns /projects/<project>.
func ProjectDir(project string) (string, error) {
	if err := validName("project path", project); err != nil {
		return "", err
	}
	return bounded("project path", ProjectsDir+"/"+project)
}

// PatternPath returns /projects/<project>/patterns/<pattern>.pat.
func PatternPath(project, pattern string) (string, error) {
	dir, err := ProjectDir(project)
	if err != nil {
		return "", err
	}
	if err := validName("pattern path", pattern); err != nil {
		return "", err
	}
	return bounded("pattern path", dir+"/"+patternsDir+"/"+pattern+patternExt)
}

// SamplePath returns /samples/<name>.
func SamplePath(name string) (string, error) {
	if err := validName("sample path", name); err != nil {
		return "", err
	}
	return bounded("sample path", SamplesDir+"/"+name)
}

// TempPath is where a record is staged before the atomic rename.
func TempPath(final string) (string, error) {
	return bounded("temp path", final+tmpSuffix)
}

// PatternsDir returns /projects/<project>/patterns.
func PatternsDir(project string) (string, error) {
	dir, err := ProjectDir(project)
	if err != nil {
		return "", err
	}
	return bounded("project path", dir+"/"+patternsDir)
}
