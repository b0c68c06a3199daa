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

// Package validation checks SD request arguments before they reach the
// request queue.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brick-instruments/brick-core/pkg/sd/project"
	"github.com/go-playground/validator/v10"
)

// MaxNameLen bounds project, pattern and sample names, terminator included.
const MaxNameLen = project.MaxNameLen

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("sdname", validateName)

	return &Validator{validate: v}
}

var DefaultValidator = NewValidator()

// Validate checks the validate tags of params, a pointer to a struct.
func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return newError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidName reports whether name can be used as a single file or
// directory name on the card.
func ValidName(name string) bool {
	if name == "" || len(name) >= MaxNameLen {
		return false
	}
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func validateName(fl validator.FieldLevel) bool {
	return ValidName(fl.Field().String())
}
