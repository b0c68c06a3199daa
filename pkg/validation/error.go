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

package validation

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error lists every argument rejected in one pass, in struct field order.
type Error struct {
	Fields []FieldError
}

// FieldError is one rejected argument. Param is the tag parameter, for
// example the bound of a max tag.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "invalid arguments"
	}
	var sb strings.Builder
	for i := range e.Fields {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.Fields[i].Message)
	}
	return sb.String()
}

func newError(errs validator.ValidationErrors) *Error {
	out := &Error{Fields: make([]FieldError, 0, len(errs))}
	for _, fe := range errs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: describe(fe),
		})
	}
	return out
}

// describe renders fe for logs. Buffers and lists are bounded by length,
// scalars by value.
func describe(fe validator.FieldError) string {
	arg := strings.ToLower(fe.Field())
	sized := fe.Kind() == reflect.Slice || fe.Kind() == reflect.String
	switch {
	case fe.Tag() == "required":
		return arg + " is required"
	case fe.Tag() == "sdname":
		return fmt.Sprintf("%s %q is not a single name shorter than %d bytes", arg, fe.Value(), MaxNameLen)
	case fe.Tag() == "min" && sized:
		return fmt.Sprintf("%s holds fewer than %s entries", arg, fe.Param())
	case fe.Tag() == "max" && sized:
		return fmt.Sprintf("%s holds more than %s entries", arg, fe.Param())
	case fe.Tag() == "min" || fe.Tag() == "gte":
		return fmt.Sprintf("%s is below %s", arg, fe.Param())
	case fe.Tag() == "max" || fe.Tag() == "lte":
		return fmt.Sprintf("%s is above %s", arg, fe.Param())
	default:
		return fmt.Sprintf("%s fails %s", arg, fe.Tag())
	}
}
