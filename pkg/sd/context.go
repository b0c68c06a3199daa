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

package sd

import "context"

type callerKey struct{}

type caller struct {
	thread string
	isr    bool
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

// WithISR marks ctx as interrupt context. Driver calls made with it are
// rejected with Context.
func WithISR(ctx context.Context) context.Context {
	c := callerFrom(ctx)
	c.isr = true
	return context.WithValue(ctx, callerKey{}, c)
}

// WithThread names the calling thread. Calls from a forbidden thread are
// rejected with Context.
func WithThread(ctx context.Context, name string) context.Context {
	c := callerFrom(ctx)
	c.thread = name
	return context.WithValue(ctx, callerKey{}, c)
}
