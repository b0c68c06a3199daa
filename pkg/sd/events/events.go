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

// Package events fans SD driver state transitions out to subscribers.
package events

import (
	"context"
	"time"

	"github.com/brick-instruments/brick-core/pkg/helpers/syncutil"
	"github.com/brick-instruments/brick-core/pkg/sd/status"
	"github.com/rs/zerolog/log"
)

// Event is one published change of the stable driver state.
type Event struct {
	At    time.Time
	From  status.State
	To    status.State
	Cause status.Code
}

// Broker reads events from a source channel and broadcasts them. Slow
// subscribers lose events rather than stalling the driver.
type Broker struct {
	ctx         context.Context
	source      <-chan Event
	subscribers map[int]chan Event
	done        chan struct{}
	mu          syncutil.RWMutex
	nextID      int
}

func NewBroker(ctx context.Context, source <-chan Event) *Broker {
	return &Broker{
		ctx:         ctx,
		source:      source,
		subscribers: make(map[int]chan Event),
		done:        make(chan struct{}),
	}
}

// Start runs the broadcast loop until the source closes or the context
// ends. Every subscriber channel is closed on the way out.
func (b *Broker) Start() {
	go func() {
		defer close(b.done)
		for {
			select {
			case ev, ok := <-b.source:
				if !ok {
					log.Debug().Msg("events: source channel closed")
					b.closeAllSubscribers()
					return
				}
				b.broadcast(ev)
			case <-b.ctx.Done():
				log.Debug().Msg("events: context cancelled, shutting down")
				b.closeAllSubscribers()
				return
			}
		}
	}()
}

// Done is closed once the broadcast loop has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

func (b *Broker) broadcast(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Stringer("to", ev.To).
				Msg("subscriber channel full, dropping sd event")
		}
	}
}

// Subscribe registers a new subscriber with a channel of bufferSize.
func (b *Broker) Subscribe(bufferSize int) (events <-chan Event, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	ch := make(chan Event, bufferSize)
	b.subscribers[id] = ch

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new sd event subscriber")

	return ch, id
}

// Unsubscribe removes and closes a subscriber. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

func (b *Broker) closeAllSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("closed sd event subscriber on shutdown")
	}
	b.subscribers = make(map[int]chan Event)
}

// Sink returns a non-blocking publish function over ch, suitable for the
// driver's transition hook. Events are dropped when ch is full.
func Sink(ch chan<- Event, now func() time.Time) func(from, to status.State, cause status.Code) {
	return func(from, to status.State, cause status.Code) {
		ev := Event{From: from, To: to, Cause: cause, At: now()}
		select {
		case ch <- ev:
		default:
			log.Warn().Stringer("to", to).Msg("sd event source full, dropping event")
		}
	}
}
