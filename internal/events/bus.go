// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package events

import (
	"log/slog"
	"sync"
	"time"
)

// All matches a listener against every event variant.
const All Type = ""

// Listener receives published events. A listener that panics is
// recovered by the bus and logged; it never affects other listeners or
// the publishing runner.
type Listener func(Event)

// Bus is a typed, synchronous dispatcher. Publication is synchronous:
// each matching listener is invoked on the publishing goroutine, and
// Publish does not return until every listener has been invoked.
// Listeners registered for the event's own type run first, in
// registration order, then listeners registered for All, in registration
// order; an All listener runs after every type-specific listener no
// matter when it was registered.
type Bus struct {
	mu        sync.RWMutex
	listeners map[Type][]Listener
	logger    *slog.Logger
}

// New creates an empty Bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		listeners: make(map[Type][]Listener),
		logger:    logger,
	}
}

// Subscribe registers l to receive events of the given type. Pass All to
// receive every variant. Returns an unsubscribe function.
func (b *Bus) Subscribe(t Type, l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners[t] = append(b.listeners[t], l)
	idx := len(b.listeners[t]) - 1

	// Unsubscribe nils the slot rather than compacting the slice, so
	// indices held by other unsubscribe closures stay valid.
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ls := b.listeners[t]; idx < len(ls) {
			ls[idx] = nil
		}
	}
}

// Publish dispatches e to every listener registered for e.Type, in
// registration order, and then to every listener registered for All,
// in registration order.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	specific := append([]Listener(nil), b.listeners[e.Type]...)
	wildcard := append([]Listener(nil), b.listeners[All]...)
	b.mu.RUnlock()

	for _, l := range specific {
		if l != nil {
			b.invoke(l, e)
		}
	}
	for _, l := range wildcard {
		if l != nil {
			b.invoke(l, e)
		}
	}
}

func (b *Bus) invoke(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event listener panicked",
				"event_type", e.Type,
				"task_type", e.TaskType,
				"panic", r,
			)
		}
	}()
	l(e)
}
