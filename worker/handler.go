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

package worker

import (
	"fmt"
	"reflect"
	"sync"
)

// Handler is a user-registered task handler. It is immutable once
// registered; the runtime spawns one runner per Handler at startup.
type Handler struct {
	// TaskType is the unique task-type name this handler serves.
	TaskType string

	// Execute is the handler function. It must have the shape
	// func(ctx *worker.Context, in P) (R, error) for some struct type P
	// and some result type R (R may be any, including *worker.Result or
	// *worker.InProgress). The runner binds task input to P by field
	// name through a JSON round trip (see internal/binding/bind.go).
	Execute any

	// MaxConcurrent is the handler-declared default concurrency limit,
	// overridable by the Config Resolver's environment tiers.
	MaxConcurrent int

	// Domain is the handler-declared default domain, likewise
	// overridable by the Config Resolver.
	Domain string

	// Options carries additional code-level option defaults keyed by the
	// resolver property names (e.g. "poll_interval_millis").
	// Values are strings; the Config Resolver applies the same coercion
	// rules it applies to environment values.
	Options map[string]string

	// InputExample, if set, is a zero-value instance of the input
	// parameter type, used as a fallback for schema synthesis when
	// Execute's second parameter can't be reflected directly (e.g. it is
	// declared as `any`).
	InputExample any

	// TaskDefTemplate, if set, is deep-copied and its name overridden
	// when the Registration Helper builds the task definition to push
	// to the server.
	TaskDefTemplate map[string]any
}

// InputType returns the reflect.Type of Execute's second parameter, or
// nil if Execute is not a func with exactly two parameters.
func (h Handler) InputType() reflect.Type {
	t := reflect.TypeOf(h.Execute)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != 2 {
		return nil
	}
	return t.In(1)
}

// OutputType returns the reflect.Type of Execute's first return value,
// or nil if Execute is not a func with exactly two return values.
func (h Handler) OutputType() reflect.Type {
	t := reflect.TypeOf(h.Execute)
	if t == nil || t.Kind() != reflect.Func || t.NumOut() != 2 {
		return nil
	}
	return t.Out(0)
}

// validate checks the shape Execute must have to be dispatched.
func (h Handler) validate() error {
	if h.TaskType == "" {
		return fmt.Errorf("worker: handler has empty TaskType")
	}
	t := reflect.TypeOf(h.Execute)
	if t == nil || t.Kind() != reflect.Func {
		return fmt.Errorf("worker: handler %q Execute must be a function", h.TaskType)
	}
	if t.NumIn() != 2 {
		return fmt.Errorf("worker: handler %q Execute must take (*worker.Context, <params>)", h.TaskType)
	}
	if t.In(0) != reflect.TypeOf(&Context{}) {
		return fmt.Errorf("worker: handler %q Execute's first parameter must be *worker.Context", h.TaskType)
	}
	if t.NumOut() != 2 {
		return fmt.Errorf("worker: handler %q Execute must return (<result>, error)", h.TaskType)
	}
	var errType = reflect.TypeOf((*error)(nil)).Elem()
	if !t.Out(1).Implements(errType) {
		return fmt.Errorf("worker: handler %q Execute's second return value must be error", h.TaskType)
	}
	return nil
}

var registry = struct {
	mu       sync.Mutex
	handlers map[string]Handler
}{handlers: make(map[string]Handler)}

// Register adds a Handler to the process-wide registry consulted by the
// Supervisor at startup. Intended to be called from an init() function
// or explicitly before the runtime starts; registering the same
// TaskType twice replaces the earlier registration (last one wins), the
// same "re-import is idempotent" expectation as a module whose
// side-effect is calling Register again.
func Register(h Handler) error {
	if err := h.validate(); err != nil {
		return err
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.handlers[h.TaskType] = h
	return nil
}

// Registered returns a snapshot of every handler registered so far.
func Registered() []Handler {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	out := make([]Handler, 0, len(registry.handlers))
	for _, h := range registry.handlers {
		out = append(out, h)
	}
	return out
}
