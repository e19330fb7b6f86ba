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

// Package supervisor discovers registered handlers, resolves their
// configuration, decides the runner variant, optionally pushes
// registration, and launches one isolated runner per handler. Each
// runner lives on its own goroutine guarded by a recovered panic
// boundary: a crash in one handler's runner can never take down another
// runner or the process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/internal/config"
	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/internal/registration"
	"github.com/tombee/conductor-worker/internal/runner"
	"github.com/tombee/conductor-worker/internal/wlog"
	"github.com/tombee/conductor-worker/worker"
)

// Supervisor owns the set of runners built from every registered
// Handler and the shared collaborators each of them needs: the Server
// Client, the Event Bus, and the environment source the Config Resolver
// consults.
type Supervisor struct {
	handlers []worker.Handler
	client   client.Client
	bus      *events.Bus
	env      config.EnvSource
	logger   *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithEnv overrides the environment source the Config Resolver consults
// (OSEnv by default). Tests supply a config.MapEnv.
func WithEnv(env config.EnvSource) Option {
	return func(s *Supervisor) { s.env = env }
}

// WithLogger overrides the base logger every runner derives its own
// worker/task-type-scoped logger from.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// WithHandlers overrides handler discovery: rather than snapshotting
// worker.Registered(), the Supervisor launches exactly the handlers
// given. Useful for tests and for a caller that wants to launch a
// subset of what an imported module registered.
func WithHandlers(handlers []worker.Handler) Option {
	return func(s *Supervisor) { s.handlers = handlers }
}

// New builds a Supervisor over c and bus. With no WithHandlers option it
// discovers handlers from worker.Registered(), covering both explicit
// registration and module import side effects: an embedding binary
// triggers the latter by blank-importing its handler packages before
// calling New.
func New(c client.Client, bus *events.Bus, opts ...Option) *Supervisor {
	s := &Supervisor{
		client: c,
		bus:    bus,
		env:    config.OSEnv{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handlers == nil {
		s.handlers = worker.Registered()
	}
	return s
}

// handlerDefaults builds the code-level defaults map config.Resolve
// consults: h.Options first,
// with h.MaxConcurrent/h.Domain filled in for any key h.Options didn't
// already set. h.Options wins on conflict since it is the handler
// author's explicit, property-keyed override.
func handlerDefaults(h worker.Handler) map[string]string {
	defaults := make(map[string]string, len(h.Options)+2)
	for k, v := range h.Options {
		defaults[k] = v
	}
	if _, ok := defaults["max_concurrent"]; !ok && h.MaxConcurrent > 0 {
		defaults["max_concurrent"] = strconv.Itoa(h.MaxConcurrent)
	}
	if _, ok := defaults["domain"]; !ok && h.Domain != "" {
		defaults["domain"] = h.Domain
	}
	return defaults
}

// Run resolves configuration and launches one runner per handler,
// blocking until ctx is cancelled, at which point every runner is asked
// to stop and Run waits for all of them to return. A ConfigurationError
// resolving one handler's options is a startup failure for that handler
// alone — it is logged and that handler is skipped, but every other
// handler still launches; Run only returns a non-nil error once every
// handler has failed to resolve, or when the errgroup reports one. A
// registration failure never aborts startup.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.handlers) == 0 {
		s.logger.Warn("supervisor started with no registered handlers")
		return nil
	}

	type launch struct {
		handler worker.Handler
		opts    config.ResolvedOptions
	}

	launches := make([]launch, 0, len(s.handlers))
	var resolveErrs []error
	for _, h := range s.handlers {
		defaults := handlerDefaults(h)
		opts, err := config.Resolve(s.env, h.TaskType, defaults)
		if err != nil {
			resolveErrs = append(resolveErrs, fmt.Errorf("resolve config for handler %q: %w", h.TaskType, err))
			s.logger.Error("handler configuration invalid; not starting its runner", wlog.TaskTypeKey, h.TaskType, "error", err)
			continue
		}
		launches = append(launches, launch{handler: h, opts: opts})
	}

	if len(launches) == 0 {
		return errors.Join(resolveErrs...)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, l := range launches {
		h, opts := l.handler, l.opts

		if opts.RegisterTaskDef {
			registration.Register(ctx, s.client, h, opts.OverwriteTaskDef, opts.StrictSchema, wlog.WithWorker(s.logger, opts.WorkerID, h.TaskType))
		}

		variant := selectVariant(h)
		runID := uuid.NewString()
		g.Go(func() error {
			s.runIsolated(gctx, h, opts, variant, runID)
			return nil
		})
	}

	return g.Wait()
}

// runIsolated runs exactly one Runner to completion, recovering any
// panic from the runner's own goroutine so it can never propagate past
// this boundary. Runners are supervised tasks within one process rather
// than one OS process each; this recovered goroutine boundary is the
// whole of the isolation guarantee.
func (s *Supervisor) runIsolated(ctx context.Context, h worker.Handler, opts config.ResolvedOptions, variant runner.Variant, runID string) {
	logger := wlog.WithWorker(s.logger, opts.WorkerID, h.TaskType).With("run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("runner panicked; isolating failure from other runners",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	r := runner.New(h, opts, s.client, s.bus, logger, variant)
	logger.Info("runner starting", "max_concurrent", opts.MaxConcurrent, "poll_interval_millis", opts.PollIntervalMillis)
	r.Run(ctx)
	logger.Info("runner stopped")
}
