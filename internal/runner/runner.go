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

// Package runner is the per-handler polling/execution engine: a single
// orchestrating goroutine that interleaves capacity accounting, batch
// polling, dispatch to a bounded concurrency gate, and at-least-once
// result delivery.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/internal/config"
	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/internal/wlog"
	"github.com/tombee/conductor-worker/pkg/werrors"
	"github.com/tombee/conductor-worker/worker"
)

// Variant selects the concurrency substrate a Runner dispatches
// through. Go collapses both variants onto the same goroutine-gated
// executor; the two constants still exist so callers can request either
// one and get an independently constructible, independently testable
// executor.
type Variant int

const (
	// ThreadPool is the variant for blocking handlers.
	ThreadPool Variant = iota
	// Cooperative is the variant for cooperative handlers.
	Cooperative
)

// Runner is the Task Runner for exactly one Handler. Its zero value is
// not usable; construct with New.
type Runner struct {
	handler worker.Handler
	opts    config.ResolvedOptions
	client  client.Client
	bus     *events.Bus
	logger  *slog.Logger

	state *state
	exec  executor
}

// New constructs a Runner for h using opts, polling through c and
// publishing lifecycle events on bus. variant selects the concurrency
// substrate (see Variant); both currently build the same goroutine-gated
// executor.
func New(h worker.Handler, opts config.ResolvedOptions, c client.Client, bus *events.Bus, logger *slog.Logger, variant Variant) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	var exec executor
	switch variant {
	case Cooperative:
		exec = newGoroutineExecutor(opts.MaxConcurrent)
	default:
		exec = newPoolExecutor(opts.MaxConcurrent)
	}

	return &Runner{
		handler: h,
		opts:    opts,
		client:  c,
		bus:     bus,
		logger:  wlog.WithWorker(logger, opts.WorkerID, h.TaskType),
		state:   newState(opts.Paused, opts.MaxConcurrent),
		exec:    exec,
	}
}

// minStepSleep is the floor sleep used when the loop has nothing to do
// this iteration; it keeps the orchestrating goroutine from busy-spinning
// while still reacting promptly once capacity or the auth backoff window
// opens up.
const minStepSleep = 1 * time.Millisecond

// Run begins the runner's poll-and-dispatch loop. It blocks until ctx
// is cancelled, at which point it stops polling and waits for in-flight
// executors' update attempts to terminate before returning.
func (r *Runner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			r.drain()
			return
		}
		r.step(ctx)
	}
}

// step performs one loop iteration: reap, capacity check, backoffs,
// poll, dispatch.
func (r *Runner) step(ctx context.Context) {
	r.state.reap()

	inflight := r.state.inflightCount()
	if inflight >= r.opts.MaxConcurrent {
		sleepCtx(ctx, minStepSleep)
		return
	}

	if n, lastPollAt := r.state.emptyPollSnapshot(); n > 0 {
		delay := emptyPollDelay(n, r.opts.PollIntervalMillis)
		if remaining := delay - time.Since(lastPollAt); remaining > 0 {
			sleepCtx(ctx, remaining)
			return
		}
	}

	if count, lastFailure := r.state.authSnapshot(); count > 0 {
		backoff := authBackoff(count)
		if remaining := backoff - time.Since(lastFailure); remaining > 0 {
			sleepCtx(ctx, 100*time.Millisecond)
			return
		}
	}

	if r.state.isPaused() {
		sleepCtx(ctx, time.Duration(r.opts.PollIntervalMillis)*time.Millisecond)
		return
	}

	slots := r.opts.MaxConcurrent - inflight
	tasks, err := r.poll(ctx, slots)
	if err != nil {
		return
	}

	r.dispatch(ctx, tasks)
}

// emptyPollDelay computes the empty-poll backoff:
// min(1ms * 2^min(n,10), poll_interval_millis).
func emptyPollDelay(n, pollIntervalMillis int) time.Duration {
	if n > 10 {
		n = 10
	}
	delay := minStepSleep * time.Duration(1<<uint(n))
	ceiling := time.Duration(pollIntervalMillis) * time.Millisecond
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// authBackoff computes the auth-failure backoff:
// min(2^auth_failure_count, 60) seconds.
func authBackoff(authFailureCount int) time.Duration {
	n := authFailureCount
	if n > 6 {
		n = 6 // 2^6 == 64 already exceeds the 60s cap
	}
	backoff := time.Duration(1<<uint(n)) * time.Second
	const cap = 60 * time.Second
	if backoff > cap {
		return cap
	}
	return backoff
}

// poll emits PollStarted, calls batch_poll, classifies the outcome into
// auth/empty-poll state transitions, and emits the matching completion
// event.
func (r *Runner) poll(ctx context.Context, slots int) ([]*worker.Task, error) {
	r.bus.Publish(events.Event{
		Type:     events.PollStarted,
		TaskType: r.handler.TaskType,
		Data: &events.PollStartedData{
			WorkerID:       r.opts.WorkerID,
			RequestedCount: slots,
		},
	})

	start := time.Now()
	tasks, err := r.client.BatchPoll(ctx, client.PollRequest{
		TaskType:      r.handler.TaskType,
		WorkerID:      r.opts.WorkerID,
		Count:         slots,
		TimeoutMillis: r.opts.PollTimeoutMillis,
		Domain:        r.opts.Domain,
	})
	duration := time.Since(start)

	if err != nil {
		var authErr *werrors.AuthError
		if werrors.As(err, &authErr) {
			r.state.onAuthFailure()
		}
		r.bus.Publish(events.Event{
			Type:     events.PollFailure,
			TaskType: r.handler.TaskType,
			Data: &events.PollFailureData{
				WorkerID: r.opts.WorkerID,
				Duration: duration,
				Cause:    err,
			},
		})
		return nil, err
	}

	r.state.resetAuthFailures()
	if len(tasks) == 0 {
		r.state.onEmptyPoll()
	} else {
		r.state.onNonEmptyPoll()
	}

	r.bus.Publish(events.Event{
		Type:     events.PollCompleted,
		TaskType: r.handler.TaskType,
		Data: &events.PollCompletedData{
			WorkerID:      r.opts.WorkerID,
			Duration:      duration,
			ReceivedCount: len(tasks),
		},
	})

	return tasks, nil
}

// dispatch acquires a concurrency slot per task (guaranteed available
// since slots was computed against free capacity) and hands each task
// to the executor as an execute-and-update unit.
func (r *Runner) dispatch(ctx context.Context, tasks []*worker.Task) {
	detached := context.Background()

	for _, task := range tasks {
		release, err := r.exec.acquire(ctx)
		if err != nil {
			r.logger.Warn("failed to acquire concurrency slot for polled task", wlog.TaskIDKey, task.ID, "error", err)
			continue
		}

		r.state.addInflight(task.ID)
		t := task
		rel := release
		r.exec.run(t, func() {
			defer rel()
			r.executeAndUpdate(detached, t)
		})
	}
}

// drain waits for every currently in-flight executor to signal
// completion on a best-effort basis: executors are never cancelled
// mid-flight, only waited for.
// It polls state.reap on a short interval until the in-flight set is
// empty; the wait has no upper bound, so a stuck update attempt holds
// up shutdown until it finishes.
func (r *Runner) drain() {
	const pollInterval = 50 * time.Millisecond
	for r.state.inflightCount() > 0 {
		time.Sleep(pollInterval)
		r.state.reap()
	}
}

// sleepCtx sleeps for d or returns early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
