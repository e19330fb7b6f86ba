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

package runner

import (
	"context"
	"time"

	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/internal/wlog"
	"github.com/tombee/conductor-worker/worker"
)

// retryDelays are the waits before attempts 2, 3, and 4 of update_task.
// They are fixed constants, not a formula: the schedule is 10s/20s/30s,
// not exponential and not 10*attempt (which would yield 20s/30s/40s).
var retryDelays = []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}

// performUpdate delivers result to the server, retrying up to three
// times after the initial attempt with the waits in retryDelays. A
// successful attempt returns immediately. After all four attempts
// fail, it emits TaskUpdateFailure and logs a critical message; the
// concurrency slot is released by the caller only after this returns.
func (r *Runner) performUpdate(ctx context.Context, result *worker.Result) {
	var lastErr error

	for attempt := 1; attempt <= 1+len(retryDelays); attempt++ {
		if attempt > 1 {
			if !sleep(ctx, retryDelays[attempt-2]) {
				lastErr = ctx.Err()
				break
			}
		}

		_, err := r.client.UpdateTask(ctx, result)
		if err == nil {
			return
		}
		lastErr = err
		r.logger.Warn("update_task attempt failed",
			wlog.TaskIDKey, result.TaskID,
			wlog.AttemptKey, attempt,
			"error", err,
		)
	}

	wlog.Critical(r.logger, "update_task exhausted all attempts",
		wlog.TaskIDKey, result.TaskID,
		"error", lastErr,
	)
	r.bus.Publish(events.Event{
		Type:     events.TaskUpdateFailure,
		TaskType: r.handler.TaskType,
		Data: &events.TaskUpdateFailureData{
			TaskID:             result.TaskID,
			WorkflowInstanceID: result.WorkflowInstanceID,
			WorkerID:           result.WorkerID,
			Attempts:           1 + len(retryDelays),
			Cause:              lastErr,
			TaskResult:         result,
		},
	})
}

// sleep waits for d or until ctx is cancelled, returning false in the
// latter case.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
