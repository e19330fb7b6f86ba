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
	"fmt"
	"time"

	"github.com/tombee/conductor-worker/internal/binding"
	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/internal/wlog"
	"github.com/tombee/conductor-worker/pkg/werrors"
	"github.com/tombee/conductor-worker/worker"
)

// executeAndUpdate is the execute-and-update unit: invoke the handler,
// classify its outcome into a TaskResult,
// merge context side effects, then run the update-retry protocol. ctx
// is a detached context (not the runner's stop-cancelled one):
// executors are never cancelled mid-flight, only waited for.
func (r *Runner) executeAndUpdate(ctx context.Context, task *worker.Task) {
	defer r.state.complete(task.ID)

	result := &worker.Result{
		TaskID:             task.ID,
		WorkflowInstanceID: task.WorkflowInstanceID,
		WorkerID:           r.opts.WorkerID,
		OutputData:         map[string]any{},
	}

	r.bus.Publish(events.Event{
		Type:     events.TaskExecutionStarted,
		TaskType: r.handler.TaskType,
		Data: &events.TaskExecutionStartedData{
			TaskID:             task.ID,
			WorkflowInstanceID: task.WorkflowInstanceID,
			WorkerID:           r.opts.WorkerID,
		},
	})

	hctx := worker.NewContext(ctx, task)
	start := time.Now()
	outcome, err := r.invokeRecovered(hctx, task)
	duration := time.Since(start)

	logs, callbackOverride := hctx.Drain()

	switch {
	case err != nil:
		var terminal *werrors.HandlerTerminalError
		isTerminal := werrors.As(err, &terminal)
		if isTerminal {
			result.Status = worker.StatusFailedWithTerminalError
			result.ReasonForIncompletion = terminal.Reason
		} else {
			result.Status = worker.StatusFailed
			result.ReasonForIncompletion = err.Error()
		}
		r.bus.Publish(events.Event{
			Type:     events.TaskExecutionFailure,
			TaskType: r.handler.TaskType,
			Data: &events.TaskExecutionFailureData{
				TaskID:             task.ID,
				WorkflowInstanceID: task.WorkflowInstanceID,
				WorkerID:           r.opts.WorkerID,
				Duration:           duration,
				Cause:              err,
				IsTerminal:         isTerminal,
			},
		})

	case outcome.InProgress != nil:
		result.Status = worker.StatusInProgress
		result.OutputData = outcome.InProgress.Output
		if result.OutputData == nil {
			result.OutputData = map[string]any{}
		}
		result.CallbackAfterSeconds = outcome.InProgress.CallbackAfterSeconds
		r.publishExecutionComplete(task, result, duration)

	case outcome.Result != nil:
		result = outcome.Result
		if result.TaskID == "" {
			result.TaskID = task.ID
		}
		if result.WorkflowInstanceID == "" {
			result.WorkflowInstanceID = task.WorkflowInstanceID
		}
		if result.WorkerID == "" {
			result.WorkerID = r.opts.WorkerID
		}
		if result.OutputData == nil {
			result.OutputData = map[string]any{}
		}
		r.publishExecutionComplete(task, result, duration)

	default:
		result.Status = worker.StatusCompleted
		result.OutputData = outcome.OutputData
		r.publishExecutionComplete(task, result, duration)
	}

	result.Logs = append(result.Logs, logs...)
	if callbackOverride != nil && result.Status == worker.StatusCompleted {
		result.CallbackAfterSeconds = *callbackOverride
	}

	r.performUpdate(ctx, result)
}

// invokeRecovered calls binding.Invoke and converts a panicking handler
// into a HandlerError rather than letting it unwind onto the executor's
// goroutine. A handler's executor goroutine is distinct from the
// supervisor's runner goroutine, so a panic here would otherwise crash
// the process regardless of the supervisor's recover boundary.
func (r *Runner) invokeRecovered(hctx *worker.Context, task *worker.Task) (outcome binding.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked",
				wlog.TaskIDKey, task.ID,
				"panic", rec,
			)
			err = &werrors.HandlerError{Reason: fmt.Sprintf("handler panicked: %v", rec)}
		}
	}()
	return binding.Invoke(r.handler, hctx, task)
}

func (r *Runner) publishExecutionComplete(task *worker.Task, result *worker.Result, duration time.Duration) {
	r.bus.Publish(events.Event{
		Type:     events.TaskExecutionComplete,
		TaskType: r.handler.TaskType,
		Data: &events.TaskExecutionCompleteData{
			TaskID:             task.ID,
			WorkflowInstanceID: task.WorkflowInstanceID,
			WorkerID:           r.opts.WorkerID,
			Duration:           duration,
			OutputSizeBytes:    outputSize(result.OutputData),
		},
	})
}

func outputSize(m map[string]any) int {
	if m == nil {
		return 0
	}
	n := 0
	for k, v := range m {
		n += len(k)
		if s, ok := v.(string); ok {
			n += len(s)
		} else {
			n += 8
		}
	}
	return n
}
