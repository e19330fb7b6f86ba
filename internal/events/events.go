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

// Package events is the typed, synchronous event bus that runners
// publish lifecycle events to. It is always an explicit value owned by
// the Supervisor, never a package-level singleton.
package events

import (
	"time"

	"github.com/tombee/conductor-worker/worker"
)

// Type identifies one of the seven lifecycle event variants a runner
// publishes.
type Type string

const (
	PollStarted           Type = "poll.started"
	PollCompleted         Type = "poll.completed"
	PollFailure           Type = "poll.failure"
	TaskExecutionStarted  Type = "task.execution.started"
	TaskExecutionComplete Type = "task.execution.completed"
	TaskExecutionFailure  Type = "task.execution.failure"
	TaskUpdateFailure     Type = "task.update.failure"
)

// Event is the immutable record published to every matching listener.
// Every variant carries Timestamp and TaskType; Data holds the
// variant-specific payload below.
type Event struct {
	Type      Type
	Timestamp time.Time
	TaskType  string
	Data      any
}

// PollStartedData is Event.Data for PollStarted.
type PollStartedData struct {
	WorkerID       string
	RequestedCount int
}

// PollCompletedData is Event.Data for PollCompleted.
type PollCompletedData struct {
	WorkerID      string
	Duration      time.Duration
	ReceivedCount int
}

// PollFailureData is Event.Data for PollFailure.
type PollFailureData struct {
	WorkerID string
	Duration time.Duration
	Cause    error
}

// TaskExecutionStartedData is Event.Data for TaskExecutionStarted.
type TaskExecutionStartedData struct {
	TaskID             string
	WorkflowInstanceID string
	WorkerID           string
}

// TaskExecutionCompleteData is Event.Data for TaskExecutionComplete.
type TaskExecutionCompleteData struct {
	TaskID             string
	WorkflowInstanceID string
	WorkerID           string
	Duration           time.Duration
	OutputSizeBytes    int
}

// TaskExecutionFailureData is Event.Data for TaskExecutionFailure.
type TaskExecutionFailureData struct {
	TaskID             string
	WorkflowInstanceID string
	WorkerID           string
	Duration           time.Duration
	Cause              error
	IsTerminal         bool
}

// TaskUpdateFailureData is Event.Data for TaskUpdateFailure. It carries
// the full, final TaskResult attempt so listeners can attempt external
// recovery once the update-retry budget is exhausted.
type TaskUpdateFailureData struct {
	TaskID             string
	WorkflowInstanceID string
	WorkerID           string
	Attempts           int
	Cause              error
	TaskResult         *worker.Result
}
