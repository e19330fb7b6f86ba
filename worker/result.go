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

// Status is the task-completion status reported to the server.
type Status string

const (
	StatusInProgress              Status = "IN_PROGRESS"
	StatusCompleted               Status = "COMPLETED"
	StatusFailed                  Status = "FAILED"
	StatusFailedWithTerminalError Status = "FAILED_WITH_TERMINAL_ERROR"
)

// LogEntry is a single log line attached to a TaskResult, visible in the
// Conductor UI alongside the task's execution history.
type LogEntry struct {
	Message     string `json:"message"`
	TaskID      string `json:"taskId,omitempty"`
	CreatedTime int64  `json:"createdTime,omitempty"`
}

// Result is the outcome of one task execution attempt, sent to the
// server via update_task. Built by the runner from a handler's return
// value; handlers may also return a *Result directly for full control.
type Result struct {
	TaskID                string         `json:"taskId"`
	WorkflowInstanceID    string         `json:"workflowInstanceId"`
	WorkerID              string         `json:"workerId"`
	Status                Status         `json:"status"`
	OutputData            map[string]any `json:"outputData"`
	ReasonForIncompletion string         `json:"reasonForIncompletion,omitempty"`
	CallbackAfterSeconds  int            `json:"callbackAfterSeconds,omitempty"`
	Logs                  []LogEntry     `json:"logs,omitempty"`
}

// InProgress is a handler's return value meaning "not done yet; call me
// back after CallbackAfterSeconds with this intermediate Output".
type InProgress struct {
	CallbackAfterSeconds int
	Output               map[string]any
}
