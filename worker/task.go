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

// Package worker is the public SDK surface for writing Conductor task
// handlers: register a Handler, have the runtime poll for work, and
// return a result (or an InProgress marker) from your function.
package worker

// Task is a task instance received from the Conductor server. It is
// opaque to handler code except for the fields below.
type Task struct {
	ID                     string         `json:"taskId"`
	WorkflowInstanceID     string         `json:"workflowInstanceId"`
	TaskDefName            string         `json:"taskDefName"`
	InputData              map[string]any `json:"inputData"`
	PollCount              int            `json:"pollCount"`
	RetryCount             int            `json:"retryCount"`
	CallbackAfterSeconds   int            `json:"callbackAfterSeconds"`
	ResponseTimeoutSeconds int            `json:"responseTimeoutSeconds"`
}
