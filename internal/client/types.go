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

package client

import (
	"context"

	"github.com/tombee/conductor-worker/worker"
)

// PollRequest parametrizes a batch_poll call.
type PollRequest struct {
	TaskType      string
	WorkerID      string
	Count         int
	TimeoutMillis int
	// Domain is omitted from the request entirely when empty.
	Domain string
}

// TaskDefinition is the task-definition object pushed to the server by
// the Registration Helper.
type TaskDefinition map[string]any

// Schema is a JSON-Schema draft-07 document registered under a name and
// version.
type Schema map[string]any

// Client is the Server Client contract consumed by the Task Runner and
// Registration Helper. Operations fail with *werrors.AuthError on 401/403,
// *werrors.RetriableHttpError on a transport failure or 5xx, and
// *werrors.HTTPStatusError on any other 4xx (see pkg/werrors); building
// a request or decoding a response can also fail with a wrapped error.
type Client interface {
	// BatchPoll returns at most req.Count tasks. A 2xx response with an
	// empty body yields an empty, non-error result.
	BatchPoll(ctx context.Context, req PollRequest) ([]*worker.Task, error)

	// UpdateTask reports a result and returns the server-acknowledged
	// status string. Idempotent on (TaskID, WorkflowInstanceID).
	UpdateTask(ctx context.Context, result *worker.Result) (string, error)

	// RegisterTaskDefinition upserts when overwrite is true; otherwise
	// it only creates the definition when absent.
	RegisterTaskDefinition(ctx context.Context, def TaskDefinition, overwrite bool) error

	// RegisterSchema registers a draft-07 JSON-Schema document under
	// name/version.
	RegisterSchema(ctx context.Context, name string, version int, body Schema) error
}
