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
	"context"
	"sync"
	"time"
)

// Context is passed as the first argument to every handler invocation. It
// carries the underlying context.Context plus the task metadata and lets
// the handler append log entries or override the callback delay of a
// COMPLETED result without building a *Result by hand.
type Context struct {
	ctx  context.Context
	task *Task

	mu         sync.Mutex
	logs       []LogEntry
	callbackAt *int
}

// NewContext constructs a handler Context. Exported so tests can invoke
// handlers directly without a running Runner.
func NewContext(ctx context.Context, task *Task) *Context {
	return &Context{ctx: ctx, task: task}
}

// Context returns the underlying context.Context. The runner dispatches
// every task with a detached context, so it has no deadline and is not
// cancelled when the runner stops.
func (c *Context) Context() context.Context { return c.ctx }

// Task returns the task instance being executed.
func (c *Context) Task() *Task { return c.task }

// Log appends a log entry that will be attached to the eventual Result.
func (c *Context) Log(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, LogEntry{
		Message:     message,
		TaskID:      c.task.ID,
		CreatedTime: time.Now().UnixMilli(),
	})
}

// SetCallbackAfterSeconds overrides the callback delay that will be used
// if the handler's return value is classified as COMPLETED. It wins over
// a callback value set on a returned *Result whose status is COMPLETED;
// a *Result with any other status keeps its own callback value.
func (c *Context) SetCallbackAfterSeconds(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbackAt = &seconds
}

// Drain returns the accumulated logs and any callback-delay override.
// Called by the runner after a handler returns to merge context-side
// effects into the final Result; handlers have no reason to call it.
func (c *Context) Drain() ([]LogEntry, *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logs, c.callbackAt
}
