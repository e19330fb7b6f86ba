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

	"github.com/tombee/conductor-worker/worker"
)

// executor is the concurrency gate a Runner dispatches through. Both
// variants below implement it identically; acquire blocks until a slot
// is free (or ctx is done), and run schedules fn to execute the task.
type executor interface {
	acquire(ctx context.Context) (release func(), err error)
	run(task *worker.Task, fn func())
}

// poolExecutor bounds concurrency with a buffered-channel semaphore of
// width max_concurrent, one per runner.
type poolExecutor struct {
	sem chan struct{}
}

func newPoolExecutor(maxConcurrent int) *poolExecutor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &poolExecutor{sem: make(chan struct{}, maxConcurrent)}
}

func (p *poolExecutor) acquire(ctx context.Context) (func(), error) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run dispatches fn onto its own goroutine.
func (p *poolExecutor) run(task *worker.Task, fn func()) {
	go fn()
}
