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

/*
Package tracing provides OpenTelemetry-based distributed tracing for a
worker process. A Listener attaches to the runner's event bus and turns
the task-execution lifecycle into one span per task attempt.

# Quick Start

	provider, err := tracing.NewProvider(ctx, tracing.DefaultConfig())
	listener := tracing.NewListener(provider)
	listener.Attach(bus)

Spans start on TaskExecutionStarted and end on TaskExecutionComplete or
TaskExecutionFailure, carrying task type, task ID, workflow instance ID
and worker ID as attributes.

# Sampling

Sampling defaults to "sample everything"; Config.Sampling can switch to a
rate-based sampler. With AlwaysSampleErrors set, that sampler also keeps
every span that starts with an error=true or conductor.status=error
attribute. The task-execution spans this package starts carry neither
attribute when they start, so a failed execution is sampled at the base
rate like any other.
*/
package tracing
