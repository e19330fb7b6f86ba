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

package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/conductor-worker/internal/events"
)

// Listener starts one span per task execution, keyed by TaskID, and ends
// it when the matching TaskExecutionComplete or TaskExecutionFailure
// event arrives. It is registered on a Bus with Attach.
type Listener struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewListener builds a Listener backed by p's tracer.
func NewListener(p *Provider) *Listener {
	return NewListenerWithTracer(p.tracer)
}

// NewListenerWithTracer builds a Listener backed by an arbitrary
// trace.Tracer, bypassing the OTLP-exporting Provider. Useful for
// wiring a Listener onto an in-memory trace.TracerProvider in tests.
func NewListenerWithTracer(tracer trace.Tracer) *Listener {
	return &Listener{tracer: tracer, spans: make(map[string]trace.Span)}
}

// Attach subscribes the listener to the task-execution lifecycle events
// on bus.
func (l *Listener) Attach(bus *events.Bus) {
	bus.Subscribe(events.TaskExecutionStarted, l.onStarted)
	bus.Subscribe(events.TaskExecutionComplete, l.onComplete)
	bus.Subscribe(events.TaskExecutionFailure, l.onFailure)
}

func (l *Listener) onStarted(e events.Event) {
	data, ok := e.Data.(*events.TaskExecutionStartedData)
	if !ok {
		return
	}

	_, span := l.tracer.Start(context.Background(), "task.execute",
		trace.WithAttributes(
			attribute.String("conductor.task_type", e.TaskType),
			attribute.String("conductor.task_id", data.TaskID),
			attribute.String("conductor.workflow_instance_id", data.WorkflowInstanceID),
			attribute.String("conductor.worker_id", data.WorkerID),
		),
	)

	l.mu.Lock()
	l.spans[data.TaskID] = span
	l.mu.Unlock()
}

func (l *Listener) onComplete(e events.Event) {
	data, ok := e.Data.(*events.TaskExecutionCompleteData)
	if !ok {
		return
	}
	span := l.take(data.TaskID)
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int("conductor.output_size_bytes", data.OutputSizeBytes))
	span.SetStatus(codes.Ok, "")
	span.End()
}

func (l *Listener) onFailure(e events.Event) {
	data, ok := e.Data.(*events.TaskExecutionFailureData)
	if !ok {
		return
	}
	span := l.take(data.TaskID)
	if span == nil {
		return
	}
	if data.Cause != nil {
		span.RecordError(data.Cause)
	}
	span.SetAttributes(attribute.Bool("conductor.terminal", data.IsTerminal))
	span.SetStatus(codes.Error, "task execution failed")
	span.End()
}

func (l *Listener) take(taskID string) trace.Span {
	l.mu.Lock()
	defer l.mu.Unlock()
	span := l.spans[taskID]
	delete(l.spans, taskID)
	return span
}
