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

// Package metrics is a Prometheus event-bus listener that turns the
// runner's lifecycle events into counters and histograms, without the
// runner itself knowing Prometheus exists.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/conductor-worker/internal/events"
)

// Listener records Prometheus metrics for every lifecycle event it
// observes. Register it on a Bus with Attach.
type Listener struct {
	pollTotal         *prometheus.CounterVec
	pollDuration      *prometheus.HistogramVec
	executionTotal    *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	updateFailures    *prometheus.CounterVec
}

// NewListener registers its collectors with reg and returns the
// listener. Passing prometheus.NewRegistry() keeps metrics isolated per
// test; production callers typically pass prometheus.DefaultRegisterer.
func NewListener(reg prometheus.Registerer) *Listener {
	l := &Listener{
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_worker_poll_total",
			Help: "Total number of batch_poll calls, labeled by task type and outcome.",
		}, []string{"task_type", "outcome"}),
		pollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_worker_poll_duration_seconds",
			Help:    "Duration of batch_poll calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type"}),
		executionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_worker_task_execution_total",
			Help: "Total number of task executions, labeled by task type and outcome.",
		}, []string{"task_type", "outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_worker_task_execution_duration_seconds",
			Help:    "Duration of task executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type"}),
		updateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_worker_update_failure_total",
			Help: "Total number of update_task calls that exhausted their retry budget.",
		}, []string{"task_type"}),
	}

	reg.MustRegister(l.pollTotal, l.pollDuration, l.executionTotal, l.executionDuration, l.updateFailures)
	return l
}

// PollTotal exposes the poll-outcome counter for callers (tests,
// additional exporters) that need to read it directly.
func (l *Listener) PollTotal() *prometheus.CounterVec { return l.pollTotal }

// ExecutionTotal exposes the execution-outcome counter for callers
// (tests, additional exporters) that need to read it directly.
func (l *Listener) ExecutionTotal() *prometheus.CounterVec { return l.executionTotal }

// Attach subscribes the listener to every lifecycle event it cares
// about.
func (l *Listener) Attach(bus *events.Bus) {
	bus.Subscribe(events.PollCompleted, l.onPollCompleted)
	bus.Subscribe(events.PollFailure, l.onPollFailure)
	bus.Subscribe(events.TaskExecutionComplete, l.onExecutionComplete)
	bus.Subscribe(events.TaskExecutionFailure, l.onExecutionFailure)
	bus.Subscribe(events.TaskUpdateFailure, l.onUpdateFailure)
}

func (l *Listener) onPollCompleted(e events.Event) {
	data, ok := e.Data.(*events.PollCompletedData)
	if !ok {
		return
	}
	l.pollTotal.WithLabelValues(e.TaskType, "success").Inc()
	l.pollDuration.WithLabelValues(e.TaskType).Observe(data.Duration.Seconds())
}

func (l *Listener) onPollFailure(e events.Event) {
	data, ok := e.Data.(*events.PollFailureData)
	if !ok {
		return
	}
	l.pollTotal.WithLabelValues(e.TaskType, "failure").Inc()
	l.pollDuration.WithLabelValues(e.TaskType).Observe(data.Duration.Seconds())
}

func (l *Listener) onExecutionComplete(e events.Event) {
	data, ok := e.Data.(*events.TaskExecutionCompleteData)
	if !ok {
		return
	}
	l.executionTotal.WithLabelValues(e.TaskType, "success").Inc()
	l.executionDuration.WithLabelValues(e.TaskType).Observe(data.Duration.Seconds())
}

func (l *Listener) onExecutionFailure(e events.Event) {
	data, ok := e.Data.(*events.TaskExecutionFailureData)
	if !ok {
		return
	}
	outcome := "failure"
	if data.IsTerminal {
		outcome = "terminal_failure"
	}
	l.executionTotal.WithLabelValues(e.TaskType, outcome).Inc()
	l.executionDuration.WithLabelValues(e.TaskType).Observe(data.Duration.Seconds())
}

func (l *Listener) onUpdateFailure(e events.Event) {
	l.updateFailures.WithLabelValues(e.TaskType).Inc()
}
