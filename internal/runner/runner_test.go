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
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/internal/config"
	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/pkg/werrors"
	"github.com/tombee/conductor-worker/worker"
)

// fakeClient is an in-memory client.Client backed by a queue of tasks
// and a recorded log of update calls, enough to drive the end-to-end
// scenarios below without a network.
type fakeClient struct {
	mu sync.Mutex

	queue        []*worker.Task
	pollErr      error
	pollCalls    []client.PollRequest
	updateCalls  []*worker.Result
	updateErrFor func(attempt int) error
	updates      int
}

func (f *fakeClient) BatchPoll(ctx context.Context, req client.PollRequest) ([]*worker.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls = append(f.pollCalls, req)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	n := req.Count
	if n > len(f.queue) {
		n = len(f.queue)
	}
	out := f.queue[:n]
	f.queue = f.queue[n:]
	return out, nil
}

func (f *fakeClient) UpdateTask(ctx context.Context, result *worker.Result) (string, error) {
	f.mu.Lock()
	f.updates++
	attempt := f.updates
	f.updateCalls = append(f.updateCalls, result)
	errFn := f.updateErrFor
	f.mu.Unlock()

	if errFn != nil {
		if err := errFn(attempt); err != nil {
			return "", err
		}
	}
	return "COMPLETED", nil
}

func (f *fakeClient) RegisterTaskDefinition(ctx context.Context, def client.TaskDefinition, overwrite bool) error {
	return nil
}

func (f *fakeClient) RegisterSchema(ctx context.Context, name string, version int, body client.Schema) error {
	return nil
}

func testOpts(maxConcurrent int) config.ResolvedOptions {
	return config.ResolvedOptions{
		PollIntervalMillis: 10,
		MaxConcurrent:      maxConcurrent,
		WorkerID:           "w1",
		PollTimeoutMillis:  10,
	}
}

// TestHappyPathSingleTask polls one task through a handler that greets
// by name and asserts the full event/update sequence.
func TestHappyPathSingleTask(t *testing.T) {
	fc := &fakeClient{queue: []*worker.Task{{ID: "t1", TaskDefName: "greet", InputData: map[string]any{"name": "World"}}}}
	bus := events.New(nil)

	var pollStarted, pollCompleted, execStarted, execCompleted int32
	// The runner keeps polling after the queue drains, so only the first
	// PollCompleted carries the task; later ones report 0.
	firstReceived := int32(-1)
	bus.Subscribe(events.PollStarted, func(events.Event) { atomic.AddInt32(&pollStarted, 1) })
	bus.Subscribe(events.PollCompleted, func(e events.Event) {
		atomic.AddInt32(&pollCompleted, 1)
		data := e.Data.(*events.PollCompletedData)
		atomic.CompareAndSwapInt32(&firstReceived, -1, int32(data.ReceivedCount))
	})
	bus.Subscribe(events.TaskExecutionStarted, func(events.Event) { atomic.AddInt32(&execStarted, 1) })
	bus.Subscribe(events.TaskExecutionComplete, func(events.Event) { atomic.AddInt32(&execCompleted, 1) })

	h := worker.Handler{TaskType: "greet", Execute: func(ctx *worker.Context, in struct {
		Name string `json:"name"`
	}) (string, error) {
		return "Hello " + in.Name, nil
	}}

	r := New(h, testOpts(1), fc, bus, nil, ThreadPool)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.updateCalls) == 1
	}, 400*time.Millisecond, 5*time.Millisecond)

	fc.mu.Lock()
	result := fc.updateCalls[0]
	fc.mu.Unlock()

	assert.Equal(t, worker.StatusCompleted, result.Status)
	assert.Equal(t, map[string]any{"result": "Hello World"}, result.OutputData)
	assert.Equal(t, int32(1), atomic.LoadInt32(&firstReceived))
	assert.Equal(t, int32(1), atomic.LoadInt32(&execStarted))
	assert.Equal(t, int32(1), atomic.LoadInt32(&execCompleted))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pollStarted), int32(1))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&pollCompleted), int32(1))
}

// TestTerminalVsRetryableFailure runs two tasks from the same poll, one
// failing terminally and one retryably, and asserts both statuses.
func TestTerminalVsRetryableFailure(t *testing.T) {
	fc := &fakeClient{queue: []*worker.Task{
		{ID: "a", TaskDefName: "mixed", InputData: map[string]any{"mode": "terminal"}},
		{ID: "b", TaskDefName: "mixed", InputData: map[string]any{"mode": "retryable"}},
	}}
	bus := events.New(nil)

	h := worker.Handler{TaskType: "mixed", Execute: func(ctx *worker.Context, in struct {
		Mode string `json:"mode"`
	}) (string, error) {
		if in.Mode == "terminal" {
			return "", werrors.NewTerminalError("bad input")
		}
		return "", &werrors.HandlerError{Reason: "timeout"}
	}}

	r := New(h, testOpts(2), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.updateCalls) == 2
	}, 400*time.Millisecond, 5*time.Millisecond)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	byID := map[string]*worker.Result{}
	for _, r := range fc.updateCalls {
		byID[r.TaskID] = r
	}
	require.Contains(t, byID, "a")
	require.Contains(t, byID, "b")
	assert.Equal(t, worker.StatusFailedWithTerminalError, byID["a"].Status)
	assert.Equal(t, "bad input", byID["a"].ReasonForIncompletion)
	assert.Equal(t, worker.StatusFailed, byID["b"].Status)
	assert.Equal(t, "timeout", byID["b"].ReasonForIncompletion)
}

// TestUpdateRetryExhaustion fails every update attempt with a 500 and
// asserts the TaskUpdateFailure event after four attempts, with the
// update-retry waits shortened via a package-level override so the test
// doesn't take 60 seconds.
func TestUpdateRetryExhaustion(t *testing.T) {
	original := retryDelays
	retryDelays = []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}
	defer func() { retryDelays = original }()

	fc := &fakeClient{
		queue:        []*worker.Task{{ID: "t1", TaskDefName: "flaky"}},
		updateErrFor: func(attempt int) error { return &werrors.RetriableHttpError{StatusCode: 500} },
	}
	bus := events.New(nil)

	var failureEvent *events.TaskUpdateFailureData
	var mu sync.Mutex
	bus.Subscribe(events.TaskUpdateFailure, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		data := e.Data.(*events.TaskUpdateFailureData)
		failureEvent = data
	})

	h := worker.Handler{TaskType: "flaky", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) {
		return map[string]any{"x": float64(1)}, nil
	}}

	r := New(h, testOpts(1), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failureEvent != nil
	}, 900*time.Millisecond, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, failureEvent.Attempts)
	assert.Equal(t, map[string]any{"x": float64(1)}, failureEvent.TaskResult.OutputData)
}

// TestAuthBackoffDefersSubsequentPolls asserts a 401 poll increments
// the auth counter and defers further polls.
func TestAuthBackoffDefersSubsequentPolls(t *testing.T) {
	fc := &fakeClient{pollErr: &werrors.AuthError{StatusCode: 401}}
	bus := events.New(nil)

	h := worker.Handler{TaskType: "t", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) {
		return nil, nil
	}}

	r := New(h, testOpts(1), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	count, _ := r.state.authSnapshot()
	assert.Equal(t, 1, count)

	fc.mu.Lock()
	polls := len(fc.pollCalls)
	fc.mu.Unlock()
	// Within 150ms and a 2s backoff after the first 401, no more than a
	// couple of polls should have gone out.
	assert.Less(t, polls, 5)
}

// TestHandlerReturningNothingYieldsEmptyOutputData asserts a handler
// returning nothing yields outputData == {} — a present, non-nil, empty
// map, not an omitted or null field.
func TestHandlerReturningNothingYieldsEmptyOutputData(t *testing.T) {
	fc := &fakeClient{queue: []*worker.Task{{ID: "t1", TaskDefName: "noop"}}}
	bus := events.New(nil)

	h := worker.Handler{TaskType: "noop", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) {
		return nil, nil
	}}

	r := New(h, testOpts(1), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.updateCalls) == 1
	}, 400*time.Millisecond, 5*time.Millisecond)

	fc.mu.Lock()
	result := fc.updateCalls[0]
	fc.mu.Unlock()

	assert.Equal(t, worker.StatusCompleted, result.Status)
	require.NotNil(t, result.OutputData)
	assert.Empty(t, result.OutputData)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outputData":{}`)
}

// TestMaxConcurrentOneLinearises asserts that with max_concurrent=1 no
// second task is dispatched while the first is still in flight.
func TestMaxConcurrentOneLinearises(t *testing.T) {
	fc := &fakeClient{queue: []*worker.Task{{ID: "a"}, {ID: "b"}}}
	bus := events.New(nil)

	var concurrent int32
	var maxObserved int32
	started := make(chan struct{}, 2)

	h := worker.Handler{TaskType: "t", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxObserved)
			if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
				break
			}
		}
		started <- struct{}{}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	}}

	r := New(h, testOpts(1), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.updateCalls) == 2
	}, 400*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxObserved))
}

// TestDynamicBatchSizing runs 25 slow tasks through a runner with
// max_concurrent=10 and asserts every poll requested between 1 and 10
// tasks, with the first poll asking for the full 10.
func TestDynamicBatchSizing(t *testing.T) {
	queue := make([]*worker.Task, 25)
	for i := range queue {
		queue[i] = &worker.Task{ID: string(rune('a' + i)), TaskDefName: "slow"}
	}
	fc := &fakeClient{queue: queue}
	bus := events.New(nil)

	var concurrent, maxObserved int32
	h := worker.Handler{TaskType: "slow", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			old := atomic.LoadInt32(&maxObserved)
			if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil, nil
	}}

	r := New(h, testOpts(10), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.updateCalls) == 25
	}, 1900*time.Millisecond, 5*time.Millisecond)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NotEmpty(t, fc.pollCalls)
	assert.Equal(t, 10, fc.pollCalls[0].Count)
	for _, p := range fc.pollCalls {
		assert.GreaterOrEqual(t, p.Count, 1)
		assert.LessOrEqual(t, p.Count, 10)
	}
	assert.Len(t, fc.updateCalls, 25)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(10))
}

// TestInProgressMarkerRoundTrips feeds the same logical task back three
// times, the handler reporting IN_PROGRESS twice before completing, and
// asserts the three update statuses and the poll count the handler saw
// on its final invocation.
func TestInProgressMarkerRoundTrips(t *testing.T) {
	fc := &fakeClient{queue: []*worker.Task{
		{ID: "t1", TaskDefName: "long", PollCount: 1},
		{ID: "t1", TaskDefName: "long", PollCount: 2},
		{ID: "t1", TaskDefName: "long", PollCount: 3},
	}}
	bus := events.New(nil)

	var lastPollCount int32
	h := worker.Handler{TaskType: "long", Execute: func(ctx *worker.Context, in struct{}) (any, error) {
		atomic.StoreInt32(&lastPollCount, int32(ctx.Task().PollCount))
		if ctx.Task().PollCount < 3 {
			return &worker.InProgress{CallbackAfterSeconds: 30, Output: map[string]any{"progress": 50}}, nil
		}
		return map[string]any{"progress": 100}, nil
	}}

	r := New(h, testOpts(1), fc, bus, nil, ThreadPool)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.updateCalls) == 3
	}, 900*time.Millisecond, 5*time.Millisecond)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, worker.StatusInProgress, fc.updateCalls[0].Status)
	assert.Equal(t, 30, fc.updateCalls[0].CallbackAfterSeconds)
	assert.Equal(t, map[string]any{"progress": 50}, fc.updateCalls[0].OutputData)
	assert.Equal(t, worker.StatusInProgress, fc.updateCalls[1].Status)
	assert.Equal(t, worker.StatusCompleted, fc.updateCalls[2].Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&lastPollCount))
}

func TestEmptyPollDelay(t *testing.T) {
	assert.Equal(t, 1*time.Millisecond, emptyPollDelay(0, 1000))
	assert.Equal(t, 2*time.Millisecond, emptyPollDelay(1, 1000))
	assert.Equal(t, 1024*time.Millisecond, emptyPollDelay(10, 2000))
	assert.Equal(t, 1024*time.Millisecond, emptyPollDelay(20, 2000))
	assert.Equal(t, 100*time.Millisecond, emptyPollDelay(10, 100))
}

func TestAuthBackoffDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, authBackoff(1))
	assert.Equal(t, 4*time.Second, authBackoff(2))
	assert.Equal(t, 60*time.Second, authBackoff(10))
}
