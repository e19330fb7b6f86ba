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

package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/internal/config"
	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/worker"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	oneShot []*worker.Task
}

func (f *fakeClient) BatchPoll(ctx context.Context, req client.PollRequest) ([]*worker.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.oneShot) > 0 {
		out := f.oneShot
		f.oneShot = nil
		return out, nil
	}
	return nil, nil
}

func (f *fakeClient) UpdateTask(ctx context.Context, result *worker.Result) (string, error) {
	return "", nil
}

func (f *fakeClient) RegisterTaskDefinition(ctx context.Context, def client.TaskDefinition, overwrite bool) error {
	return nil
}

func (f *fakeClient) RegisterSchema(ctx context.Context, name string, version int, body client.Schema) error {
	return nil
}

func TestRunLaunchesOneRunnerPerHandlerAndStopsOnCancel(t *testing.T) {
	fc := &fakeClient{}
	bus := events.New(nil)

	h1 := worker.Handler{TaskType: "one", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) { return nil, nil }}
	h2 := worker.Handler{TaskType: "two", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) { return nil, nil }}

	s := New(fc, bus, WithHandlers([]worker.Handler{h1, h2}), WithEnv(config.MapEnv{
		"CONDUCTOR_WORKER_ALL_POLL_INTERVAL_MILLIS": "5",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.calls > 0
	}, 300*time.Millisecond, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestHandlerDefaultsCarriesCodeLevelMaxConcurrentAndDomain(t *testing.T) {
	h := worker.Handler{TaskType: "greet", MaxConcurrent: 4, Domain: "reporting"}

	defaults := handlerDefaults(h)
	opts, err := config.Resolve(config.MapEnv{}, h.TaskType, defaults)
	require.NoError(t, err)

	assert.Equal(t, 4, opts.MaxConcurrent)
	assert.Equal(t, "reporting", opts.Domain)
}

func TestHandlerDefaultsOptionsOverrideCodeLevelFields(t *testing.T) {
	h := worker.Handler{
		TaskType:      "greet",
		MaxConcurrent: 4,
		Options:       map[string]string{"max_concurrent": "9"},
	}

	defaults := handlerDefaults(h)
	opts, err := config.Resolve(config.MapEnv{}, h.TaskType, defaults)
	require.NoError(t, err)

	assert.Equal(t, 9, opts.MaxConcurrent)
}

func TestRunSurfacesConfigurationError(t *testing.T) {
	fc := &fakeClient{}
	bus := events.New(nil)

	h := worker.Handler{TaskType: "bad", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) { return nil, nil }}

	s := New(fc, bus, WithHandlers([]worker.Handler{h}), WithEnv(config.MapEnv{
		"CONDUCTOR_WORKER_BAD_MAX_CONCURRENT": "not-a-number",
	}))

	err := s.Run(context.Background())
	require.Error(t, err)
}

func TestRunRecoversHandlerPanicWithoutPropagating(t *testing.T) {
	fc := &fakeClient{oneShot: []*worker.Task{{ID: "t1", TaskDefName: "panicky"}}}
	bus := events.New(nil)

	var failureSeen int32
	bus.Subscribe(events.TaskExecutionFailure, func(events.Event) {
		atomic.AddInt32(&failureSeen, 1)
	})

	h := worker.Handler{TaskType: "panicky", Execute: func(ctx *worker.Context, in struct{}) (map[string]any, error) {
		panic("boom")
	}}

	s := New(fc, bus, WithHandlers([]worker.Handler{h}), WithEnv(config.MapEnv{
		"CONDUCTOR_WORKER_ALL_POLL_INTERVAL_MILLIS": "5",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	assert.NotPanics(t, func() {
		err := s.Run(ctx)
		assert.NoError(t, err)
	})

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&failureSeen) > 0 }, time.Second, 5*time.Millisecond)
}
