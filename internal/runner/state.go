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
	"sync"
	"time"
)

// state is the runner's private bookkeeping, touched only by the
// orchestrating goroutine except for completions, which executors send
// on without otherwise mutating the in-flight set themselves.
type state struct {
	mu sync.Mutex

	inflight map[string]struct{}

	consecutiveEmptyPolls int
	lastPollAt            time.Time

	authFailureCount int
	lastAuthFailure  time.Time

	paused bool

	completions chan string
}

// newState sizes the completion channel to the concurrency gate width so
// an executor's completion signal can never block.
func newState(paused bool, maxConcurrent int) *state {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &state{
		inflight:    make(map[string]struct{}),
		paused:      paused,
		completions: make(chan string, maxConcurrent),
	}
}

// reap drains every pending completion signal, removing the named tasks
// from the in-flight set.
func (s *state) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case id := <-s.completions:
			delete(s.inflight, id)
		default:
			return
		}
	}
}

func (s *state) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *state) addInflight(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[taskID] = struct{}{}
}

// complete is called by an executor once a task's update phase has
// terminated. It never mutates the in-flight set directly; the
// orchestrating actor reaps it on its next iteration.
func (s *state) complete(taskID string) {
	s.completions <- taskID
}

func (s *state) onEmptyPoll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveEmptyPolls++
	s.lastPollAt = time.Now()
}

func (s *state) onNonEmptyPoll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveEmptyPolls = 0
	s.lastPollAt = time.Now()
}

func (s *state) emptyPollSnapshot() (n int, lastPollAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveEmptyPolls, s.lastPollAt
}

func (s *state) onAuthFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFailureCount++
	s.lastAuthFailure = time.Now()
}

func (s *state) authSnapshot() (count int, lastFailure time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailureCount, s.lastAuthFailure
}

// resetAuthFailures clears the auth backoff counter. Called only after
// a successful (2xx) poll; a poll that fails with a non-auth error
// neither increments nor resets it.
func (s *state) resetAuthFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFailureCount = 0
	s.lastAuthFailure = time.Time{}
}

func (s *state) isPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *state) setPaused(p bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = p
}
