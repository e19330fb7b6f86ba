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

// goroutineExecutor is the cooperative-runner variant. Go has no
// distinct cooperative-scheduler substrate: every goroutine is
// pre-emptible and already cheap, so this variant collapses onto the
// same semaphore-gated goroutine dispatch as poolExecutor. It stays a
// distinct named type so the two variants remain independently
// constructible and testable, even though they are behaviorally
// identical.
type goroutineExecutor struct {
	*poolExecutor
}

func newGoroutineExecutor(maxConcurrent int) *goroutineExecutor {
	return &goroutineExecutor{poolExecutor: newPoolExecutor(maxConcurrent)}
}
