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
	"github.com/tombee/conductor-worker/internal/runner"
	"github.com/tombee/conductor-worker/worker"
)

// selectVariant decides which runner.Variant a handler should run
// under. Go draws no syntactic line between cooperative and blocking
// functions: every Execute func runs on a pre-emptible goroutine
// regardless of whether its body blocks, so detection always selects
// runner.ThreadPool. Kept as a seam so a future handler-shape
// distinction (e.g. a marker field on Handler) has an obvious place to
// plug in.
func selectVariant(worker.Handler) runner.Variant {
	return runner.ThreadPool
}
