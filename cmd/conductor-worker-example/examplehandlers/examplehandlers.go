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

// Package examplehandlers registers a couple of demonstration task
// handlers as its side effect. It exists to give
// cmd/conductor-worker-example a concrete worker.Handler to launch; a
// real worker process blank-imports its own handler packages the same
// way, each handler registering as an import side effect.
package examplehandlers

import (
	"fmt"

	"github.com/tombee/conductor-worker/worker"
)

// GreetInput is the declared parameter type for the "greet" handler.
type GreetInput struct {
	Name string `json:"name"`
}

// GreetOutput is the declared return type for the "greet" handler, used
// by schema synthesis when register_task_def is enabled.
type GreetOutput struct {
	Greeting string `json:"greeting"`
}

func init() {
	must(worker.Register(worker.Handler{
		TaskType:      "greet",
		MaxConcurrent: 4,
		Execute: func(ctx *worker.Context, in GreetInput) (GreetOutput, error) {
			if in.Name == "" {
				return GreetOutput{}, fmt.Errorf("name is required")
			}
			ctx.Log("greeting " + in.Name)
			return GreetOutput{Greeting: "Hello, " + in.Name + "!"}, nil
		},
	}))

	must(worker.Register(worker.Handler{
		TaskType:      "long_running_report",
		MaxConcurrent: 2,
		Execute: func(ctx *worker.Context, in struct {
			ReportID string `json:"reportId"`
		}) (any, error) {
			task := ctx.Task()
			if task.PollCount < 3 {
				return &worker.InProgress{
					CallbackAfterSeconds: 30,
					Output:               map[string]any{"progress": task.PollCount * 25},
				}, nil
			}
			return map[string]any{"reportId": in.ReportID, "progress": 100, "status": "done"}, nil
		},
	}))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
