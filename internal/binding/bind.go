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

// Package binding converts a polled task's InputData into a handler's
// declared parameter type and classifies whatever the handler returns
// into one of the runner's known outcome shapes.
//
// This lives in its own leaf package, rather than alongside the
// supervisor that the type-directed binding was originally sketched
// against, because the runner package needs it to dispatch tasks and
// the supervisor needs to import the runner to launch one per handler.
// Putting it there would create an import cycle; binding has no
// dependency on either, so it sits underneath both.
package binding

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tombee/conductor-worker/worker"
)

// Outcome is the classified shape of a handler's return value, ready
// for the runner to fold into a worker.Result.
type Outcome struct {
	// InProgress is set when the handler reported it isn't done yet.
	InProgress *worker.InProgress

	// Result is set when the handler returned a *worker.Result directly,
	// taking full control of the fields sent to the server.
	Result *worker.Result

	// OutputData is set for every other successful outcome: an empty,
	// non-nil map when the handler returned nothing, a map, a struct
	// (JSON round-tripped), or a scalar (wrapped as {"result": value}).
	// It is always non-nil so a "no output" result serializes as
	// outputData: {} rather than omitting the field.
	OutputData map[string]any
}

var contextType = reflect.TypeOf(&worker.Context{})
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Invoke binds task.InputData to h.Execute's declared parameter type and
// calls it, returning the classified Outcome, or an error when the input
// cannot be bound or the handler returned one.
func Invoke(h worker.Handler, hctx *worker.Context, task *worker.Task) (Outcome, error) {
	fn := reflect.ValueOf(h.Execute)
	fnType := fn.Type()
	paramType := fnType.In(1)

	paramValue, err := bind(task.InputData, paramType)
	if err != nil {
		return Outcome{}, fmt.Errorf("bind input for task type %q: %w", h.TaskType, err)
	}

	results := fn.Call([]reflect.Value{reflect.ValueOf(hctx), paramValue})

	if errVal := results[1]; !errVal.IsNil() {
		return Outcome{}, errVal.Interface().(error)
	}

	return classify(results[0].Interface()), nil
}

// bind converts input into a reflect.Value of type paramType by
// round-tripping it through JSON. Invoke passes Execute's declared second
// parameter type (fnType.In(1)), including when it is `any` itself, in
// which case the round trip is a no-op down to map[string]any.
func bind(input map[string]any, paramType reflect.Type) (reflect.Value, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("marshal task input: %w", err)
	}

	out := reflect.New(paramType)
	if err := json.Unmarshal(data, out.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("unmarshal task input into %s: %w", paramType, err)
	}
	return out.Elem(), nil
}

// classify inspects a handler's return value and sorts it into the
// shape the runner needs. Order matters: *worker.InProgress and
// worker.InProgress are checked before *worker.Result and worker.Result
// since a handler is expected to return exactly one of the four, and
// nil must be checked before attempting a JSON round trip.
func classify(v any) Outcome {
	switch t := v.(type) {
	case *worker.InProgress:
		if t != nil {
			return Outcome{InProgress: t}
		}
		return Outcome{OutputData: map[string]any{}}
	case worker.InProgress:
		return Outcome{InProgress: &t}
	case *worker.Result:
		if t != nil {
			return Outcome{Result: t}
		}
		return Outcome{OutputData: map[string]any{}}
	case worker.Result:
		return Outcome{Result: &t}
	case nil:
		return Outcome{OutputData: map[string]any{}}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Ptr:
		data, err := json.Marshal(v)
		if err != nil {
			return Outcome{OutputData: map[string]any{"result": fmt.Sprintf("%v", v)}}
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return Outcome{OutputData: map[string]any{"result": fmt.Sprintf("%v", v)}}
		}
		if m == nil {
			m = map[string]any{}
		}
		return Outcome{OutputData: m}
	default:
		return Outcome{OutputData: map[string]any{"result": v}}
	}
}
