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

// Package registration pushes a handler's task definition and schemas to
// the server before its runner starts polling.
package registration

import (
	"context"
	"log/slog"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/internal/schema"
	"github.com/tombee/conductor-worker/internal/wlog"
	"github.com/tombee/conductor-worker/worker"
)

// Register runs the registration sequence for h against c: synthesize
// input/output schemas, build or copy a task-definition object, link in
// any schemas that registered successfully, then upsert or skip per
// overwrite. Every HTTP failure along the way, including the schema
// registry being entirely absent (a 404), is logged at warn and
// swallowed — the caller's runner proceeds to poll regardless.
func Register(ctx context.Context, c client.Client, h worker.Handler, overwrite, strictSchema bool, logger *slog.Logger) {
	def := buildTaskDefinition(h)

	if inputSchema, err := schema.ForInput(h, strictSchema); err != nil {
		logger.Warn("input schema synthesis failed", wlog.TaskTypeKey, h.TaskType, "error", err)
	} else if inputSchema != nil {
		name := h.TaskType + "_input"
		if err := c.RegisterSchema(ctx, name, 1, inputSchema); err != nil {
			logger.Warn("failed to register input schema", wlog.TaskTypeKey, h.TaskType, "error", err)
		} else {
			def["inputSchema"] = schemaRef(name, 1)
		}
	}

	if outputSchema, err := schema.ForOutput(h, strictSchema); err != nil {
		logger.Warn("output schema synthesis failed", wlog.TaskTypeKey, h.TaskType, "error", err)
	} else if outputSchema != nil {
		name := h.TaskType + "_output"
		if err := c.RegisterSchema(ctx, name, 1, outputSchema); err != nil {
			logger.Warn("failed to register output schema", wlog.TaskTypeKey, h.TaskType, "error", err)
		} else {
			def["outputSchema"] = schemaRef(name, 1)
		}
	}

	if err := c.RegisterTaskDefinition(ctx, def, overwrite); err != nil {
		logger.Warn("failed to register task definition", wlog.TaskTypeKey, h.TaskType, "error", err)
	}
}

func schemaRef(name string, version int) map[string]any {
	return map[string]any{"name": name, "version": version}
}

// buildTaskDefinition deep-copies h.TaskDefTemplate when present, else
// starts from a minimal record, then overrides the name.
func buildTaskDefinition(h worker.Handler) client.TaskDefinition {
	var def client.TaskDefinition
	if h.TaskDefTemplate != nil {
		def = deepCopy(h.TaskDefTemplate).(map[string]any)
	} else {
		def = client.TaskDefinition{}
	}
	def["name"] = h.TaskType
	return def
}

// deepCopy recursively copies maps and slices so a shared TaskDefTemplate
// value can never be mutated by registration.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return v
	}
}
