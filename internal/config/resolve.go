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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// property describes one recognized config key: its name, coercion kind,
// and system default.
type property struct {
	name string
	kind string // "int", "bool", "string"
	def  string
}

var properties = []property{
	{"poll_interval_millis", "int", "100"},
	{"max_concurrent", "int", "1"},
	{"domain", "string", ""},
	{"worker_id", "string", ""}, // system default is host-derived, see resolveWorkerID
	{"poll_timeout_millis", "int", "100"},
	{"register_task_def", "bool", "false"},
	{"overwrite_task_def", "bool", "true"},
	{"strict_schema", "bool", "false"},
	{"paused", "bool", "false"},
}

// Resolve produces a ResolvedOptions for handlerName, consulting env in
// the five-tier environment precedence order, falling back to defaults
// (the handler's code-level option bag) and then the system default.
func Resolve(env EnvSource, handlerName string, defaults map[string]string) (ResolvedOptions, error) {
	var opts ResolvedOptions

	values := make(map[string]string, len(properties))
	for _, p := range properties {
		raw, err := resolveRaw(env, handlerName, p, defaults)
		if err != nil {
			return ResolvedOptions{}, err
		}
		values[p.name] = raw
	}

	var err error
	if opts.PollIntervalMillis, err = parseInt("poll_interval_millis", values["poll_interval_millis"]); err != nil {
		return ResolvedOptions{}, err
	}
	if opts.MaxConcurrent, err = parseInt("max_concurrent", values["max_concurrent"]); err != nil {
		return ResolvedOptions{}, err
	}
	opts.Domain = values["domain"]
	opts.WorkerID = values["worker_id"]
	if opts.WorkerID == "" {
		opts.WorkerID = resolveWorkerID()
	}
	if opts.PollTimeoutMillis, err = parseInt("poll_timeout_millis", values["poll_timeout_millis"]); err != nil {
		return ResolvedOptions{}, err
	}
	if opts.RegisterTaskDef, err = parseBool("register_task_def", values["register_task_def"]); err != nil {
		return ResolvedOptions{}, err
	}
	if opts.OverwriteTaskDef, err = parseBool("overwrite_task_def", values["overwrite_task_def"]); err != nil {
		return ResolvedOptions{}, err
	}
	if opts.StrictSchema, err = parseBool("strict_schema", values["strict_schema"]); err != nil {
		return ResolvedOptions{}, err
	}
	if opts.Paused, err = parseBool("paused", values["paused"]); err != nil {
		return ResolvedOptions{}, err
	}

	return opts, nil
}

// resolveRaw walks the six precedence tiers for a single property,
// returning the first value found (or the system default).
func resolveRaw(env EnvSource, handlerName string, p property, defaults map[string]string) (string, error) {
	lowerHandler := strings.ToLower(handlerName)
	upperHandler := strings.ToUpper(sanitizeIdent(handlerName))
	upperProp := strings.ToUpper(p.name)

	tiers := []string{
		fmt.Sprintf("conductor.worker.%s.%s", lowerHandler, p.name),
		fmt.Sprintf("CONDUCTOR_WORKER_%s_%s", upperHandler, upperProp),
		fmt.Sprintf("conductor.worker.all.%s", p.name),
		fmt.Sprintf("CONDUCTOR_WORKER_ALL_%s", upperProp),
		fmt.Sprintf("CONDUCTOR_WORKER_%s", upperProp),
	}

	for _, key := range tiers {
		if v, ok := env.Lookup(key); ok {
			return v, nil
		}
	}

	if v, ok := defaults[p.name]; ok {
		return v, nil
	}

	return p.def, nil
}

// sanitizeIdent uppercases a handler name for use in an env var name,
// replacing characters that can't appear in one (e.g. "-") with "_".
func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func parseInt(key, raw string) (int, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, NewConfigurationError(key, raw, err)
	}
	return int(n), nil
}

func parseBool(key, raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, NewConfigurationError(key, raw, fmt.Errorf("expected one of true/1/yes/false/0/no"))
	}
}

// resolveWorkerID derives a worker identity from the host when no tier
// provided one explicitly.
func resolveWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown-worker"
	}
	return host
}
