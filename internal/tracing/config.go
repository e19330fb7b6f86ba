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

package tracing

import "time"

// Config holds tracing configuration for a worker process.
type Config struct {
	// Enabled records whether tracing is turned on. NewProvider does not
	// read it; the caller decides whether to build a Provider at all.
	Enabled bool

	// ServiceName identifies this worker in traces.
	ServiceName string

	// ServiceVersion is the worker build version.
	ServiceVersion string

	// OTLPEndpoint is the collector address, e.g. "localhost:4317" for
	// gRPC or "localhost:4318" for HTTP, depending on OTLPProtocol.
	OTLPEndpoint string

	// OTLPProtocol selects the exporter transport: "grpc" or "http".
	OTLPProtocol string

	// Sampling configures trace sampling.
	Sampling SamplingConfig

	// BatchTimeout is how often to flush spans (default: 5s).
	BatchTimeout time.Duration
}

// SamplingConfig controls which traces are recorded.
type SamplingConfig struct {
	// Enabled activates sampling (default: false - sample all).
	Enabled bool

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	Rate float64

	// AlwaysSampleErrors samples every span that starts with an
	// error=true or conductor.status=error attribute. The sampling
	// decision is made at span start, before a task's outcome is known,
	// so task-execution spans are not singled out by it.
	AlwaysSampleErrors bool
}

// DefaultConfig returns configuration with sensible defaults. Tracing is
// opt-in: Enabled is false and OTLPEndpoint is empty. The example command
// attaches the tracing listener to the bus only when its --tracing flag
// is set.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "conductor-worker",
		ServiceVersion: "unknown",
		OTLPProtocol:   "grpc",
		Sampling: SamplingConfig{
			Enabled:            false,
			Rate:               1.0,
			AlwaysSampleErrors: true,
		},
		BatchTimeout: 5 * time.Second,
	}
}
