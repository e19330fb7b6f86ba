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

import (
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// SamplerConfig configures trace sampling behavior.
type SamplerConfig struct {
	// Enabled controls whether sampling is active. When false, every
	// trace is recorded.
	Enabled bool

	// Rate is the fraction of traces to sample (0.0 - 1.0).
	Rate float64

	// AlwaysSampleErrors ensures error traces are always sampled even
	// when the rate would drop them.
	AlwaysSampleErrors bool
}

// NewSampler creates an OpenTelemetry sampler based on the configuration.
func NewSampler(cfg SamplerConfig) sdktrace.Sampler {
	if !cfg.Enabled || cfg.Rate >= 1.0 {
		return sdktrace.AlwaysSample()
	}

	var base sdktrace.Sampler
	if cfg.Rate <= 0.0 {
		base = sdktrace.NeverSample()
	} else {
		base = sdktrace.TraceIDRatioBased(cfg.Rate)
	}

	if cfg.AlwaysSampleErrors {
		return &errorAwareSampler{baseSampler: base}
	}
	return base
}

// errorAwareSampler wraps a base sampler to always sample error traces.
type errorAwareSampler struct {
	baseSampler sdktrace.Sampler
}

// ShouldSample implements sdktrace.Sampler.
func (s *errorAwareSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, attr := range params.Attributes {
		if attr.Key == "error" && attr.Value.AsBool() {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
			}
		}
		if attr.Key == "conductor.status" && attr.Value.AsString() == "error" {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(params.ParentContext).TraceState(),
			}
		}
	}

	return s.baseSampler.ShouldSample(params)
}

// Description implements sdktrace.Sampler.
func (s *errorAwareSampler) Description() string {
	return "ErrorAwareSampler{base=" + s.baseSampler.Description() + "}"
}
