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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tombee/conductor-worker/internal/client"
	"github.com/tombee/conductor-worker/internal/events"
	"github.com/tombee/conductor-worker/internal/metrics"
	"github.com/tombee/conductor-worker/internal/supervisor"
	"github.com/tombee/conductor-worker/internal/tracing"
	"github.com/tombee/conductor-worker/internal/wlog"
)

var (
	metricsAddr   string
	enableMetrics bool
	enableTracing bool
	otlpEndpoint  string
	otlpProtocol  string
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for and execute tasks until interrupted",
		Long: `Launch one runner per registered handler and poll the Conductor
server until SIGINT or SIGTERM is received, at which point every runner
drains its in-flight tasks before the process exits.

Requires CONDUCTOR_SERVER_URL. CONDUCTOR_AUTH_KEY and
CONDUCTOR_AUTH_SECRET enable bearer-token authentication when the server
requires it.`,
		RunE: runWorker,
	}

	cmd.Flags().BoolVar(&enableMetrics, "metrics", false, "serve Prometheus metrics")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for the metrics HTTP server")
	cmd.Flags().BoolVar(&enableTracing, "tracing", false, "export OpenTelemetry traces")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP collector address")
	cmd.Flags().StringVar(&otlpProtocol, "otlp-protocol", "grpc", "OTLP transport: grpc or http")

	return cmd
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := wlog.New(wlog.FromEnv())
	slog.SetDefault(logger)

	serverURL := os.Getenv("CONDUCTOR_SERVER_URL")
	if serverURL == "" {
		return fmt.Errorf("CONDUCTOR_SERVER_URL is required")
	}

	transportCfg := client.DefaultTransportConfig()
	transportCfg.Logger = logger

	var clientOpts []client.Option
	if keyID, secret := os.Getenv("CONDUCTOR_AUTH_KEY"), os.Getenv("CONDUCTOR_AUTH_SECRET"); keyID != "" && secret != "" {
		source := client.NewKeySecretSource(serverURL, keyID, secret, nil)
		clientOpts = append(clientOpts, client.WithCredentials(client.NewTokenAcquirer(source, os.Getenv("CONDUCTOR_WORKER_ID"), nil)))
	}

	c, err := client.New(serverURL, transportCfg, clientOpts...)
	if err != nil {
		return fmt.Errorf("build server client: %w", err)
	}

	bus := events.New(logger)

	if enableMetrics {
		metrics.NewListener(prometheus.DefaultRegisterer).Attach(bus)
		go serveMetrics(metricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if enableTracing {
		tracingCfg := tracing.DefaultConfig()
		tracingCfg.Enabled = true
		tracingCfg.OTLPEndpoint = otlpEndpoint
		tracingCfg.OTLPProtocol = otlpProtocol
		tracingCfg.ServiceVersion = version

		provider, err := tracing.NewProvider(ctx, tracingCfg)
		if err != nil {
			return fmt.Errorf("build tracing provider: %w", err)
		}
		tracing.NewListener(provider).Attach(bus)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), tracingCfg.BatchTimeout)
			defer shutdownCancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing provider shutdown failed", "error", err)
			}
		}()
	}

	sv := supervisor.New(c, bus, supervisor.WithLogger(logger))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- sv.Run(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, draining runners", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil {
			logger.Error("supervisor returned an error during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("supervisor stopped: %w", err)
		}
	}

	return nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
