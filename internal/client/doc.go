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

/*
Package client is the thin transport between a worker process and the
Conductor server: batch poll, update task, register task definition,
register schema, plus lazy credential acquisition and refresh.

# Basic Usage

	c, err := client.New(serverURL, client.DefaultTransportConfig())
	if err != nil {
	    log.Fatal(err)
	}

	tasks, err := c.BatchPoll(ctx, client.PollRequest{
	    TaskType: "send_email",
	    WorkerID: "worker-1",
	    Count:    5,
	})

# Credentials

A worker that requires a bearer token configures a TokenAcquirer, which
caches the token until the server rejects it and backs off exponentially
on repeated refresh failures:

	creds := client.NewTokenAcquirer(source, workerID, signingKey)
	c, _ := client.New(serverURL, cfg, client.WithCredentials(creds))

# Retry Policy

The retrying *http.Client retries batch_poll, register_task_definition and
register_schema with backoff. update_task is deliberately excluded: its
own four-attempt retry budget lives in internal/runner.
*/
package client
