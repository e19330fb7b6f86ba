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

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tombee/conductor-worker/pkg/werrors"
	"github.com/tombee/conductor-worker/worker"
)

// HTTPClient is the concrete Client implementation backed by the
// Conductor server's REST API.
type HTTPClient struct {
	httpClient       *http.Client // poll + registration: retrying
	updateHTTPClient *http.Client // update_task: no transport-level retry
	baseURL          string
	creds            *TokenAcquirer
}

// Option configures an HTTPClient.
type Option func(*HTTPClient) error

// WithHTTPClient overrides both underlying *http.Client instances with
// hc, for tests that don't care about the retry/no-retry distinction.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) error {
		c.httpClient = hc
		c.updateHTTPClient = hc
		return nil
	}
}

// WithCredentials enables bearer-token acquisition and refresh against
// the server's credential endpoint. Without this option, requests carry
// no Authorization header.
func WithCredentials(creds *TokenAcquirer) Option {
	return func(c *HTTPClient) error {
		c.creds = creds
		return nil
	}
}

// New creates an HTTPClient for the server at baseURL.
func New(baseURL string, cfg TransportConfig, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("conductor server base URL is required")
	}

	c := &HTTPClient{baseURL: baseURL}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		c.httpClient, c.updateHTTPClient = newHTTPClients(cfg)
	}
	return c, nil
}

// BatchPoll implements Client.
func (c *HTTPClient) BatchPoll(ctx context.Context, req PollRequest) ([]*worker.Task, error) {
	q := url.Values{}
	q.Set("workerid", req.WorkerID)
	q.Set("count", strconv.Itoa(req.Count))
	q.Set("timeout", strconv.Itoa(req.TimeoutMillis))
	if req.Domain != "" {
		q.Set("domain", req.Domain)
	}

	path := fmt.Sprintf("/api/tasks/poll/batch/%s?%s", url.PathEscape(req.TaskType), q.Encode())

	var tasks []*worker.Task
	if err := c.do(ctx, c.httpClient, http.MethodPost, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask implements Client. It deliberately bypasses the retrying
// client: the runner's own update-retry loop (internal/runner/update.go)
// owns update_task's retry policy, with its own 10s/20s/30s waits.
func (c *HTTPClient) UpdateTask(ctx context.Context, result *worker.Result) (string, error) {
	var status string
	if err := c.do(ctx, c.updateHTTPClient, http.MethodPost, "/api/tasks", result, &status); err != nil {
		return "", err
	}
	return status, nil
}

// RegisterTaskDefinition implements Client. When
// overwrite is true it unconditionally upserts via
// PUT /api/metadata/taskdefs/{name} with a singular TaskDef body; when
// overwrite is false it first checks whether a definition with this
// name already exists and, if so, skips, only POSTing the (array-bodied)
// create request when the server has none.
func (c *HTTPClient) RegisterTaskDefinition(ctx context.Context, def TaskDefinition, overwrite bool) error {
	name, _ := def["name"].(string)

	if overwrite {
		path := fmt.Sprintf("/api/metadata/taskdefs/%s", url.PathEscape(name))
		return c.do(ctx, c.httpClient, http.MethodPut, path, def, nil)
	}

	exists, err := c.taskDefinitionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.do(ctx, c.httpClient, http.MethodPost, "/api/metadata/taskdefs", []TaskDefinition{def}, nil)
}

// taskDefinitionExists reports whether the server already has a task
// definition named name, by GETting /api/metadata/taskdefs/{name} and
// treating 404 as "absent" rather than an error.
func (c *HTTPClient) taskDefinitionExists(ctx context.Context, name string) (bool, error) {
	path := fmt.Sprintf("/api/metadata/taskdefs/%s", url.PathEscape(name))
	err := c.do(ctx, c.httpClient, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	var statusErr *werrors.HTTPStatusError
	if werrors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

// RegisterSchema implements Client. The schema document travels inside a
// registration envelope naming it, not as the request body itself.
func (c *HTTPClient) RegisterSchema(ctx context.Context, name string, version int, body Schema) error {
	envelope := map[string]any{
		"name":    name,
		"version": version,
		"type":    "JSON",
		"data":    body,
	}
	return c.do(ctx, c.httpClient, http.MethodPost, "/api/schema", envelope, nil)
}

// do issues an HTTP request against the server over hc, attaching
// credentials when configured, and decodes a JSON response into out
// when non-nil.
func (c *HTTPClient) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return werrors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return werrors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.creds != nil {
		token, err := c.creds.Token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if assertion, ok := c.creds.workerAssertion(); ok {
		req.Header.Set("X-Conductor-Worker-Assertion", assertion)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &werrors.RetriableHttpError{Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if c.creds != nil {
			c.creds.Invalidate()
		}
		respBody, _ := io.ReadAll(resp.Body)
		return &werrors.AuthError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return &werrors.RetriableHttpError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return &werrors.HTTPStatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if resp.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return werrors.Wrap(err, "decode response body")
	}
	return nil
}
