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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tombee/conductor-worker/pkg/werrors"
	"github.com/tombee/conductor-worker/worker"
)

func TestBatchPollDecodesTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks/poll/batch/send_email" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode([]*worker.Task{{ID: "t1", TaskDefName: "send_email"}})
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tasks, err := c.BatchPoll(context.Background(), PollRequest{TaskType: "send_email", WorkerID: "w1", Count: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestBatchPollEmptyResponseYieldsNoTasks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tasks, err := c.BatchPoll(context.Background(), PollRequest{TaskType: "send_email", WorkerID: "w1", Count: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestBatchPollOmitsEmptyDomain(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.BatchPoll(context.Background(), PollRequest{TaskType: "send_email", WorkerID: "w1", Count: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := gotQuery["domain"]; present {
		t.Fatal("expected the domain parameter to be omitted when empty")
	}

	if _, err := c.BatchPoll(context.Background(), PollRequest{TaskType: "send_email", WorkerID: "w1", Count: 3, Domain: "eu"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := gotQuery["domain"]; len(got) != 1 || got[0] != "eu" {
		t.Fatalf("expected domain=eu, got %v", got)
	}
}

func TestRegisterSchemaSendsEnvelope(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = c.RegisterSchema(context.Background(), "greet_input", 1, Schema{"type": "object"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/schema" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotBody["name"] != "greet_input" || gotBody["type"] != "JSON" {
		t.Errorf("unexpected envelope: %+v", gotBody)
	}
	data, ok := gotBody["data"].(map[string]any)
	if !ok || data["type"] != "object" {
		t.Errorf("expected the schema document under data, got %+v", gotBody["data"])
	}
}

func TestUpdateTaskReturnsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tasks" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode("COMPLETED")
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := c.UpdateTask(context.Background(), &worker.Result{TaskID: "t1", Status: worker.StatusCompleted})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %q", status)
	}
}

func TestDoReturns401AsAuthErrorAndInvalidatesCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid token"))
	}))
	defer srv.Close()

	creds := NewTokenAcquirer(fakeCredentialSource{token: "stale"}, "w1", nil)
	creds.token = "stale"
	creds.expiresAt = time.Now().Add(time.Hour)

	c, err := New(srv.URL, TransportConfig{}, WithCredentials(creds))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.UpdateTask(context.Background(), &worker.Result{TaskID: "t1"})
	var authErr *werrors.AuthError
	if !werrors.As(err, &authErr) {
		t.Fatalf("expected *werrors.AuthError, got %v", err)
	}

	creds.mu.Lock()
	stillCached := creds.token != ""
	creds.mu.Unlock()
	if stillCached {
		t.Fatal("expected credential to be invalidated after a 401")
	}
}

func TestDoReturns5xxAsRetriableHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.UpdateTask(context.Background(), &worker.Result{TaskID: "t1"})
	var httpErr *werrors.RetriableHttpError
	if !werrors.As(err, &httpErr) {
		t.Fatalf("expected *werrors.RetriableHttpError, got %v", err)
	}
}

func TestRegisterTaskDefinitionOverwritePutsToNameScopedPathWithSingularBody(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = c.RegisterTaskDefinition(context.Background(), TaskDefinition{"name": "greet"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", gotMethod)
	}
	if gotPath != "/api/metadata/taskdefs/greet" {
		t.Errorf("expected name-scoped path, got %s", gotPath)
	}
	if gotBody["name"] != "greet" {
		t.Errorf("expected a singular TaskDef body, got %+v", gotBody)
	}
}

func TestRegisterTaskDefinitionSkipsCreateWhenAlreadyPresent(t *testing.T) {
	var postCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/metadata/taskdefs/greet":
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]any{"name": "greet"})
		case r.Method == http.MethodPost:
			postCalled = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.RegisterTaskDefinition(context.Background(), TaskDefinition{"name": "greet"}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if postCalled {
		t.Fatal("expected create to be skipped when a definition already exists")
	}
}

func TestRegisterTaskDefinitionCreatesWhenAbsent(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody []TaskDefinition
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/metadata/taskdefs/greet":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost:
			gotMethod = r.Method
			gotPath = r.URL.Path
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, TransportConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := c.RegisterTaskDefinition(context.Background(), TaskDefinition{"name": "greet"}, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/api/metadata/taskdefs" {
		t.Errorf("expected the array-bodied create path, got %s", gotPath)
	}
	if len(gotBody) != 1 || gotBody[0]["name"] != "greet" {
		t.Errorf("expected a single-element TaskDef array body, got %+v", gotBody)
	}
}

type fakeCredentialSource struct {
	token string
	err   error
}

func (f fakeCredentialSource) Acquire(ctx context.Context) (string, time.Duration, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return f.token, time.Hour, nil
}
