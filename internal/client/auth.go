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
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/tombee/conductor-worker/pkg/werrors"
)

// CredentialSource obtains a bearer token from the server's credential
// endpoint, given a client ID and secret.
type CredentialSource interface {
	Acquire(ctx context.Context) (token string, expiresIn time.Duration, err error)
}

// TokenAcquirer caches a bearer token and refreshes it lazily, applying
// exponential backoff to repeated refresh failures. A single instance is
// shared by every in-flight request so concurrent callers collapse onto
// one in-flight refresh via singleflight.
type TokenAcquirer struct {
	source CredentialSource

	mu          sync.Mutex
	token       string
	expiresAt   time.Time
	failures    int
	nextAttempt time.Time

	group singleflight.Group

	signingKey []byte
	workerID   string
}

// NewTokenAcquirer builds a TokenAcquirer backed by source. signingKey
// may be nil, in which case no worker-identity assertion header is ever
// produced.
func NewTokenAcquirer(source CredentialSource, workerID string, signingKey []byte) *TokenAcquirer {
	return &TokenAcquirer{source: source, workerID: workerID, signingKey: signingKey}
}

// Token returns a cached, valid bearer token, acquiring or refreshing one
// if necessary. Concurrent callers during a refresh share its result.
func (a *TokenAcquirer) Token(ctx context.Context) (string, error) {
	if a == nil || a.source == nil {
		return "", nil
	}

	a.mu.Lock()
	if a.token != "" && time.Now().Before(a.expiresAt) {
		token := a.token
		a.mu.Unlock()
		return token, nil
	}
	if wait := time.Until(a.nextAttempt); wait > 0 {
		a.mu.Unlock()
		return "", &werrors.AuthError{StatusCode: http.StatusServiceUnavailable, Message: fmt.Sprintf("credential refresh backing off for %s", wait)}
	}
	a.mu.Unlock()

	v, err, _ := a.group.Do("refresh", func() (any, error) {
		return a.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate forces the next Token call to acquire a fresh credential,
// called after the server rejects the cached one with a 401/403.
func (a *TokenAcquirer) Invalidate() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.token = ""
	a.expiresAt = time.Time{}
	a.mu.Unlock()
}

func (a *TokenAcquirer) refresh(ctx context.Context) (string, error) {
	token, expiresIn, err := a.source.Acquire(ctx)
	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.failures++
		a.nextAttempt = time.Now().Add(backoffDuration(a.failures))
		return "", werrors.Wrap(err, "acquire credential")
	}

	a.failures = 0
	a.nextAttempt = time.Time{}
	a.token = token
	if expiresIn > 0 {
		a.expiresAt = time.Now().Add(expiresIn)
	} else {
		a.expiresAt = time.Now().Add(5 * time.Minute)
	}
	return token, nil
}

// backoffDuration implements the two-second base, sixty-second cap
// refresh backoff: 2s, 4s, 8s, ... capped at 60s.
func backoffDuration(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := time.Duration(math.Pow(2, float64(failures))) * time.Second
	const cap = 60 * time.Second
	if d > cap {
		return cap
	}
	return d
}

// workerAssertion returns a signed JWT identifying this worker process,
// when a signing key was configured. It is attached as
// X-Conductor-Worker-Assertion, a side channel distinct from the
// server's own opaque bearer token, letting the server optionally verify
// which worker polled for a task without the worker parsing anything the
// server issues.
func (a *TokenAcquirer) workerAssertion() (string, bool) {
	if a == nil || len(a.signingKey) == 0 {
		return "", false
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": a.workerID,
		"iat": now.Unix(),
		"exp": now.Add(time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", false
	}
	return signed, true
}
