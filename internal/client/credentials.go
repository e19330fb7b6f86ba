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
	"net/http"
	"time"

	"github.com/tombee/conductor-worker/pkg/werrors"
)

// keySecretSource exchanges a worker's key ID and secret for a bearer token by POSTing
// to the server's token endpoint. It is the only concrete
// CredentialSource the module ships; a caller talking to a server with
// a different credential scheme supplies its own.
type keySecretSource struct {
	baseURL   string
	keyID     string
	keySecret string
	hc        *http.Client
}

// NewKeySecretSource builds a CredentialSource that exchanges keyID and
// keySecret for a bearer token against baseURL+"/api/token". hc may be
// nil, in which case http.DefaultClient is used.
func NewKeySecretSource(baseURL, keyID, keySecret string, hc *http.Client) CredentialSource {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &keySecretSource{baseURL: baseURL, keyID: keyID, keySecret: keySecret, hc: hc}
}

type tokenRequest struct {
	KeyID     string `json:"keyId"`
	KeySecret string `json:"keySecret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// Acquire implements CredentialSource.
func (s *keySecretSource) Acquire(ctx context.Context) (string, time.Duration, error) {
	body, err := json.Marshal(tokenRequest{KeyID: s.keyID, KeySecret: s.keySecret})
	if err != nil {
		return "", 0, werrors.Wrap(err, "marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/token", bytes.NewReader(body))
	if err != nil {
		return "", 0, werrors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return "", 0, &werrors.RetriableHttpError{Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", 0, &werrors.AuthError{StatusCode: resp.StatusCode, Message: "token endpoint rejected key id/secret"}
	}
	if resp.StatusCode >= 500 {
		return "", 0, &werrors.RetriableHttpError{StatusCode: resp.StatusCode, Message: "token endpoint unavailable"}
	}
	if resp.StatusCode >= 400 {
		return "", 0, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, werrors.Wrap(err, "decode token response")
	}
	if out.Token == "" {
		return "", 0, fmt.Errorf("token endpoint returned an empty token")
	}
	return out.Token, time.Duration(out.ExpiresIn) * time.Second, nil
}
