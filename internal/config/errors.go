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

import "github.com/tombee/conductor-worker/pkg/werrors"

// NewConfigurationError builds a werrors.ConfigurationError for a
// malformed recognized property value.
func NewConfigurationError(key, value string, cause error) error {
	return &werrors.ConfigurationError{Key: key, Value: value, Cause: cause}
}
