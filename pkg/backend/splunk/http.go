// Copyright 2025 UMH Systems GmbH
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

package splunk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

const maxErrorBody = 512

// doRequest sends params as query (GET) or form body (POST) and decodes a JSON
// response into R. A 204 response returns a nil result and no error.
func doRequest[R any](ctx context.Context, client *http.Client, method, rawURL string, params url.Values, header map[string]string) (*R, int, error) {
	var body io.Reader

	target := rawURL

	if method == http.MethodGet {
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	req.Header.Set("Accept", "application/json")

	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, backoff.NewTransientError(fmt.Errorf("%s %s: %w", method, rawURL, err))
	}

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, backoff.NewTransientError(fmt.Errorf("failed to read response of %s %s: %w", method, rawURL, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(data)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}

		statusErr := &StatusError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Body: text}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, resp.StatusCode, backoff.NewAuthError(statusErr)
		}

		return nil, resp.StatusCode, backoff.NewTransientError(statusErr)
	}

	if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil, resp.StatusCode, nil
	}

	var out R
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, resp.StatusCode, backoff.NewTransientError(fmt.Errorf("failed to decode response of %s %s: %w", method, rawURL, err))
	}

	return &out, resp.StatusCode, nil
}
