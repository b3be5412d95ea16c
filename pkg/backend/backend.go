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

// Package backend defines the remote search system the engine talks to.
package backend

import (
	"context"
	"errors"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

// ErrNotReady is returned by Poll while the job has no results yet.
var ErrNotReady = errors.New("search job results not ready")

// JobID identifies a dispatched search job.
type JobID string

// Message types that can appear in a results page.
const (
	MessageFatal = "FATAL"
	MessageError = "ERROR"
	MessageWarn  = "WARN"
	MessageInfo  = "INFO"
)

// NoMatchingFieldsText is the informational message of a search whose results
// carry none of the requested fields.
const NoMatchingFieldsText = "No matching fields exist"

// Message is a diagnostic attached to a results page.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Record is one result row.
type Record = map[string]any

// Page is one slice of a job's results.
type Page struct {
	Messages []Message `json:"messages"`
	Results  []Record  `json:"results"`
}

// SearchBackend dispatches and reads saved search jobs.
//
// Implementations return errors categorized with pkg/backoff: AuthError for
// rejected credentials and TransientBackendError for everything else.
type SearchBackend interface {
	// Authenticate establishes or renews credentials.
	Authenticate(ctx context.Context) error
	// ListSearchNames returns the names of all saved searches on the backend.
	ListSearchNames(ctx context.Context) ([]string, error)
	// Dispatch starts a job for search over window.
	Dispatch(ctx context.Context, search savedsearch.Definition, window savedsearch.Window) (JobID, error)
	// Poll reads count results starting at offset, or returns ErrNotReady.
	Poll(ctx context.Context, job JobID, offset, count int) (Page, error)
	// Finalize stops a job. A job that no longer exists is not an error.
	Finalize(ctx context.Context, job JobID) error
}
