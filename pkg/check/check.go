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

// Package check defines what the control loop runs and what runs produce.
package check

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is a service check status. Higher values are worse.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

var statusNames = [...]string{"OK", "WARNING", "CRITICAL", "UNKNOWN"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}

	return statusNames[s]
}

// MarshalText renders the status name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = Status(i)

			return nil
		}
	}

	return fmt.Errorf("unknown service check status %q", text)
}

// Worse returns the worse of two statuses.
func Worse(a, b Status) Status {
	return max(a, b)
}

// ServiceCheck is the health verdict of one check instance for one run.
type ServiceCheck struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Message   string    `json:"message,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Status    Status    `json:"status"`
}

// Result is the outcome of one Run.
type Result struct {
	// Err is the error that aborted the run, if any.
	Err           error          `json:"-"`
	CheckName     string         `json:"check"`
	ServiceChecks []ServiceCheck `json:"service_checks"`
	Status        Status         `json:"status"`
	// Continue asks the host to run the check again right away.
	Continue bool `json:"continue"`
}

// Check is one configured check with all of its instances.
type Check interface {
	// Name identifies the check, e.g. "splunk_metric".
	Name() string
	// Run performs one cycle. It must honour ctx and never panic on backend failures.
	Run(ctx context.Context) Result
	// Close releases backend resources.
	Close() error
}
