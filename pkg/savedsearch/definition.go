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

// Package savedsearch holds the per-search model of the sync engine: the
// immutable Definition, the Registry of live searches, the Runtime state
// machine that computes query windows, and the boundary Deduplicator.
package savedsearch

import (
	"fmt"
	"regexp"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
)

// Defaults are the values a Definition falls back to when a setting is absent.
type Defaults struct {
	TimeoutSeconds           int
	MaxRetryCount            int
	RetryIntervalSeconds     float64
	BatchSize                int
	InitialHistorySeconds    int64
	MaxRestartHistorySeconds int64
	MaxQueryChunkSeconds     int64
	UniqueKeyFields          []string
}

// BuiltinDefaults apply when neither the search nor the check's init_config
// sets a value.
var BuiltinDefaults = Defaults{
	TimeoutSeconds:           5,
	MaxRetryCount:            3,
	RetryIntervalSeconds:     1,
	BatchSize:                1000,
	InitialHistorySeconds:    0,
	MaxRestartHistorySeconds: 86400,
	MaxQueryChunkSeconds:     3600,
}

// Definition is the static configuration of one saved search. Exactly one of
// Name and Match is set. Match is a regular expression anchored at the start
// of the backend's search name.
type Definition struct {
	Name       string
	Match      string
	Parameters map[string]string

	TimeoutSeconds           int
	MaxRetryCount            int
	RetryIntervalSeconds     float64
	BatchSize                int
	InitialHistorySeconds    int64
	MaxRestartHistorySeconds int64
	MaxQueryChunkSeconds     int64

	// UniqueKeyFields identify a record for boundary dedup. Empty means the
	// whole record.
	UniqueKeyFields []string

	// Options carries check-specific settings such as metric field names.
	Options map[string]string

	matcher *regexp.Regexp `copy:"-"`
}

// NewDefinition validates def and compiles its match pattern.
func NewDefinition(def Definition) (Definition, error) {
	switch {
	case def.Name == "" && def.Match == "":
		return Definition{}, backoff.Configurationf("saved search needs either a name or a match pattern")
	case def.Name != "" && def.Match != "":
		return Definition{}, backoff.Configurationf("saved search %q sets both name and match", def.Name)
	case def.BatchSize <= 0:
		return Definition{}, backoff.Configurationf("saved search %s: batch size must be positive", def.label())
	case def.MaxQueryChunkSeconds <= 0:
		return Definition{}, backoff.Configurationf("saved search %s: max query chunk must be positive", def.label())
	case def.TimeoutSeconds <= 0:
		return Definition{}, backoff.Configurationf("saved search %s: request timeout must be positive", def.label())
	case def.MaxRetryCount < 0 || def.RetryIntervalSeconds < 0:
		return Definition{}, backoff.Configurationf("saved search %s: retry settings must not be negative", def.label())
	case def.InitialHistorySeconds < 0 || def.MaxRestartHistorySeconds < 0:
		return Definition{}, backoff.Configurationf("saved search %s: history settings must not be negative", def.label())
	}

	if def.Match != "" {
		re, err := regexp.Compile("^(?:" + def.Match + ")")
		if err != nil {
			return Definition{}, backoff.NewConfigurationError(fmt.Errorf("saved search match %q: %w", def.Match, err))
		}

		def.matcher = re
	}

	return def, nil
}

func (d Definition) label() string {
	if d.Name != "" {
		return d.Name
	}

	return "match=" + d.Match
}

// IsTemplate reports whether the definition is a match pattern.
func (d Definition) IsTemplate() bool {
	return d.matcher != nil
}

// Matches reports whether a template matches the backend search name.
func (d Definition) Matches(name string) bool {
	return d.matcher != nil && d.matcher.MatchString(name)
}

// Instantiate returns an exact definition for name derived from template d.
func (d Definition) Instantiate(name string) (Definition, error) {
	var out Definition
	if err := deepcopy.Copy(&out, &d); err != nil {
		return Definition{}, fmt.Errorf("failed to instantiate saved search %s: %w", name, err)
	}

	out.Name = name
	out.Match = ""
	out.matcher = nil

	return out, nil
}
