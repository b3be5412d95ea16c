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

// Package config loads the agent configuration: agent settings plus one
// section per check type, each with an init_config block of defaults and a
// list of monitored instances.
package config

import (
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
)

type FullConfig struct {
	Agent  AgentConfig  `yaml:"agent"`  // Agent config, requires restart to take effect
	Checks ChecksConfig `yaml:"checks"` // Check sections keyed by check type
}

type AgentConfig struct {
	MetricsAddr    string          `yaml:"metricsAddr,omitempty"`
	APIAddr        string          `yaml:"apiAddr,omitempty"`
	CheckpointPath string          `yaml:"checkpointPath,omitempty"`
	SentryDSN      string          `yaml:"sentryDsn,omitempty"`
	Forwarder      ForwarderConfig `yaml:"forwarder,omitempty"`
	TickInterval   time.Duration   `yaml:"tickInterval,omitempty"`
	TickTimeout    time.Duration   `yaml:"tickTimeout,omitempty"`
}

// ForwarderConfig selects where flushed batches go. An empty URL logs them.
type ForwarderConfig struct {
	URL     string        `yaml:"url,omitempty"`
	APIKey  string        `yaml:"apiKey,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type ChecksConfig struct {
	SplunkMetric   *CheckConfig `yaml:"splunk_metric,omitempty"`
	SplunkEvent    *CheckConfig `yaml:"splunk_event,omitempty"`
	SplunkTopology *CheckConfig `yaml:"splunk_topology,omitempty"`
}

// ByType returns the configured check sections keyed by check type.
func (c ChecksConfig) ByType() map[string]*CheckConfig {
	out := map[string]*CheckConfig{}

	if c.SplunkMetric != nil {
		out[constants.CheckTypeSplunkMetric] = c.SplunkMetric
	}

	if c.SplunkEvent != nil {
		out[constants.CheckTypeSplunkEvent] = c.SplunkEvent
	}

	if c.SplunkTopology != nil {
		out[constants.CheckTypeSplunkTopology] = c.SplunkTopology
	}

	return out
}

type CheckConfig struct {
	InitConfig InitConfig       `yaml:"init_config"`
	Instances  []InstanceConfig `yaml:"instances"`
}

// InitConfig holds check-wide defaults. Unset values fall back to the
// built-in defaults.
type InitConfig struct {
	DefaultRequestTimeoutSeconds       *int     `yaml:"default_request_timeout_seconds,omitempty"`
	DefaultSearchMaxRetryCount         *int     `yaml:"default_search_max_retry_count,omitempty"`
	DefaultSearchSecondsBetweenRetries *float64 `yaml:"default_search_seconds_between_retries,omitempty"`
	DefaultBatchSize                   *int     `yaml:"default_batch_size,omitempty"`
	DefaultSavedSearchesParallel       *int     `yaml:"default_saved_searches_parallel,omitempty"`
	DefaultInitialHistoryTimeSeconds   *int64   `yaml:"default_initial_history_time_seconds,omitempty"`
	DefaultMaxRestartHistorySeconds    *int64   `yaml:"default_max_restart_history_seconds,omitempty"`
	DefaultMaxQueryChunkSeconds        *int64   `yaml:"default_max_query_chunk_seconds,omitempty"`
	DefaultInitialDelaySeconds         *int64   `yaml:"default_initial_delay_seconds,omitempty"`
	DefaultPollingIntervalSeconds      *int64   `yaml:"default_polling_interval_seconds,omitempty"`
	DefaultUniqueKeyFields             []string `yaml:"default_unique_key_fields,omitempty"`
	DefaultMetricNameField             *string  `yaml:"default_metric_name_field,omitempty"`
	DefaultMetricValueField            *string  `yaml:"default_metric_value_field,omitempty"`
}

// InstanceConfig is one monitored backend.
type InstanceConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	App      string `yaml:"app,omitempty"`
	Owner    string `yaml:"owner,omitempty"`

	VerifySSLCertificate    bool   `yaml:"verify_ssl_certificate,omitempty"`
	IgnoreSavedSearchErrors *bool  `yaml:"ignore_saved_search_errors,omitempty"`
	SavedSearchesParallel   *int   `yaml:"saved_searches_parallel,omitempty"`
	InitialDelaySeconds     *int64 `yaml:"initial_delay_seconds,omitempty"`
	PollingIntervalSeconds  *int64 `yaml:"polling_interval_seconds,omitempty"`

	Tags []string `yaml:"tags,omitempty"`

	SavedSearches          []SavedSearchConfig `yaml:"saved_searches,omitempty"`
	ComponentSavedSearches []SavedSearchConfig `yaml:"component_saved_searches,omitempty"`
	RelationSavedSearches  []SavedSearchConfig `yaml:"relation_saved_searches,omitempty"`
}

// SavedSearchConfig is one saved search entry. Exactly one of Name and Match is set.
type SavedSearchConfig struct {
	Name       string            `yaml:"name,omitempty"`
	Match      string            `yaml:"match,omitempty"`
	Parameters map[string]string `yaml:"parameters,omitempty"`

	RequestTimeoutSeconds       *int     `yaml:"request_timeout_seconds,omitempty"`
	SearchMaxRetryCount         *int     `yaml:"search_max_retry_count,omitempty"`
	SearchSecondsBetweenRetries *float64 `yaml:"search_seconds_between_retries,omitempty"`
	BatchSize                   *int     `yaml:"batch_size,omitempty"`
	InitialHistoryTimeSeconds   *int64   `yaml:"initial_history_time_seconds,omitempty"`
	MaxRestartHistorySeconds    *int64   `yaml:"max_restart_history_seconds,omitempty"`
	MaxQueryChunkSeconds        *int64   `yaml:"max_query_chunk_seconds,omitempty"`
	UniqueKeyFields             []string `yaml:"unique_key_fields,omitempty"`

	// Metric checks only.
	MetricName       string  `yaml:"metric_name,omitempty"`
	MetricNameField  *string `yaml:"metric_name_field,omitempty"`
	MetricValueField *string `yaml:"metric_value_field,omitempty"`
}

// Clone creates a deep copy of FullConfig
func (c FullConfig) Clone() FullConfig {
	var clone FullConfig
	_ = deepcopy.Copy(&clone, &c)

	return clone
}

// DefaultAgentConfig returns the agent settings used for unset values.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MetricsAddr:    constants.DefaultMetricsAddr,
		APIAddr:        constants.DefaultAPIAddr,
		CheckpointPath: constants.DefaultCheckpointPath,
		TickInterval:   constants.DefaultTickerTime,
		TickTimeout:    constants.DefaultTickTimeout,
		Forwarder:      ForwarderConfig{Timeout: 10 * time.Second},
	}
}
