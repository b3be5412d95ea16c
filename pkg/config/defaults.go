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

package config

import (
	"maps"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

// Definition options set from metric settings.
const (
	OptionMetricName       = "metric_name"
	OptionMetricNameField  = "metric_name_field"
	OptionMetricValueField = "metric_value_field"
)

func pick[T any](value *T, fallback T) T {
	if value != nil {
		return *value
	}

	return fallback
}

// Defaults layers the init_config values over base.
func (c InitConfig) Defaults(base savedsearch.Defaults) savedsearch.Defaults {
	out := savedsearch.Defaults{
		TimeoutSeconds:           pick(c.DefaultRequestTimeoutSeconds, base.TimeoutSeconds),
		MaxRetryCount:            pick(c.DefaultSearchMaxRetryCount, base.MaxRetryCount),
		RetryIntervalSeconds:     pick(c.DefaultSearchSecondsBetweenRetries, base.RetryIntervalSeconds),
		BatchSize:                pick(c.DefaultBatchSize, base.BatchSize),
		InitialHistorySeconds:    pick(c.DefaultInitialHistoryTimeSeconds, base.InitialHistorySeconds),
		MaxRestartHistorySeconds: pick(c.DefaultMaxRestartHistorySeconds, base.MaxRestartHistorySeconds),
		MaxQueryChunkSeconds:     pick(c.DefaultMaxQueryChunkSeconds, base.MaxQueryChunkSeconds),
		UniqueKeyFields:          base.UniqueKeyFields,
	}

	if c.DefaultUniqueKeyFields != nil {
		out.UniqueKeyFields = c.DefaultUniqueKeyFields
	}

	return out
}

// MetricFields returns the check-wide metric name and value fields.
func (c InitConfig) MetricFields() (nameField, valueField string) {
	return pick(c.DefaultMetricNameField, constants.DefaultMetricNameField),
		pick(c.DefaultMetricValueField, constants.DefaultMetricValueField)
}

// Parallel is the number of saved searches run at once.
func (i InstanceConfig) Parallel(init InitConfig) int {
	return pick(i.SavedSearchesParallel, pick(init.DefaultSavedSearchesParallel, constants.DefaultSearchParallelism))
}

// IgnoreErrors reports whether failed searches only degrade the instance.
func (i InstanceConfig) IgnoreErrors(fallback bool) bool {
	return pick(i.IgnoreSavedSearchErrors, fallback)
}

// InitialDelay is how many seconds after start the instance waits before dispatching.
func (i InstanceConfig) InitialDelay(init InitConfig) int64 {
	return pick(i.InitialDelaySeconds, pick(init.DefaultInitialDelaySeconds, 0))
}

// PollingInterval is the minimum time between two topology snapshots.
func (i InstanceConfig) PollingInterval(init InitConfig) int64 {
	return pick(i.PollingIntervalSeconds, pick(init.DefaultPollingIntervalSeconds, 0))
}

// Definition builds the validated saved search definition. Parameters fall
// back to defaultParams when the entry sets none.
func (s SavedSearchConfig) Definition(d savedsearch.Defaults, defaultParams map[string]string) (savedsearch.Definition, error) {
	params := s.Parameters
	if params == nil {
		params = maps.Clone(defaultParams)
	}

	keys := d.UniqueKeyFields
	if s.UniqueKeyFields != nil {
		keys = s.UniqueKeyFields
	}

	options := map[string]string{}
	if s.MetricName != "" {
		options[OptionMetricName] = s.MetricName
	}

	if s.MetricNameField != nil {
		options[OptionMetricNameField] = *s.MetricNameField
	}

	if s.MetricValueField != nil {
		options[OptionMetricValueField] = *s.MetricValueField
	}

	return savedsearch.NewDefinition(savedsearch.Definition{
		Name:                     s.Name,
		Match:                    s.Match,
		Parameters:               params,
		TimeoutSeconds:           pick(s.RequestTimeoutSeconds, d.TimeoutSeconds),
		MaxRetryCount:            pick(s.SearchMaxRetryCount, d.MaxRetryCount),
		RetryIntervalSeconds:     pick(s.SearchSecondsBetweenRetries, d.RetryIntervalSeconds),
		BatchSize:                pick(s.BatchSize, d.BatchSize),
		InitialHistorySeconds:    pick(s.InitialHistoryTimeSeconds, d.InitialHistorySeconds),
		MaxRestartHistorySeconds: pick(s.MaxRestartHistorySeconds, d.MaxRestartHistorySeconds),
		MaxQueryChunkSeconds:     pick(s.MaxQueryChunkSeconds, d.MaxQueryChunkSeconds),
		UniqueKeyFields:          keys,
		Options:                  options,
	})
}
