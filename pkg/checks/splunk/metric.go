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
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/telemetry"
)

// MetricServiceCheck is the service check reported per splunk_metric instance.
const MetricServiceCheck = "splunk.metric_information"

// NewMetricCheck builds the splunk_metric check.
func NewMetricCheck(section *config.CheckConfig, deps Deps, log *zap.SugaredLogger) *TelemetryCheck {
	base := savedsearch.BuiltinDefaults
	base.UniqueKeyFields = constants.DefaultMetricUniqueKeyFields

	nameField, valueField := section.InitConfig.MetricFields()

	return newTelemetryCheck(constants.CheckTypeSplunkMetric, MetricServiceCheck, section, base,
		metricKind{nameField: nameField, valueField: valueField}, deps, log)
}

type metricKind struct {
	nameField  string
	valueField string
}

func (k metricKind) validate(def savedsearch.Definition) error {
	_, fixed := def.Options[config.OptionMetricName]
	_, field := def.Options[config.OptionMetricNameField]

	if fixed && field {
		return backoff.Configurationf("saved search %s sets both metric_name and metric_name_field", def.Name+def.Match)
	}

	return nil
}

func (k metricKind) MappingFor(def savedsearch.Definition) telemetry.Mapping {
	valueField := k.valueField
	if v, ok := def.Options[config.OptionMetricValueField]; ok {
		valueField = v
	}

	m := telemetry.Mapping{Required: map[string]string{"value": valueField}}

	if name, ok := def.Options[config.OptionMetricName]; ok {
		m.Fixed = map[string]any{"metric": name}

		return m
	}

	nameField := k.nameField
	if v, ok := def.Options[config.OptionMetricNameField]; ok {
		nameField = v
	}

	m.Required["metric"] = nameField

	return m
}

func (k metricKind) sink(agg *check.Aggregator) telemetry.Sink {
	return telemetry.SinkFunc(func(item telemetry.Item) error {
		value, err := toFloat(item.Fields["value"])
		if err != nil {
			return backoff.NewFieldMappingError(err)
		}

		agg.Metric(check.Metric{
			Name:      item.String("metric"),
			Value:     value,
			Timestamp: item.Timestamp,
			Tags:      item.Tags,
			Search:    item.Search,
		})

		return nil
	})
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("metric value %q is not numeric", v)
		}

		return f, nil
	default:
		return 0, fmt.Errorf("metric value %v is not numeric", raw)
	}
}
