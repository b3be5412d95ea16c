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

package constants

// Check types. Each one persists its checkpoints under its own scope.
const (
	CheckTypeSplunkMetric   = "splunk_metric"
	CheckTypeSplunkEvent    = "splunk_event"
	CheckTypeSplunkTopology = "splunk_topology"
)

const (
	DefaultMetricNameField  = "metric"
	DefaultMetricValueField = "value"

	// DefaultSearchParallelism is how many saved searches of one instance run at once.
	DefaultSearchParallelism = 3
)

// DefaultMetricUniqueKeyFields identify one indexed event in metric results.
var DefaultMetricUniqueKeyFields = []string{"_bkt", "_cd"}

// DefaultTelemetryParameters are sent with every telemetry dispatch unless overridden.
var DefaultTelemetryParameters = map[string]string{
	"force_dispatch": "true",
	"dispatch.now":   "true",
}
