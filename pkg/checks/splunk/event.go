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
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/check"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/config"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/constants"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/telemetry"
)

// EventServiceCheck is the service check reported per splunk_event instance.
const EventServiceCheck = "splunk.event_information"

var eventMapping = telemetry.Mapping{
	Optional: map[string]string{
		"event_type":       "event_type",
		"source_type_name": "_sourcetype",
		"msg_title":        "msg_title",
		"msg_text":         "msg_text",
	},
}

// NewEventCheck builds the splunk_event check.
func NewEventCheck(section *config.CheckConfig, deps Deps, log *zap.SugaredLogger) *TelemetryCheck {
	return newTelemetryCheck(constants.CheckTypeSplunkEvent, EventServiceCheck, section,
		savedsearch.BuiltinDefaults, eventKind{}, deps, log)
}

type eventKind struct{}

func (eventKind) validate(savedsearch.Definition) error {
	return nil
}

func (eventKind) MappingFor(savedsearch.Definition) telemetry.Mapping {
	return eventMapping
}

func (eventKind) sink(agg *check.Aggregator) telemetry.Sink {
	return telemetry.SinkFunc(func(item telemetry.Item) error {
		agg.Event(check.Event{
			EventType:      item.String("event_type"),
			SourceTypeName: item.String("source_type_name"),
			MsgTitle:       item.String("msg_title"),
			MsgText:        item.String("msg_text"),
			Timestamp:      item.Timestamp,
			Tags:           item.Tags,
			Search:         item.Search,
		})

		return nil
	})
}
