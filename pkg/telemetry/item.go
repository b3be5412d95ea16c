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

// Package telemetry turns result records into generic telemetry items and
// drives the poll/extract loop of one dispatched job.
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

// TimeField is the record field holding the event time.
const TimeField = "_time"

// Item is one emitted record.
type Item struct {
	// Fields holds the mapped output fields.
	Fields map[string]any
	// Data holds the record fields left after mapping, internal ones included.
	Data map[string]any
	// Search is the saved search the record came from.
	Search string
	Tags   []string
	// Timestamp is the record time in epoch seconds, 0 in snapshot mode.
	Timestamp int64
}

// String returns a mapped field as a string.
func (i Item) String(field string) string {
	v, ok := i.Fields[field]
	if !ok || v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

// Sink receives emitted items. Returning a FieldMappingError drops only that
// record; any other error fails the search cycle.
type Sink interface {
	Emit(item Item) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(item Item) error

// Emit calls f.
func (f SinkFunc) Emit(item Item) error {
	return f(item)
}

// Mapping describes how record fields become item fields. Keys are output
// names and values are record field names.
type Mapping struct {
	// Critical fields missing from a record fail the whole search cycle.
	Critical map[string]string
	// Required fields missing from a record drop that record.
	Required map[string]string
	Optional map[string]string
	// Fixed values are set on every item.
	Fixed map[string]any
	// Snapshot disables _time parsing and dedup, for topology searches.
	Snapshot bool
}

// Mapper selects the mapping of one saved search.
type Mapper interface {
	MappingFor(def savedsearch.Definition) Mapping
}

// MappingFor returns m for every search.
func (m Mapping) MappingFor(savedsearch.Definition) Mapping {
	return m
}

// basicFields and dateFields are added by the backend to every result and
// never become tags.
var (
	basicFields = map[string]struct{}{
		"index": {}, "linecount": {}, "punct": {}, "source": {}, "sourcetype": {},
		"splunk_server": {}, "timestamp": {},
	}
	dateFields = map[string]struct{}{
		"date_hour": {}, "date_mday": {}, "date_minute": {}, "date_month": {}, "date_second": {},
		"date_wday": {}, "date_year": {}, "date_zone": {}, "timestartpos": {}, "timeendpos": {},
	}
)

// IsTagField reports whether a leftover record field is turned into a tag.
func IsTagField(name string) bool {
	if strings.HasPrefix(name, "_") {
		return false
	}

	if _, ok := basicFields[name]; ok {
		return false
	}

	_, ok := dateFields[name]

	return !ok
}

// Apply maps rec into an item. rec is not modified.
func (m Mapping) Apply(rec backend.Record, instanceTags []string) (Item, error) {
	rest := make(map[string]any, len(rec))
	for k, v := range rec {
		rest[k] = v
	}

	item := Item{Fields: make(map[string]any, len(m.Required)+len(m.Optional)+len(m.Fixed))}

	if !m.Snapshot {
		raw, ok := rest[TimeField]
		if !ok {
			return Item{}, backoff.FieldMappingf("record has no %s field", TimeField)
		}

		ts, err := ParseTime(raw)
		if err != nil {
			return Item{}, backoff.NewFieldMappingError(err)
		}

		delete(rest, TimeField)
		item.Timestamp = ts
	}

	for out, field := range m.Critical {
		v, ok := take(rest, field)
		if !ok {
			return Item{}, backoff.NewFatalResultError(fmt.Errorf("record has no %q field, the search result is incomplete", field))
		}

		item.Fields[out] = v
	}

	for out, field := range m.Required {
		v, ok := take(rest, field)
		if !ok {
			return Item{}, backoff.FieldMappingf("record has no %q field", field)
		}

		item.Fields[out] = v
	}

	for out, field := range m.Optional {
		if v, ok := take(rest, field); ok {
			item.Fields[out] = v
		}
	}

	for out, v := range m.Fixed {
		item.Fields[out] = v
	}

	item.Tags = Tags(rest, instanceTags)
	item.Data = rest

	return item, nil
}

func take(rec map[string]any, field string) (any, bool) {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil, false
	}

	delete(rec, field)

	return v, true
}

// Tags renders the tag fields of rec as sorted "key:value" strings followed by
// the instance tags.
func Tags(rec map[string]any, instanceTags []string) []string {
	tags := make([]string, 0, len(rec)+len(instanceTags))

	for k, v := range rec {
		if !IsTagField(k) {
			continue
		}

		tags = append(tags, fmt.Sprintf("%s:%v", k, v))
	}

	sort.Strings(tags)

	return append(tags, instanceTags...)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
}

// ParseTime converts an ISO 8601 record time to epoch seconds. Fractions are
// truncated. Values without a zone are read as UTC.
func ParseTime(raw any) (int64, error) {
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("record time %v is not a string", raw)
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}

	return 0, fmt.Errorf("cannot parse record time %q", s)
}
