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

package savedsearch

// Deduplicator tracks the newest record time of one cycle and the keys seen
// exactly at that second. Records whose key was seen at the previous cycle's
// watermark second are suppressed.
type Deduplicator struct {
	sentAlready map[Key]struct{}
	keys        map[Key]struct{}
	watermark   int64
}

// NewDeduplicator starts a cycle at watermark with the previous cycle's
// boundary keys.
func NewDeduplicator(watermark int64, sentAlready map[Key]struct{}) *Deduplicator {
	if sentAlready == nil {
		sentAlready = map[Key]struct{}{}
	}

	return &Deduplicator{
		sentAlready: sentAlready,
		keys:        map[Key]struct{}{},
		watermark:   watermark,
	}
}

// ShouldEmit records the key at recordTime and reports whether the record
// still has to be delivered.
func (d *Deduplicator) ShouldEmit(key Key, recordTime int64) bool {
	switch {
	case recordTime > d.watermark:
		d.keys = map[Key]struct{}{key: {}}
		d.watermark = recordTime
	case recordTime == d.watermark:
		d.keys[key] = struct{}{}
	}

	_, sent := d.sentAlready[key]

	return !sent
}

// Watermark returns the newest record time seen so far.
func (d *Deduplicator) Watermark() int64 {
	return d.watermark
}

// Keys returns the keys seen at Watermark.
func (d *Deduplicator) Keys() map[Key]struct{} {
	return d.keys
}
