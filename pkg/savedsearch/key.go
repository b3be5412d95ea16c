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

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
)

// Key identifies a record for boundary dedup.
type Key uint64

const (
	fieldSep  = 0x1f
	recordSep = 0x1e
)

// KeyOf hashes the values of fields in order. With no fields the whole record
// is hashed with its keys sorted. A record that lacks one of the fields is a
// field mapping error.
func KeyOf(record map[string]any, fields []string) (Key, error) {
	digest := xxhash.New()

	if len(fields) == 0 {
		fields = make([]string, 0, len(record))
		for k := range record {
			fields = append(fields, k)
		}

		sort.Strings(fields)
	}

	for _, field := range fields {
		value, ok := record[field]
		if !ok {
			return 0, backoff.FieldMappingf("unique key field %q missing", field)
		}

		_, _ = digest.WriteString(field)
		_, _ = digest.Write([]byte{fieldSep})
		_, _ = digest.WriteString(fmt.Sprint(value))
		_, _ = digest.Write([]byte{recordSep})
	}

	return Key(digest.Sum64()), nil
}
