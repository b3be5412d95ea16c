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
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the saved searches of one monitored instance: exact entries
// configured by name and templates configured by match pattern. Templates are
// instantiated for every live backend name they match.
type Registry struct {
	log *zap.SugaredLogger

	exact     []Definition
	templates []Definition

	mu        sync.RWMutex
	exactRT   map[string]*Runtime
	derivedRT map[string]*Runtime
}

// NewRegistry splits defs into exact entries and templates. Definitions must
// have been built with NewDefinition.
func NewRegistry(defs []Definition, log *zap.SugaredLogger) *Registry {
	r := &Registry{
		log:       log,
		exactRT:   make(map[string]*Runtime),
		derivedRT: make(map[string]*Runtime),
	}

	for _, def := range defs {
		if def.IsTemplate() {
			r.templates = append(r.templates, def)
		} else {
			r.exact = append(r.exact, def)
		}
	}

	return r
}

// HasTemplates reports whether refreshing needs the backend's search list.
func (r *Registry) HasTemplates() bool {
	return len(r.templates) > 0
}

// EnsureExact creates the runtimes of exact entries that do not exist yet,
// seeded from watermarks.
func (r *Registry) EnsureExact(watermarks map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureExact(watermarks)
}

func (r *Registry) ensureExact(watermarks map[string]int64) {
	for _, def := range r.exact {
		if _, ok := r.exactRT[def.Name]; ok {
			continue
		}

		wm, ok := watermarks[def.Name]
		r.exactRT[def.Name] = NewRuntime(def, wm, ok, r.log)
	}
}

// Refresh reconciles the instantiated set with the names the backend reports.
// Template-derived searches missing from liveNames are dropped, new matching
// names are instantiated from the first matching template and exact entries
// always stay.
func (r *Registry) Refresh(liveNames []string, watermarks map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureExact(watermarks)

	live := make(map[string]struct{}, len(liveNames))
	for _, name := range liveNames {
		live[name] = struct{}{}
	}

	for name := range r.derivedRT {
		if _, ok := live[name]; !ok {
			r.log.Infof("saved search %s no longer reported by the backend, dropping it", name)
			delete(r.derivedRT, name)
		}
	}

	for _, name := range liveNames {
		if _, ok := r.exactRT[name]; ok {
			continue
		}

		if _, ok := r.derivedRT[name]; ok {
			continue
		}

		for _, tmpl := range r.templates {
			if !tmpl.Matches(name) {
				continue
			}

			def, err := tmpl.Instantiate(name)
			if err != nil {
				r.log.Warnf("skipping saved search %s: %v", name, err)

				break
			}

			wm, ok := watermarks[name]
			r.derivedRT[name] = NewRuntime(def, wm, ok, r.log)
			r.log.Infof("instantiated saved search %s from match %q", name, tmpl.Match)

			break
		}
	}
}

// Searches returns the instantiated runtimes: exact entries in configuration
// order followed by template-derived ones sorted by name.
func (r *Registry) Searches() []*Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Runtime, 0, len(r.exactRT)+len(r.derivedRT))

	for _, def := range r.exact {
		if rt, ok := r.exactRT[def.Name]; ok {
			out = append(out, rt)
		}
	}

	derived := make([]string, 0, len(r.derivedRT))
	for name := range r.derivedRT {
		derived = append(derived, name)
	}

	sort.Strings(derived)

	for _, name := range derived {
		out = append(out, r.derivedRT[name])
	}

	return out
}

// Names returns the names of the instantiated searches in Searches order.
func (r *Registry) Names() []string {
	searches := r.Searches()

	names := make([]string, len(searches))
	for i, rt := range searches {
		names[i] = rt.Name()
	}

	return names
}

// Partition splits searches into consecutive groups of at most size entries.
func Partition(searches []*Runtime, size int) [][]*Runtime {
	if size <= 0 {
		size = 1
	}

	groups := make([][]*Runtime, 0, (len(searches)+size-1)/size)

	for start := 0; start < len(searches); start += size {
		end := min(start+size, len(searches))
		groups = append(groups, searches[start:end])
	}

	return groups
}
