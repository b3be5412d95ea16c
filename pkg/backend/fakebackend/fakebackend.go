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

// Package fakebackend provides a scripted backend.SearchBackend for tests.
package fakebackend

import (
	"context"
	"fmt"
	"sync"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
)

// Response scripts what one dispatch of a search returns.
type Response struct {
	Records     []backend.Record
	Messages    []backend.Message
	NotReady    int
	DispatchErr error
	PollErr     error
}

// DispatchCall records one Dispatch.
type DispatchCall struct {
	Search string
	Window savedsearch.Window
	Job    backend.JobID
}

// PollCall records one Poll that returned a page.
type PollCall struct {
	Job    backend.JobID
	Offset int
	Count  int
}

type job struct {
	response Response
	search   string
	notReady int
}

// Backend is a thread-safe scripted SearchBackend. Each search has a queue of
// responses; every dispatch consumes one and the last one is reused.
type Backend struct {
	AuthErr error
	ListErr error

	mu        sync.Mutex
	names     []string
	scripts   map[string][]Response
	jobs      map[backend.JobID]*job
	nextJob   int
	dispatch  []DispatchCall
	polls     []PollCall
	finalized []backend.JobID
	auths     int
}

var _ backend.SearchBackend = (*Backend)(nil)

// New creates an empty fake.
func New() *Backend {
	return &Backend{
		scripts: make(map[string][]Response),
		jobs:    make(map[backend.JobID]*job),
	}
}

// SetSearchNames sets the live saved search list.
func (b *Backend) SetSearchNames(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.names = append([]string(nil), names...)
}

// Script appends responses for search.
func (b *Backend) Script(search string, responses ...Response) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.scripts[search] = append(b.scripts[search], responses...)
}

// AddJob registers a job that exists on the backend without a dispatch,
// as left behind by a previous process.
func (b *Backend) AddJob(id backend.JobID, search string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs[id] = &job{search: search}
}

// Authenticate returns AuthErr.
func (b *Backend) Authenticate(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.auths++

	return b.AuthErr
}

// ListSearchNames returns the configured names or ListErr.
func (b *Backend) ListSearchNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ListErr != nil {
		return nil, b.ListErr
	}

	return append([]string(nil), b.names...), nil
}

// Dispatch consumes the next scripted response of the search.
func (b *Backend) Dispatch(ctx context.Context, search savedsearch.Definition, window savedsearch.Window) (backend.JobID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var resp Response

	if queue := b.scripts[search.Name]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			b.scripts[search.Name] = queue[1:]
		}
	}

	if resp.DispatchErr != nil {
		return "", resp.DispatchErr
	}

	b.nextJob++
	id := backend.JobID(fmt.Sprintf("sid-%s-%d", search.Name, b.nextJob))
	b.jobs[id] = &job{response: resp, search: search.Name, notReady: resp.NotReady}
	b.dispatch = append(b.dispatch, DispatchCall{Search: search.Name, Window: window, Job: id})

	return id, nil
}

// Poll pages through the scripted records of the job.
func (b *Backend) Poll(ctx context.Context, id backend.JobID, offset, count int) (backend.Page, error) {
	if err := ctx.Err(); err != nil {
		return backend.Page{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[id]
	if !ok {
		return backend.Page{}, fmt.Errorf("unknown job %s", id)
	}

	if j.notReady > 0 {
		j.notReady--

		return backend.Page{}, backend.ErrNotReady
	}

	if j.response.PollErr != nil {
		return backend.Page{}, j.response.PollErr
	}

	b.polls = append(b.polls, PollCall{Job: id, Offset: offset, Count: count})

	page := backend.Page{Messages: j.response.Messages}

	if offset < len(j.response.Records) {
		end := min(offset+count, len(j.response.Records))
		for _, rec := range j.response.Records[offset:end] {
			page.Results = append(page.Results, copyRecord(rec))
		}
	}

	return page, nil
}

// Finalize forgets the job. Unknown jobs are accepted.
func (b *Backend) Finalize(_ context.Context, id backend.JobID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.jobs, id)
	b.finalized = append(b.finalized, id)

	return nil
}

// Dispatches returns all dispatch calls in order.
func (b *Backend) Dispatches() []DispatchCall {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]DispatchCall(nil), b.dispatch...)
}

// DispatchesOf returns the dispatch calls of one search.
func (b *Backend) DispatchesOf(search string) []DispatchCall {
	var out []DispatchCall

	for _, call := range b.Dispatches() {
		if call.Search == search {
			out = append(out, call)
		}
	}

	return out
}

// Polls returns all successful poll calls in order.
func (b *Backend) Polls() []PollCall {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]PollCall(nil), b.polls...)
}

// Finalized returns the finalized job ids in order.
func (b *Backend) Finalized() []backend.JobID {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]backend.JobID(nil), b.finalized...)
}

// Authentications returns how often Authenticate was called.
func (b *Backend) Authentications() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.auths
}

func copyRecord(rec backend.Record) backend.Record {
	out := make(backend.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}

	return out
}
