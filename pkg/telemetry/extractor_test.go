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

package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backend/fakebackend"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/backoff"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/savedsearch"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/telemetry"
)

const now int64 = 1488974400

type collector struct {
	mu    sync.Mutex
	items []telemetry.Item
	err   func(telemetry.Item) error
}

func (c *collector) Emit(item telemetry.Item) error {
	if c.err != nil {
		if err := c.err(item); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, item)

	return nil
}

func records(n int, stamp string) []backend.Record {
	out := make([]backend.Record, 0, n)
	for i := range n {
		out = append(out, backend.Record{"_time": stamp, "value": fmt.Sprint(i), "host": "plc"})
	}

	return out
}

// cancellingBackend cancels the extraction context on the first unready poll.
type cancellingBackend struct {
	*fakebackend.Backend
	cancel context.CancelFunc
}

func (b *cancellingBackend) Poll(ctx context.Context, id backend.JobID, offset, count int) (backend.Page, error) {
	page, err := b.Backend.Poll(ctx, id, offset, count)
	if errors.Is(err, backend.ErrNotReady) {
		b.cancel()
	}

	return page, err
}

var _ = Describe("Extractor", func() {
	var (
		ctx     context.Context
		fake    *fakebackend.Backend
		sink    *collector
		mapping telemetry.Mapping
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = fakebackend.New()
		sink = &collector{}
		mapping = telemetry.Mapping{Required: map[string]string{"value": "value"}}
	})

	run := func(def savedsearch.Definition, rt *savedsearch.Runtime) (telemetry.Stats, error) {
		window, err := rt.Begin(ctx, now)
		Expect(err).ToNot(HaveOccurred())

		job, err := fake.Dispatch(ctx, def, window)
		Expect(err).ToNot(HaveOccurred())

		return telemetry.NewExtractor(fake, sink, mapping, []string{"site:a"}, testLogger()).Extract(ctx, job, rt)
	}

	It("pages by batch size until a short page", func() {
		def := definition("s", 2, 0)
		fake.Script("s", fakebackend.Response{Records: records(5, "2017-03-08T12:00:00Z")})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(5))
		Expect(stats.Pages).To(Equal(3))

		offsets := []int{}
		for _, p := range fake.Polls() {
			offsets = append(offsets, p.Offset)
			Expect(p.Count).To(Equal(2))
		}
		Expect(offsets).To(Equal([]int{0, 2, 4}))
		Expect(sink.items[0].Search).To(Equal("s"))
		Expect(sink.items[0].Tags).To(Equal([]string{"host:plc", "site:a"}))
	})

	It("polls once more after an exactly full last page", func() {
		def := definition("s", 2, 0)
		fake.Script("s", fakebackend.Response{Records: records(4, "2017-03-08T12:00:00Z")})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(4))
		Expect(fake.Polls()).To(HaveLen(3))
	})

	It("aborts on a fatal message without emitting the page", func() {
		def := definition("s", 10, 0)
		fake.Script("s", fakebackend.Response{
			Records:  records(3, "2017-03-08T12:00:00Z"),
			Messages: []backend.Message{{Type: backend.MessageFatal, Text: "Error in 'search' command"}},
		})

		_, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(backoff.IsFatalResultError(err)).To(BeTrue())
		Expect(sink.items).To(BeEmpty())
	})

	It("tolerates non fatal messages", func() {
		def := definition("s", 10, 0)
		fake.Script("s", fakebackend.Response{
			Records: records(1, "2017-03-08T12:00:00Z"),
			Messages: []backend.Message{
				{Type: backend.MessageInfo, Text: backend.NoMatchingFieldsText},
				{Type: backend.MessageWarn, Text: "search truncated"},
			},
		})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(1))
	})

	It("retries a job that is not ready", func() {
		def := definition("s", 10, 3)
		fake.Script("s", fakebackend.Response{Records: records(1, "2017-03-08T12:00:00Z"), NotReady: 2})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(1))
	})

	It("gives up once the retry budget is spent", func() {
		def := definition("s", 10, 1)
		fake.Script("s", fakebackend.Response{Records: records(1, "2017-03-08T12:00:00Z"), NotReady: 5})

		_, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).To(MatchError(backend.ErrNotReady))
		Expect(backoff.IsTransientError(err)).To(BeTrue())
	})

	It("reports cancellation instead of an unready job when the context ends during retries", func() {
		def := definition("s", 10, 5)
		def.RetryIntervalSeconds = 1
		fake.Script("s", fakebackend.Response{Records: records(1, "2017-03-08T12:00:00Z"), NotReady: 10})

		rt := savedsearch.NewRuntime(def, 0, false, testLogger())
		window, err := rt.Begin(ctx, now)
		Expect(err).ToNot(HaveOccurred())

		job, err := fake.Dispatch(ctx, def, window)
		Expect(err).ToNot(HaveOccurred())

		cancelCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		b := &cancellingBackend{Backend: fake, cancel: cancel}
		_, err = telemetry.NewExtractor(b, sink, mapping, nil, testLogger()).Extract(cancelCtx, job, rt)
		Expect(err).To(MatchError(context.Canceled))
		Expect(err).ToNot(MatchError(backend.ErrNotReady))
		Expect(err.Error()).ToNot(ContainSubstring("not ready after"))
	})

	It("passes poll errors through", func() {
		def := definition("s", 10, 3)
		fake.Script("s", fakebackend.Response{PollErr: backoff.NewAuthError(errors.New("session expired"))})

		_, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(backoff.IsAuthError(err)).To(BeTrue())
		Expect(fake.Polls()).To(BeEmpty())
	})

	It("drops records that cannot be mapped and keeps going", func() {
		def := definition("s", 10, 0)
		fake.Script("s", fakebackend.Response{Records: []backend.Record{
			{"_time": "2017-03-08T12:00:00Z", "value": "1"},
			{"_time": "2017-03-08T12:00:00Z"},
			{"value": "3"},
			{"_time": "2017-03-08T12:00:01Z", "value": "4"},
		}})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(2))
		Expect(stats.Failed).To(Equal(2))
	})

	It("drops records the sink rejects as unmappable", func() {
		def := definition("s", 10, 0)
		fake.Script("s", fakebackend.Response{Records: records(3, "2017-03-08T12:00:00Z")})
		sink.err = func(item telemetry.Item) error {
			if item.String("value") == "1" {
				return backoff.FieldMappingf("value is not numeric")
			}

			return nil
		}

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(2))
		Expect(stats.Failed).To(Equal(1))
	})

	It("fails on any other sink error", func() {
		def := definition("s", 10, 0)
		fake.Script("s", fakebackend.Response{Records: records(1, "2017-03-08T12:00:00Z")})
		sink.err = func(telemetry.Item) error { return errors.New("aggregator closed") }

		_, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).To(MatchError("aggregator closed"))
	})

	It("suppresses records already delivered at the watermark second", func() {
		def := definition("s", 10, 0)
		boundary := records(2, "2017-03-08T12:00:00Z")
		fake.Script("s",
			fakebackend.Response{Records: boundary},
			fakebackend.Response{Records: append(boundary, backend.Record{"_time": "2017-03-08T12:00:00Z", "value": "late", "host": "plc"})},
		)

		rt := savedsearch.NewRuntime(def, 0, false, testLogger())

		stats, err := run(def, rt)
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(2))
		rt.Commit(now)

		stats, err = run(def, rt)
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(1))
		Expect(stats.Suppressed).To(Equal(2))
		Expect(sink.items[2].String("value")).To(Equal("late"))
	})

	It("skips dedup in snapshot mode", func() {
		def := definition("s", 10, 0)
		mapping = telemetry.Mapping{Critical: map[string]string{"id": "id"}, Snapshot: true}
		fake.Script("s", fakebackend.Response{Records: []backend.Record{{"id": "a"}, {"id": "a"}}})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(err).ToNot(HaveOccurred())
		Expect(stats.Emitted).To(Equal(2))
	})

	It("fails the search when a critical field is missing", func() {
		def := definition("s", 10, 0)
		mapping = telemetry.Mapping{Critical: map[string]string{"id": "id"}, Snapshot: true}
		fake.Script("s", fakebackend.Response{Records: []backend.Record{{"id": "a"}, {"type": "b"}}})

		stats, err := run(def, savedsearch.NewRuntime(def, 0, false, testLogger()))
		Expect(backoff.IsFatalResultError(err)).To(BeTrue())
		Expect(stats.Emitted).To(Equal(1))
	})
})
