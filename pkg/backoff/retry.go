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

package backoff

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff"
)

// RetryPolicy is a bounded retry with a fixed sleep between attempts.
// An operation is attempted at most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// NewRetryPolicy builds a policy from the per-search settings.
func NewRetryPolicy(maxRetries int, intervalSeconds float64) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}

	return RetryPolicy{
		MaxRetries: maxRetries,
		Interval:   time.Duration(intervalSeconds * float64(time.Second)),
	}
}

// Do runs op until it returns nil, returns an error wrapped with Permanent,
// the retry budget is exhausted or ctx is done. The last error is returned.
// notify is called before every sleep and may be nil.
func (p RetryPolicy) Do(ctx context.Context, op func() error, notify func(err error, wait time.Duration)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	policy := cbackoff.WithContext(
		cbackoff.WithMaxRetries(cbackoff.NewConstantBackOff(p.Interval), uint64(p.MaxRetries)),
		ctx,
	)

	return cbackoff.RetryNotify(op, policy, notify)
}

// Permanent marks err so that RetryPolicy.Do stops immediately and returns err.
func Permanent(err error) error {
	return cbackoff.Permanent(err)
}
