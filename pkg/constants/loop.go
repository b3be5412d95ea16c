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

import "time"

const (
	// DefaultTickerTime is the interval between check runs.
	DefaultTickerTime = 15 * time.Second

	// DefaultTickTimeout bounds a single check run. It is the only
	// cancellation an in-progress cycle sees.
	DefaultTickTimeout = 5 * time.Minute

	// ContinueDelay is the pause before an immediate rerun of a check that
	// is still catching up on history.
	ContinueDelay = 100 * time.Millisecond

	// ForwardMaxRetries bounds redelivery of one flushed batch.
	ForwardMaxRetries = 3

	// ForwardRetryInterval is the pause between delivery attempts.
	ForwardRetryInterval = time.Second

	// FlushTimeout bounds delivery of one batch, independent of the tick.
	FlushTimeout = 30 * time.Second
)
