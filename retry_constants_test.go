// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package nxpdfu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestRetryConstants_Reconnect verifies the reconnect budget covers a slow
// re-enumeration without waiting forever on a device that never comes back.
func TestRetryConstants_Reconnect(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, ReconnectAttempts, 3,
		"ReconnectAttempts should allow a few lookups while the loader boots")
	assert.Greater(t, ReconnectMaxBackoff, ReconnectInitialBackoff,
		"ReconnectMaxBackoff should be greater than initial backoff")
	assert.GreaterOrEqual(t, ReconnectBackoffMultiplier, 1.5)
	assert.LessOrEqual(t, ReconnectBackoffMultiplier, 3.0)
	assert.GreaterOrEqual(t, ReconnectJitter, 0.0)
	assert.LessOrEqual(t, ReconnectJitter, 0.5)

	// the overall timeout should not cut the attempt budget short
	worst := time.Duration(0)
	backoff := ReconnectInitialBackoff
	for range ReconnectAttempts - 1 {
		worst += backoff
		backoff = min(time.Duration(float64(backoff)*ReconnectBackoffMultiplier), ReconnectMaxBackoff)
	}
	assert.Greater(t, ReconnectRetryTimeout, worst,
		"ReconnectRetryTimeout should cover every backoff")
}

// TestRetryConstants_PollBounds verifies every engine wait is bounded and
// ordered sensibly.
func TestRetryConstants_PollBounds(t *testing.T) {
	t.Parallel()

	assert.Less(t, WaitIdleInterval, WaitIdleTimeout)
	assert.Less(t, VendorPollInterval, VendorPollTimeout)
	assert.Less(t, ManifestPollInterval, ManifestTimeout)

	// mass erase is the slowest vendor operation
	assert.Greater(t, EraseTimeout, VendorPollTimeout)

	assert.LessOrEqual(t, MaxPollTimeoutHonored, time.Second,
		"bwPollTimeout cap should keep status polling responsive")
}

func TestRetryConstants_Engine(t *testing.T) {
	t.Parallel()

	assert.GreaterOrEqual(t, MakeIdleAttempts, 2,
		"MakeIdle needs at least one recovery request and one confirming GETSTATUS")
	assert.Equal(t, 2048, DefaultTransferSize)
	assert.Equal(t, 1, DefaultVerifyAttempts)
	assert.Positive(t, DefaultDetachTimeout)
	assert.Positive(t, DefaultSettleDelay)
}
