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
	"context"
	"time"
)

// PollConfig bounds a polling loop.
type PollConfig struct {
	// Interval is the delay between attempts. Zero polls back to back.
	Interval time.Duration
	// Timeout is the longest the loop may run. A zero Timeout makes exactly
	// one attempt.
	Timeout time.Duration
}

// pollFunc is one poll attempt. It returns done when the wait is over, or an
// error that ends the loop immediately. A positive wait overrides the
// configured interval for the next sleep.
type pollFunc func() (done bool, wait time.Duration, err error)

// poll runs fn until it reports done, fails, the context ends or the timeout
// elapses. A timeout yields *DeviceTimeoutError.
func poll(ctx context.Context, cfg PollConfig, op string, fn pollFunc) error {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, wait, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if wait <= 0 {
			wait = cfg.Interval
		}
		if time.Since(start)+wait > cfg.Timeout {
			return &DeviceTimeoutError{Op: op, Timeout: cfg.Timeout}
		}
		if !sleepContext(ctx, wait) {
			return ctx.Err()
		}
	}
}
