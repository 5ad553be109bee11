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

import "time"

// DFU class engine constants.
const (
	// MakeIdleAttempts bounds the recovery loop that drives a device to dfuIDLE.
	MakeIdleAttempts = 4
	// DefaultDetachTimeout is the wValue sent with DFU_DETACH, in milliseconds.
	DefaultDetachTimeout uint16 = 1000
	// DefaultTransferSize is used when the functional descriptor is missing or
	// reports a zero wTransferSize.
	DefaultTransferSize = 2048
	// MaxPollTimeoutHonored caps the device-requested bwPollTimeout between
	// GETSTATUS calls. Some ROM loaders report multi-second values while
	// they are actually ready much sooner.
	MaxPollTimeoutHonored = 100 * time.Millisecond
)

// Poll bounds. Every polling loop in the engine is bounded by one of these.
const (
	// WaitIdleInterval is the minimum delay between GETSTATUS polls in WaitIdle.
	WaitIdleInterval = 1 * time.Millisecond
	// WaitIdleTimeout bounds WaitIdle.
	WaitIdleTimeout = 5 * time.Second

	// VendorPollInterval is the delay between vendor status polls.
	VendorPollInterval = 10 * time.Millisecond
	// VendorPollTimeout bounds waits for PROG_STREAM, READ_TRIG and IDLE.
	VendorPollTimeout = 30 * time.Second

	// EraseTimeout bounds the wait for IDLE after an erase command.
	// Mass erase of a large part takes well over the regular vendor timeout.
	EraseTimeout = 120 * time.Second

	// ManifestPollInterval is the delay between GETSTATUS polls during manifestation.
	ManifestPollInterval = 10 * time.Millisecond
	// ManifestTimeout bounds the phase 1 manifestation wait.
	ManifestTimeout = 10 * time.Second
)

// Reconnect constants control how the updater finds the device again after
// it drops off the bus between phases.
const (
	// DefaultSettleDelay is how long the updater waits for re-enumeration
	// before looking for the device again.
	DefaultSettleDelay = 5 * time.Second
	// ReconnectAttempts is the number of attempts to reopen the device.
	ReconnectAttempts = 10
	// ReconnectInitialBackoff is the initial delay between reconnect attempts.
	ReconnectInitialBackoff = 250 * time.Millisecond
	// ReconnectMaxBackoff is the maximum delay between reconnect attempts.
	ReconnectMaxBackoff = 2 * time.Second
	// ReconnectBackoffMultiplier is the exponential backoff multiplier.
	ReconnectBackoffMultiplier = 2.0
	// ReconnectJitter is the random jitter factor (0.0-1.0).
	ReconnectJitter = 0.1
	// ReconnectRetryTimeout is the overall timeout for all reconnect attempts.
	ReconnectRetryTimeout = 30 * time.Second
)

// DefaultVerifyAttempts is the number of erase/program/verify passes the
// updater makes before giving up on a readback mismatch.
const DefaultVerifyAttempts = 1
