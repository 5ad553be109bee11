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
	"fmt"
	"time"
)

// Config holds the tunables of the DFU engine and vendor protocol.
type Config struct {
	// WaitIdle bounds WaitIdle. The interval is a floor; the device's
	// bwPollTimeout is honored up to MaxPollTimeoutHonored.
	WaitIdle PollConfig
	// VendorPoll bounds vendor status waits.
	VendorPoll PollConfig
	// ErasePoll bounds the wait for IDLE after an erase.
	ErasePoll PollConfig
	// ManifestPoll bounds the phase 1 manifestation wait.
	ManifestPoll PollConfig
	// MakeIdleAttempts bounds MakeIdle.
	MakeIdleAttempts int
	// DefaultTransferSize is the fallback when the device does not report one.
	DefaultTransferSize int
	// DetachTimeout is sent with DFU_DETACH, in milliseconds.
	DetachTimeout uint16
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	return &Config{
		WaitIdle:            PollConfig{Interval: WaitIdleInterval, Timeout: WaitIdleTimeout},
		VendorPoll:          PollConfig{Interval: VendorPollInterval, Timeout: VendorPollTimeout},
		ErasePoll:           PollConfig{Interval: VendorPollInterval, Timeout: EraseTimeout},
		ManifestPoll:        PollConfig{Interval: ManifestPollInterval, Timeout: ManifestTimeout},
		MakeIdleAttempts:    MakeIdleAttempts,
		DefaultTransferSize: DefaultTransferSize,
		DetachTimeout:       DefaultDetachTimeout,
	}
}

// Option configures the engine
type Option func(*Config) error

// applyOptions builds a Config from the defaults and opts.
func applyOptions(opts []Option) (*Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func validPoll(name string, p PollConfig) error {
	if p.Interval < 0 || p.Timeout <= 0 {
		return fmt.Errorf("%w: %s poll interval %v timeout %v", ErrInvalidParameter, name, p.Interval, p.Timeout)
	}
	return nil
}

// WithWaitIdle sets the WaitIdle poll bounds
func WithWaitIdle(interval, timeout time.Duration) Option {
	return func(c *Config) error {
		p := PollConfig{Interval: interval, Timeout: timeout}
		if err := validPoll("wait idle", p); err != nil {
			return err
		}
		c.WaitIdle = p
		return nil
	}
}

// WithVendorPoll sets the vendor status poll bounds
func WithVendorPoll(interval, timeout time.Duration) Option {
	return func(c *Config) error {
		p := PollConfig{Interval: interval, Timeout: timeout}
		if err := validPoll("vendor", p); err != nil {
			return err
		}
		c.VendorPoll = p
		return nil
	}
}

// WithEraseTimeout sets how long an erase may take
func WithEraseTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		p := PollConfig{Interval: c.VendorPoll.Interval, Timeout: timeout}
		if err := validPoll("erase", p); err != nil {
			return err
		}
		c.ErasePoll = p
		return nil
	}
}

// WithManifestPoll sets the manifestation poll bounds
func WithManifestPoll(interval, timeout time.Duration) Option {
	return func(c *Config) error {
		p := PollConfig{Interval: interval, Timeout: timeout}
		if err := validPoll("manifest", p); err != nil {
			return err
		}
		c.ManifestPoll = p
		return nil
	}
}

// WithMakeIdleAttempts sets the recovery bound
func WithMakeIdleAttempts(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return fmt.Errorf("%w: make idle attempts must be at least 1, got %d", ErrInvalidParameter, n)
		}
		c.MakeIdleAttempts = n
		return nil
	}
}

// WithDefaultTransferSize sets the fallback transfer size
func WithDefaultTransferSize(n int) Option {
	return func(c *Config) error {
		if n <= 0 || n > 0xFFFF {
			return fmt.Errorf("%w: transfer size %d", ErrInvalidParameter, n)
		}
		c.DefaultTransferSize = n
		return nil
	}
}

// WithDetachTimeout sets the DFU_DETACH timeout
func WithDetachTimeout(ms uint16) Option {
	return func(c *Config) error {
		c.DetachTimeout = ms
		return nil
	}
}

// WithFastPolling shortens every poll interval to zero. Meant for the
// simulator, where the device answers instantly.
func WithFastPolling() Option {
	return func(c *Config) error {
		c.WaitIdle.Interval = 0
		c.VendorPoll.Interval = 0
		c.ErasePoll.Interval = 0
		c.ManifestPoll.Interval = 0
		return nil
	}
}
