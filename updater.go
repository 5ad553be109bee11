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
	"fmt"
	"io"
	"time"
)

// Phase identifies a step of an update for progress reporting.
type Phase int

// Update phases
const (
	PhaseSecondary Phase = iota
	PhaseReconnect
	PhaseErase
	PhaseProgram
	PhaseVerify
	PhaseReset
)

func (p Phase) String() string {
	switch p {
	case PhaseSecondary:
		return "secondary loader"
	case PhaseReconnect:
		return "reconnect"
	case PhaseErase:
		return "erase"
	case PhaseProgram:
		return "program"
	case PhaseVerify:
		return "verify"
	case PhaseReset:
		return "reset"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Progress is one progress event. Total is zero when unknown.
type Progress struct {
	Phase Phase
	Done  int
	Total int
}

// ProgressFunc receives progress events. It is called synchronously from the
// update goroutine and must not block.
type ProgressFunc func(Progress)

// Connector opens a transport to the target. It is called once per phase
// because the device re-enumerates in between.
type Connector func(ctx context.Context) (Transport, error)

// UpdateConfig configures an Updater
type UpdateConfig struct {
	// Reconnect controls how the device is found again after phase 1.
	Reconnect *RetryConfig
	// Progress receives progress events, may be nil.
	Progress ProgressFunc
	// ExecuteAddress, when set, starts the image at that address instead
	// of resetting the target at the end.
	ExecuteAddress *uint32
	// EngineOptions are passed to every Session.
	EngineOptions []Option
	// SettleDelay is the wait for re-enumeration between phases.
	SettleDelay time.Duration
	// VerifyAttempts is how many erase/program/verify passes are made
	// before a readback mismatch is reported.
	VerifyAttempts int
	// BaseAddress is where the main image is programmed.
	BaseAddress uint32
}

// DefaultUpdateConfig returns the default updater configuration
func DefaultUpdateConfig() *UpdateConfig {
	return &UpdateConfig{
		Reconnect:      ReconnectRetryConfig(),
		SettleDelay:    DefaultSettleDelay,
		VerifyAttempts: DefaultVerifyAttempts,
	}
}

// UpdateOption configures an Updater
type UpdateOption func(*UpdateConfig) error

// WithSettleDelay sets the wait between phases
func WithSettleDelay(d time.Duration) UpdateOption {
	return func(c *UpdateConfig) error {
		if d < 0 {
			return fmt.Errorf("%w: settle delay %v", ErrInvalidParameter, d)
		}
		c.SettleDelay = d
		return nil
	}
}

// WithVerifyAttempts sets the number of program/verify passes
func WithVerifyAttempts(n int) UpdateOption {
	return func(c *UpdateConfig) error {
		if n < 1 {
			return fmt.Errorf("%w: verify attempts must be at least 1, got %d", ErrInvalidParameter, n)
		}
		c.VerifyAttempts = n
		return nil
	}
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) UpdateOption {
	return func(c *UpdateConfig) error {
		c.Progress = fn
		return nil
	}
}

// WithExecute makes the updater start the image at addr instead of resetting.
func WithExecute(addr uint32) UpdateOption {
	return func(c *UpdateConfig) error {
		c.ExecuteAddress = &addr
		return nil
	}
}

// WithBaseAddress sets where the main image is programmed
func WithBaseAddress(addr uint32) UpdateOption {
	return func(c *UpdateConfig) error {
		c.BaseAddress = addr
		return nil
	}
}

// WithReconnectRetry sets the reconnect retry policy
func WithReconnectRetry(rc *RetryConfig) UpdateOption {
	return func(c *UpdateConfig) error {
		if rc == nil {
			return fmt.Errorf("%w: nil reconnect retry config", ErrInvalidParameter)
		}
		c.Reconnect = rc
		return nil
	}
}

// WithEngineOptions passes engine options to every session
func WithEngineOptions(opts ...Option) UpdateOption {
	return func(c *UpdateConfig) error {
		c.EngineOptions = append(c.EngineOptions, opts...)
		return nil
	}
}

// Updater runs the two-phase update: a secondary loader over plain DFU, then
// the main image over the vendor protocol once the device has come back.
type Updater struct {
	connect Connector
	config  *UpdateConfig
}

// NewUpdater creates an updater that reaches the target through connect.
func NewUpdater(connect Connector, opts ...UpdateOption) (*Updater, error) {
	if connect == nil {
		return nil, fmt.Errorf("%w: nil connector", ErrInvalidParameter)
	}
	cfg := DefaultUpdateConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply update option: %w", err)
		}
	}
	return &Updater{connect: connect, config: cfg}, nil
}

// Config returns the updater configuration
func (u *Updater) Config() *UpdateConfig {
	return u.config
}

func (u *Updater) open(ctx context.Context) (*Session, error) {
	transport, err := u.connect(ctx)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(ctx, transport, u.config.EngineOptions...)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	s.SetProgress(u.config.Progress)
	return s, nil
}

// reopen finds the device again after it re-enumerated.
func (u *Updater) reopen(ctx context.Context) (*Session, error) {
	u.report(PhaseReconnect, 0, 0)
	var s *Session
	attempt := 0
	err := RetryWithConfig(ctx, u.config.Reconnect, func() error {
		attempt++
		var err error
		s, err = u.open(ctx)
		if err != nil {
			Debugf("reconnect attempt %d: %v", attempt, err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("device did not come back after %d attempts: %w", attempt, err)
	}
	return s, nil
}

func (u *Updater) report(phase Phase, done, total int) {
	if u.config.Progress != nil {
		u.config.Progress(Progress{Phase: phase, Done: done, Total: total})
	}
}

// Run performs the complete update.
func (u *Updater) Run(ctx context.Context, secondary io.Reader, image io.ReadSeeker) error {
	if err := u.LoadSecondary(ctx, secondary); err != nil {
		return fmt.Errorf("phase 1: %w", err)
	}

	Debugf("waiting %v for the device to re-enumerate", u.config.SettleDelay)
	if !sleepContext(ctx, u.config.SettleDelay) {
		return ctx.Err()
	}

	if err := u.FlashImage(ctx, image); err != nil {
		return fmt.Errorf("phase 2: %w", err)
	}
	return nil
}

// LoadSecondary runs phase 1 on a fresh connection.
func (u *Updater) LoadSecondary(ctx context.Context, secondary io.Reader) error {
	s, err := u.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	n, err := s.LoadSecondary(ctx, secondary)
	if err != nil {
		return err
	}
	Debugf("secondary loader: %d bytes downloaded", n)
	return nil
}

// FlashImage runs phase 2, reconnecting first. On a verification mismatch the
// whole erase/program/verify pass is repeated up to VerifyAttempts times; the
// device is never reset while the image is not verified.
func (u *Updater) FlashImage(ctx context.Context, image io.ReadSeeker) error {
	s, err := u.reopen(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	return s.Flash(ctx, image, FlashSettings{
		ExecuteAddress: u.config.ExecuteAddress,
		VerifyAttempts: u.config.VerifyAttempts,
		BaseAddress:    u.config.BaseAddress,
	})
}
