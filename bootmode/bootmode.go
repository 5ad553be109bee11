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

// Package bootmode drives the ISP and RESET lines of a flashing jig so the
// target comes up in its USB DFU boot ROM before phase 1 of an update.
//
// Both lines are active low: holding ISP low while RESET is released makes
// the NXP boot ROM enter ISP mode instead of starting the application.
package bootmode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-nxpdfu"
)

const (
	// DefaultResetPulse is how long RESET is held low.
	DefaultResetPulse = 50 * time.Millisecond
	// DefaultISPHold is how long ISP stays low after RESET is released. The
	// boot ROM samples the pin shortly after reset.
	DefaultISPHold = 100 * time.Millisecond
)

// ErrPinNotFound is returned when a GPIO name is not known to the host.
var ErrPinNotFound = errors.New("gpio pin not found")

// Config holds the line timings.
type Config struct {
	ResetPulse time.Duration
	ISPHold    time.Duration
}

// DefaultConfig returns the default line timings.
func DefaultConfig() Config {
	return Config{ResetPulse: DefaultResetPulse, ISPHold: DefaultISPHold}
}

// Jig controls one target's boot lines.
type Jig struct {
	isp   gpio.PinOut
	reset gpio.PinOut
	cfg   Config
}

// New wraps already opened pins.
func New(isp, reset gpio.PinOut, cfg Config) (*Jig, error) {
	if isp == nil || reset == nil {
		return nil, fmt.Errorf("%w: both ISP and RESET pins are required", nxpdfu.ErrInvalidParameter)
	}
	if cfg.ResetPulse <= 0 || cfg.ISPHold < 0 {
		return nil, fmt.Errorf("%w: reset pulse %v, ISP hold %v", nxpdfu.ErrInvalidParameter, cfg.ResetPulse, cfg.ISPHold)
	}
	return &Jig{isp: isp, reset: reset, cfg: cfg}, nil
}

// Open initializes the periph host drivers and looks both pins up by name,
// e.g. "GPIO17".
func Open(ispName, resetName string, cfg Config) (*Jig, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	isp := gpioreg.ByName(ispName)
	if isp == nil {
		return nil, fmt.Errorf("%w: ISP %q", ErrPinNotFound, ispName)
	}
	reset := gpioreg.ByName(resetName)
	if reset == nil {
		return nil, fmt.Errorf("%w: RESET %q", ErrPinNotFound, resetName)
	}
	return New(isp, reset, cfg)
}

// EnterISP resets the target with ISP held low, leaving it in the boot ROM.
func (j *Jig) EnterISP(ctx context.Context) error {
	nxpdfu.Debugf("bootmode: entering ISP via %s/%s", j.isp.Name(), j.reset.Name())
	if err := j.isp.Out(gpio.Low); err != nil {
		return fmt.Errorf("assert ISP: %w", err)
	}
	if err := j.pulseReset(ctx); err != nil {
		_ = j.isp.Out(gpio.High)
		return err
	}
	if err := sleep(ctx, j.cfg.ISPHold); err != nil {
		_ = j.isp.Out(gpio.High)
		return err
	}
	if err := j.isp.Out(gpio.High); err != nil {
		return fmt.Errorf("release ISP: %w", err)
	}
	return nil
}

// Reset pulses RESET with ISP released so the target boots its application.
func (j *Jig) Reset(ctx context.Context) error {
	nxpdfu.Debugf("bootmode: reset via %s", j.reset.Name())
	if err := j.isp.Out(gpio.High); err != nil {
		return fmt.Errorf("release ISP: %w", err)
	}
	return j.pulseReset(ctx)
}

// Release drives both lines high.
func (j *Jig) Release() error {
	return errors.Join(j.isp.Out(gpio.High), j.reset.Out(gpio.High))
}

func (j *Jig) pulseReset(ctx context.Context) error {
	if err := j.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("assert RESET: %w", err)
	}
	waitErr := sleep(ctx, j.cfg.ResetPulse)
	if err := j.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("release RESET: %w", err)
	}
	return waitErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
