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

package testing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/internal/syncutil"
)

// ControlTransport is the subset of nxpdfu.Transport that JitteryTransport
// wraps. Declared here so this package stays free of the root import.
type ControlTransport interface {
	Control(ctx context.Context, rType, request uint8, val, idx uint16, data []byte) (int, error)
	ClaimInterface(config, iface int) error
	Reset() error
	Close() error
	IsConnected() bool
}

// JitterConfig configures the behavior of JitteryTransport.
type JitterConfig struct {
	MaxLatency time.Duration
	// StallAfter stalls once for StallDuration after this many transfers (0 = never).
	StallAfter    int
	StallDuration time.Duration
	Seed          uint64
}

// DefaultJitterConfig returns a sensible default configuration for testing.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency: 2 * time.Millisecond,
	}
}

// JitteryTransport wraps a transport to simulate hub and host controller
// latency: every control transfer is delayed by a random amount, and the
// link can stall once mid-run the way a busy USB hub does.
type JitteryTransport struct {
	ControlTransport
	rng       *rand.Rand
	config    JitterConfig
	transfers int
	mu        syncutil.Mutex
	stalled   bool
}

// NewJitteryTransport wraps backend with jitter simulation.
func NewJitteryTransport(backend ControlTransport, config JitterConfig) *JitteryTransport {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	return &JitteryTransport{
		ControlTransport: backend,
		config:           config,
		rng:              rng,
	}
}

// Control delays the transfer, then passes it through.
func (j *JitteryTransport) Control(
	ctx context.Context, rType, request uint8, val, idx uint16, data []byte,
) (int, error) {
	if err := sleepCtx(ctx, j.nextDelay()); err != nil {
		return 0, err
	}
	return j.ControlTransport.Control(ctx, rType, request, val, idx, data) //nolint:wrapcheck // Pass-through wrapper
}

func (j *JitteryTransport) nextDelay() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.transfers++
	var delay time.Duration
	if j.config.MaxLatency > 0 {
		delay = time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1))
	}
	if j.config.StallAfter > 0 && !j.stalled && j.transfers > j.config.StallAfter {
		j.stalled = true
		delay += j.config.StallDuration
	}
	return delay
}

// Transfers returns how many transfers went through the wrapper.
func (j *JitteryTransport) Transfers() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transfers
}

// ResetStallState re-arms the one-shot stall.
func (j *JitteryTransport) ResetStallState() {
	j.mu.Lock()
	j.transfers = 0
	j.stalled = false
	j.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
