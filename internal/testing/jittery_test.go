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
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

func TestJitteryTransport_PassThrough(t *testing.T) {
	t.Parallel()

	dev := NewVirtualDevice(DefaultDeviceConfig())
	jittery := NewJitteryTransport(NewSimulatorTransport(dev), JitterConfig{Seed: 12345})

	buf := make([]byte, frame.DFUStatusLength)
	n, err := jittery.Control(context.Background(), frame.RequestTypeIn, frame.RequestGetStatus, 0, 0, buf)
	if err != nil {
		t.Fatalf("Control failed: %v", err)
	}
	if n != frame.DFUStatusLength {
		t.Fatalf("Control returned %d bytes, want %d", n, frame.DFUStatusLength)
	}
	if buf[4] != StateDFUIdle {
		t.Errorf("state = %d, want %d", buf[4], StateDFUIdle)
	}
	if jittery.Transfers() != 1 {
		t.Errorf("Transfers() = %d, want 1", jittery.Transfers())
	}
	if !jittery.IsConnected() {
		t.Error("embedded IsConnected should pass through")
	}
}

func TestJitteryTransport_Stall(t *testing.T) {
	t.Parallel()

	dev := NewVirtualDevice(DefaultDeviceConfig())
	jittery := NewJitteryTransport(NewSimulatorTransport(dev), JitterConfig{
		StallAfter:    2,
		StallDuration: 30 * time.Millisecond,
		Seed:          42,
	})

	buf := make([]byte, frame.DFUStatusLength)
	ctx := context.Background()
	for i := range 2 {
		if _, err := jittery.Control(ctx, frame.RequestTypeIn, frame.RequestGetStatus, 0, 0, buf); err != nil {
			t.Fatalf("transfer %d failed: %v", i, err)
		}
	}

	start := time.Now()
	if _, err := jittery.Control(ctx, frame.RequestTypeIn, frame.RequestGetStatus, 0, 0, buf); err != nil {
		t.Fatalf("stalled transfer failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected stall of at least 30ms, took %v", elapsed)
	}

	// one-shot
	start = time.Now()
	if _, err := jittery.Control(ctx, frame.RequestTypeIn, frame.RequestGetStatus, 0, 0, buf); err != nil {
		t.Fatalf("transfer after stall failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 30*time.Millisecond {
		t.Errorf("stall repeated, took %v", elapsed)
	}
}

func TestJitteryTransport_ContextCancelledDuringStall(t *testing.T) {
	t.Parallel()

	dev := NewVirtualDevice(DefaultDeviceConfig())
	jittery := NewJitteryTransport(NewSimulatorTransport(dev), JitterConfig{
		StallAfter:    1,
		StallDuration: time.Second,
	})

	buf := make([]byte, frame.DFUStatusLength)
	if _, err := jittery.Control(context.Background(), frame.RequestTypeIn, frame.RequestGetStatus, 0, 0, buf); err != nil {
		t.Fatalf("first transfer failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := jittery.Control(ctx, frame.RequestTypeIn, frame.RequestGetStatus, 0, 0, buf)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
