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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/internal/syncutil"
)

// ErrTransportClosed mirrors nxpdfu.ErrTransportClosed without importing it.
var ErrTransportClosed = errors.New("simulator transport closed")

// SimulatorTransport wraps a VirtualDevice and implements nxpdfu.Transport.
// Each handle behaves like one libusb open: after a bus reset or once the
// device leaves the bus the handle stays dead and a new one must be opened.
type SimulatorTransport struct {
	dev        *VirtualDevice
	ControlLog []ControlLogEntry
	mu         syncutil.Mutex
	claimed    bool
	connected  bool
}

// ControlLogEntry records one control transfer sent through the transport
type ControlLogEntry struct {
	Timestamp time.Time
	Err       error
	RType     uint8
	Request   uint8
	Value     uint16
	Length    int
}

// NewSimulatorTransport creates a new transport backed by dev
func NewSimulatorTransport(dev *VirtualDevice) *SimulatorTransport {
	return &SimulatorTransport{
		dev:        dev,
		connected:  true,
		ControlLog: make([]ControlLogEntry, 0),
	}
}

// Control forwards one transfer to the virtual device.
func (t *SimulatorTransport) Control(
	ctx context.Context, rType, request uint8, val, idx uint16, data []byte,
) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return 0, ErrTransportClosed
	}

	n, err := t.dev.Control(rType, request, val, idx, data)
	t.ControlLog = append(t.ControlLog, ControlLogEntry{
		Timestamp: time.Now(),
		Err:       err,
		RType:     rType,
		Request:   request,
		Value:     val,
		Length:    len(data),
	})
	return n, err
}

// ClaimInterface checks the request against the device's descriptors.
func (t *SimulatorTransport) ClaimInterface(config, iface int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	desc := t.dev.cfg.Descriptor
	if config != int(desc.ConfigValue) || iface != int(desc.Interface) {
		return fmt.Errorf("no interface %d in configuration %d", iface, config)
	}
	t.claimed = true
	return nil
}

// Reset issues a bus reset; the device drops off until Reattach.
func (t *SimulatorTransport) Reset() error {
	t.dev.BusReset()
	return nil
}

// Close closes the transport
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

// IsConnected returns whether the transport is connected
func (t *SimulatorTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Device returns the underlying VirtualDevice for test setup
func (t *SimulatorTransport) Device() *VirtualDevice {
	return t.dev
}

// Claimed reports whether ClaimInterface succeeded
func (t *SimulatorTransport) Claimed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimed
}

// GetRequestCount returns how many times a bRequest was sent
func (t *SimulatorTransport) GetRequestCount(request uint8) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, entry := range t.ControlLog {
		if entry.Request == request {
			count++
		}
	}
	return count
}

// ClearControlLog clears the control log
func (t *SimulatorTransport) ClearControlLog() {
	t.mu.Lock()
	t.ControlLog = make([]ControlLogEntry, 0)
	t.mu.Unlock()
}
