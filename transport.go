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

	"github.com/ZaparooProject/go-nxpdfu/internal/syncutil"
)

// Transport is the USB control-transfer primitive the DFU engine runs on.
// It is implemented by transport/usb for real hardware and by the
// internal/testing simulator for tests.
type Transport interface {
	// Control issues one control transfer. For IN requests (rType bit 7 set)
	// data receives the reply; for OUT requests data is sent. It returns the
	// number of bytes actually transferred.
	Control(ctx context.Context, rType, request uint8, val, idx uint16, data []byte) (int, error)

	// ClaimInterface selects the configuration and claims the interface.
	ClaimInterface(config, iface int) error

	// Reset issues a USB bus reset. The device is expected to re-enumerate.
	Reset() error

	// Close releases the device handle
	Close() error

	// IsConnected returns true if the handle is still open
	IsConnected() bool
}

// isIn reports whether a bmRequestType describes a device-to-host transfer.
func isIn(rType uint8) bool {
	return rType&0x80 != 0
}

// ControlCall records a single transfer seen by MockTransport.
type ControlCall struct {
	Data    []byte // OUT payload, nil for IN
	Length  int    // buffer length offered by the caller
	RType   uint8
	Request uint8
	Value   uint16
	Index   uint16
}

// MockTransport provides a scripted implementation of Transport for testing.
// IN replies are queued per bRequest and consumed in order; once a queue is
// empty the default reply for that request (if any) is returned.
type MockTransport struct {
	replies    map[uint8][][]byte
	defaults   map[uint8][]byte
	errorMap   map[uint8]error
	shortWrite map[uint8]int
	calls      []ControlCall
	claimCfg   int
	claimIf    int
	resets     int
	mu         syncutil.Mutex
	connected  bool
	claimed    bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected:  true,
		replies:    make(map[uint8][][]byte),
		defaults:   make(map[uint8][]byte),
		errorMap:   make(map[uint8]error),
		shortWrite: make(map[uint8]int),
	}
}

// Control implements Transport
func (m *MockTransport) Control(
	ctx context.Context, rType, request uint8, val, idx uint16, data []byte,
) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, NewTransportError("control", "mock", ErrTransportClosed, ErrorTypePermanent)
	}

	call := ControlCall{RType: rType, Request: request, Value: val, Index: idx, Length: len(data)}
	if !isIn(rType) {
		call.Data = append([]byte{}, data...)
	}
	m.calls = append(m.calls, call)

	if err, exists := m.errorMap[request]; exists {
		return 0, err
	}

	if !isIn(rType) {
		if n, exists := m.shortWrite[request]; exists && n < len(data) {
			return n, nil
		}
		return len(data), nil
	}

	var reply []byte
	if queue := m.replies[request]; len(queue) > 0 {
		reply = queue[0]
		m.replies[request] = queue[1:]
	} else if def, exists := m.defaults[request]; exists {
		reply = def
	}
	return copy(data, reply), nil
}

// ClaimInterface implements Transport
func (m *MockTransport) ClaimInterface(config, iface int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("claim interface %d: %w", iface, ErrTransportClosed)
	}
	m.claimCfg, m.claimIf, m.claimed = config, iface, true
	return nil
}

// Reset implements Transport
func (m *MockTransport) Reset() error {
	m.mu.Lock()
	m.resets++
	m.mu.Unlock()
	return nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Test helper methods

// QueueReply appends replies for an IN request. Each reply is consumed once.
func (m *MockTransport) QueueReply(request uint8, replies ...[]byte) {
	m.mu.Lock()
	for _, r := range replies {
		m.replies[request] = append(m.replies[request], append([]byte{}, r...))
	}
	m.mu.Unlock()
}

// SetDefaultReply configures the reply returned once the queue for request is empty.
func (m *MockTransport) SetDefaultReply(request uint8, reply []byte) {
	m.mu.Lock()
	m.defaults[request] = append([]byte{}, reply...)
	m.mu.Unlock()
}

// SetError configures an error to be returned for a specific request
func (m *MockTransport) SetError(request uint8, err error) {
	m.mu.Lock()
	m.errorMap[request] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a request
func (m *MockTransport) ClearError(request uint8) {
	m.mu.Lock()
	delete(m.errorMap, request)
	m.mu.Unlock()
}

// SetShortWrite makes OUT transfers of request report at most n bytes sent.
func (m *MockTransport) SetShortWrite(request uint8, n int) {
	m.mu.Lock()
	m.shortWrite[request] = n
	m.mu.Unlock()
}

// Calls returns a copy of every transfer issued so far.
func (m *MockTransport) Calls() []ControlCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ControlCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsFor returns the transfers issued for one bRequest.
func (m *MockTransport) CallsFor(request uint8) []ControlCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ControlCall
	for _, c := range m.calls {
		if c.Request == request {
			out = append(out, c)
		}
	}
	return out
}

// GetCallCount returns how many times a request was issued
func (m *MockTransport) GetCallCount(request uint8) int {
	return len(m.CallsFor(request))
}

// ResetCount returns how many bus resets were issued
func (m *MockTransport) ResetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

// Claimed returns the claimed configuration and interface
func (m *MockTransport) Claimed() (config, iface int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimCfg, m.claimIf, m.claimed
}

// ClearCalls drops the call log and reconnects the mock
func (m *MockTransport) ClearCalls() {
	m.mu.Lock()
	m.calls = nil
	m.resets = 0
	m.connected = true
	m.mu.Unlock()
}
