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

//go:build !prod

package nxpdfu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	simtest "github.com/ZaparooProject/go-nxpdfu/internal/testing"
)

// testTransferSize keeps mock-driven tests small.
const testTransferSize = 64

func testBinding() Binding {
	return Binding{Config: 1, Interface: 0, TransferSize: testTransferSize, MaxPacketSize0: 64}
}

// statusReply builds a GETSTATUS reply for the mock transport.
func statusReply(state State, code StatusCode) []byte {
	return simtest.BuildDFUStatus(uint8(code), uint8(state), 0)
}

// createMockDFU creates a DFU engine over a mock transport with polling
// intervals removed.
func createMockDFU(t *testing.T, opts ...Option) (*DFU, *MockTransport) {
	t.Helper()
	mock := NewMockTransport()
	dfu, err := NewDFU(mock, testBinding(), append([]Option{WithFastPolling()}, opts...)...)
	require.NoError(t, err)
	return dfu, mock
}

// createSimSession binds a session to dev through a fresh simulator handle.
func createSimSession(t *testing.T, dev *simtest.VirtualDevice, opts ...Option) (*Session, *simtest.SimulatorTransport) {
	t.Helper()
	transport := simtest.NewSimulatorTransport(dev)
	session, err := NewSession(context.Background(), transport, append([]Option{WithFastPolling()}, opts...)...)
	require.NoError(t, err)
	return session, transport
}

// testImage returns n bytes of a recognizable pattern.
func testImage(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i*7 + i>>8)
	}
	return img
}

// countBlocks counts the device-side DNLOAD or UPLOAD records for request.
func countBlocks(blocks []simtest.BlockRecord, request uint8) int {
	n := 0
	for _, b := range blocks {
		if b.Request == request {
			n++
		}
	}
	return n
}
