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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransport_Replies(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.QueueReply(0x03, []byte{1, 2, 3}, []byte{4})
	mock.SetDefaultReply(0x03, []byte{9, 9})

	buf := make([]byte, 6)
	for _, want := range [][]byte{{1, 2, 3}, {4}, {9, 9}, {9, 9}} {
		n, err := mock.Control(context.Background(), 0xA1, 0x03, 0, 0, buf)
		require.NoError(t, err)
		assert.Equal(t, want, buf[:n])
	}

	// no queue and no default: zero-length reply
	n, err := mock.Control(context.Background(), 0xA1, 0x05, 0, 0, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMockTransport_RecordsCalls(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	payload := []byte{0xAA, 0xBB}
	_, err := mock.Control(context.Background(), 0x21, 0x01, 7, 2, payload)
	require.NoError(t, err)
	payload[0] = 0

	_, err = mock.Control(context.Background(), 0xA1, 0x02, 8, 2, make([]byte, 16))
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ControlCall{RType: 0x21, Request: 0x01, Value: 7, Index: 2, Length: 2, Data: []byte{0xAA, 0xBB}},
		calls[0])
	assert.Nil(t, calls[1].Data)
	assert.Equal(t, 16, calls[1].Length)
	assert.Len(t, mock.CallsFor(0x02), 1)
}

func TestMockTransport_Faults(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	injected := NewTransportError("control", "mock", ErrTransportFailure, ErrorTypeTransient)
	mock.SetError(0x01, injected)

	_, err := mock.Control(context.Background(), 0x21, 0x01, 0, 0, []byte{1})
	require.ErrorIs(t, err, ErrTransportFailure)
	mock.ClearError(0x01)

	mock.SetShortWrite(0x01, 3)
	n, err := mock.Control(context.Background(), 0x21, 0x01, 0, 0, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mock.Control(ctx, 0x21, 0x01, 0, 0, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMockTransport_Lifecycle(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	require.NoError(t, mock.ClaimInterface(1, 2))
	cfg, iface, ok := mock.Claimed()
	assert.True(t, ok)
	assert.Equal(t, 1, cfg)
	assert.Equal(t, 2, iface)

	require.NoError(t, mock.Reset())
	assert.Equal(t, 1, mock.ResetCount())

	require.NoError(t, mock.Close())
	assert.False(t, mock.IsConnected())
	_, err := mock.Control(context.Background(), 0xA1, 0x03, 0, 0, make([]byte, 6))
	require.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, IsFatal(err))
	require.ErrorIs(t, mock.ClaimInterface(1, 0), ErrTransportClosed)

	mock.ClearCalls()
	assert.True(t, mock.IsConnected())
	assert.Empty(t, mock.Calls())
	assert.Zero(t, mock.ResetCount())
}
