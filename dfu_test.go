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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

func TestNewDFU_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewDFU(nil, testBinding())
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewDFU(NewMockTransport(), Binding{})
	require.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewDFU(NewMockTransport(), testBinding(), WithMakeIdleAttempts(0))
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestDFU_GetStatus(t *testing.T) {
	t.Parallel()

	t.Run("Decodes_Reply", func(t *testing.T) {
		t.Parallel()

		dfu, mock := createMockDFU(t)
		mock.QueueReply(frame.RequestGetStatus, []byte{0x0A, 0x34, 0x12, 0x00, 0x05, 0x00})

		var st Status
		require.NoError(t, dfu.GetStatus(context.Background(), &st))
		assert.Equal(t, StatusErrFirmware, st.Code)
		assert.Equal(t, StateDnloadIdle, st.State)
		assert.Equal(t, 0x1234*time.Millisecond, st.PollTimeout)

		calls := mock.CallsFor(frame.RequestGetStatus)
		require.Len(t, calls, 1)
		assert.Equal(t, uint8(frame.RequestTypeIn), calls[0].RType)
		assert.Equal(t, frame.DFUStatusLength, calls[0].Length)
	})

	t.Run("Five_Bytes_Leave_Status_Untouched", func(t *testing.T) {
		t.Parallel()

		dfu, mock := createMockDFU(t)
		mock.QueueReply(frame.RequestGetStatus, []byte{0x00, 0x00, 0x00, 0x00, 0x02})

		st := Status{State: StateManifest, Code: StatusErrVerify, StringIndex: 9}
		before := st
		err := dfu.GetStatus(context.Background(), &st)
		require.ErrorIs(t, err, ErrShortTransfer)
		assert.Equal(t, before, st)
	})

	t.Run("Transport_Error", func(t *testing.T) {
		t.Parallel()

		dfu, mock := createMockDFU(t)
		mock.SetError(frame.RequestGetStatus, errors.New("usb stall"))

		_, err := dfu.Status(context.Background())
		require.ErrorIs(t, err, ErrTransportFailure)
		assert.True(t, IsRetryable(err))
	})
}

func TestDFU_RequestEncoding(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	binding := testBinding()
	binding.Interface = 2
	dfu, err := NewDFU(mock, binding)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, dfu.Detach(ctx, 500))
	require.NoError(t, dfu.ClearStatus(ctx))
	require.NoError(t, dfu.Abort(ctx))
	mock.QueueReply(frame.RequestGetState, []byte{byte(StateDFUIdle)})
	state, err := dfu.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateDFUIdle, state)

	calls := mock.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, ControlCall{RType: 0x21, Request: frame.RequestDetach, Value: 500, Index: 2, Data: []byte{}}, calls[0])
	assert.Equal(t, uint8(frame.RequestClrStatus), calls[1].Request)
	assert.Equal(t, uint8(frame.RequestAbort), calls[2].Request)
	assert.Equal(t, uint8(0xA1), calls[3].RType)
	for _, c := range calls {
		assert.Equal(t, uint16(2), c.Index)
	}
}

func TestDFU_TransactionCounter(t *testing.T) {
	t.Parallel()

	dfu, mock := createMockDFU(t)
	ctx := context.Background()

	_, err := dfu.Download(ctx, []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = dfu.Upload(ctx, make([]byte, 16))
	require.NoError(t, err)

	// a failed transfer still consumes its block number
	mock.SetError(frame.RequestDnload, errors.New("pipe error"))
	_, err = dfu.Download(ctx, []byte{4})
	require.Error(t, err)
	mock.ClearError(frame.RequestDnload)

	n, err := dfu.Download(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, uint16(4), dfu.Transaction())

	var values []uint16
	for _, c := range mock.Calls() {
		values = append(values, c.Value)
	}
	assert.Equal(t, []uint16{0, 1, 2, 3}, values)

	dfu.ResetTransaction()
	assert.Zero(t, dfu.Transaction())
}

func TestDFU_UploadUntagged(t *testing.T) {
	t.Parallel()

	dfu, mock := createMockDFU(t)
	mock.SetDefaultReply(frame.RequestUpload, []byte{1, 2, 3})
	ctx := context.Background()

	_, err := dfu.Download(ctx, []byte{1})
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := dfu.UploadUntagged(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint16(1), dfu.Transaction())

	calls := mock.CallsFor(frame.RequestUpload)
	require.Len(t, calls, 1)
	assert.Zero(t, calls[0].Value)
	assert.Equal(t, 16, calls[0].Length)
}

func TestDFU_DownloadFull_ShortWrite(t *testing.T) {
	t.Parallel()

	dfu, mock := createMockDFU(t)
	mock.SetShortWrite(frame.RequestDnload, 10)

	err := dfu.downloadFull(context.Background(), make([]byte, 32))
	require.ErrorIs(t, err, ErrShortTransfer)
}

func TestDFU_WaitIdle(t *testing.T) {
	t.Parallel()

	t.Run("Polls_Until_Idle", func(t *testing.T) {
		t.Parallel()

		dfu, mock := createMockDFU(t)
		mock.QueueReply(frame.RequestGetStatus,
			statusReply(StateDnBusy, StatusOK),
			statusReply(StateDnloadSync, StatusOK),
			statusReply(StateDnloadIdle, StatusOK))

		require.NoError(t, dfu.WaitIdle(context.Background()))
		assert.Equal(t, 3, mock.GetCallCount(frame.RequestGetStatus))
	})

	t.Run("Error_State", func(t *testing.T) {
		t.Parallel()

		dfu, mock := createMockDFU(t)
		mock.QueueReply(frame.RequestGetStatus, statusReply(StateError, StatusErrWrite))

		err := dfu.WaitIdle(context.Background())
		var se *DFUStatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StatusErrWrite, se.Status.Code)
	})

	t.Run("Times_Out", func(t *testing.T) {
		t.Parallel()

		dfu, mock := createMockDFU(t, WithWaitIdle(time.Millisecond, 20*time.Millisecond))
		mock.SetDefaultReply(frame.RequestGetStatus, statusReply(StateDnBusy, StatusOK))

		err := dfu.WaitIdle(context.Background())
		require.ErrorIs(t, err, ErrDeviceTimeout)
		assert.True(t, IsRetryable(err))
	})

	t.Run("Context_Cancelled", func(t *testing.T) {
		t.Parallel()

		dfu, _ := createMockDFU(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, dfu.WaitIdle(ctx), context.Canceled)
	})
}

func TestDFU_MakeIdle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr      error
		name         string
		replies      [][]byte
		failStatus   bool
		initialAbort bool
		wantRequests []uint8
		wantResets   int
	}{
		{
			name:         "Already_Idle",
			replies:      [][]byte{statusReply(StateDFUIdle, StatusOK)},
			wantRequests: []uint8{frame.RequestGetStatus},
		},
		{
			name: "Idle_With_Error_Status",
			replies: [][]byte{
				statusReply(StateDFUIdle, StatusErrTarget),
				statusReply(StateDFUIdle, StatusOK),
			},
			wantRequests: []uint8{frame.RequestGetStatus, frame.RequestClrStatus, frame.RequestGetStatus},
		},
		{
			name: "Download_Idle_Aborts",
			replies: [][]byte{
				statusReply(StateDnloadIdle, StatusOK),
				statusReply(StateDFUIdle, StatusOK),
			},
			wantRequests: []uint8{frame.RequestGetStatus, frame.RequestAbort, frame.RequestGetStatus},
		},
		{
			name: "Error_State_Clears",
			replies: [][]byte{
				statusReply(StateError, StatusErrStalledPkt),
				statusReply(StateDFUIdle, StatusOK),
			},
			wantRequests: []uint8{frame.RequestGetStatus, frame.RequestClrStatus, frame.RequestGetStatus},
		},
		{
			name:         "Initial_Abort",
			initialAbort: true,
			replies:      [][]byte{statusReply(StateDFUIdle, StatusOK)},
			wantRequests: []uint8{frame.RequestAbort, frame.RequestGetStatus},
		},
		{
			name: "App_Idle_Detaches_Then_Resets",
			replies: [][]byte{
				statusReply(StateAppIdle, StatusOK),
				statusReply(StateAppDetach, StatusOK),
			},
			wantErr:      ErrDeviceReset,
			wantResets:   1,
			wantRequests: []uint8{frame.RequestGetStatus, frame.RequestDetach, frame.RequestGetStatus},
		},
		{
			name:         "Manifest_Wait_Reset",
			replies:      [][]byte{statusReply(StateManifestWaitReset, StatusOK)},
			wantErr:      ErrDeviceReset,
			wantResets:   1,
			wantRequests: []uint8{frame.RequestGetStatus},
		},
		{
			name: "Stuck_Busy",
			replies: [][]byte{
				statusReply(StateDnBusy, StatusOK),
				statusReply(StateDnBusy, StatusOK),
				statusReply(StateDnBusy, StatusOK),
				statusReply(StateDnBusy, StatusOK),
			},
			wantErr:    ErrNotIdle,
			wantResets: 1,
			wantRequests: []uint8{
				frame.RequestGetStatus, frame.RequestAbort,
				frame.RequestGetStatus, frame.RequestAbort,
				frame.RequestGetStatus, frame.RequestAbort,
				frame.RequestGetStatus, frame.RequestAbort,
			},
		},
		{
			name:       "Get_Status_Always_Fails",
			failStatus: true,
			wantErr:    ErrNotIdle,
			wantResets: 1,
			wantRequests: []uint8{
				frame.RequestGetStatus, frame.RequestClrStatus,
				frame.RequestGetStatus, frame.RequestClrStatus,
				frame.RequestGetStatus, frame.RequestClrStatus,
				frame.RequestGetStatus, frame.RequestClrStatus,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dfu, mock := createMockDFU(t)
			mock.QueueReply(frame.RequestGetStatus, tt.replies...)
			if tt.failStatus {
				mock.SetError(frame.RequestGetStatus, errors.New("no response"))
			}

			err := dfu.MakeIdle(context.Background(), tt.initialAbort)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			var requests []uint8
			for _, c := range mock.Calls() {
				requests = append(requests, c.Request)
			}
			assert.Equal(t, tt.wantRequests, requests)
			assert.Equal(t, tt.wantResets, mock.ResetCount())
		})
	}
}
