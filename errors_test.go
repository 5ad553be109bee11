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
	"errors"
	"fmt"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport failure retryable", err: ErrTransportFailure, want: true},
		{name: "short transfer retryable", err: ErrShortTransfer, want: true},
		{name: "device timeout retryable", err: &DeviceTimeoutError{Op: "wait idle", Timeout: time.Second}, want: true},
		{name: "wrapped transport failure retryable", err: fmt.Errorf("dnload: %w", ErrTransportFailure), want: true},
		{name: "protocol fault not retryable", err: &ProtocolFaultError{Command: CmdProgram, Status: OpProgErr}, want: false},
		{name: "verification mismatch not retryable", err: &VerificationError{Size: 16}, want: false},
		{name: "protocol violation not retryable", err: ErrProtocolViolation, want: false},
		{name: "device reset not retryable", err: ErrDeviceReset, want: false},
		{name: "invalid parameter not retryable", err: ErrInvalidParameter, want: false},
		{name: "random error not retryable", err: errors.New("random error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable_TransportError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{
			name: "transient transport error",
			err:  NewTransportError("control", "1:7", ErrTransportFailure, ErrorTypeTransient),
			want: true,
		},
		{
			name: "timeout transport error",
			err:  NewTransportError("control", "1:7", ErrTransportFailure, ErrorTypeTimeout),
			want: true,
		},
		{
			name: "permanent transport error",
			err:  NewTransportError("control", "1:7", ErrTransportFailure, ErrorTypePermanent),
			want: false,
		},
		{
			name: "permanent error wrapping a retryable sentinel",
			err:  fmt.Errorf("upload: %w", NewTransportError("control", "1:7", ErrShortTransfer, ErrorTypePermanent)),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport closed is fatal", err: ErrTransportClosed, want: true},
		{name: "device not found is fatal", err: ErrDeviceNotFound, want: true},
		{name: "device reset is fatal", err: fmt.Errorf("make idle: %w", ErrDeviceReset), want: true},
		{name: "protocol fault is fatal", err: &ProtocolFaultError{Command: CmdEraseAll, Status: OpEraseErr}, want: true},
		{
			name: "permanent transport error is fatal",
			err:  NewTransportError("control", "2:3", errors.New("no device"), ErrorTypePermanent),
			want: true,
		},
		{
			name: "transient transport error is not fatal",
			err:  NewTransportError("control", "2:3", errors.New("pipe"), ErrorTypeTransient),
			want: false,
		},
		{name: "transport failure is not fatal", err: ErrTransportFailure, want: false},
		{name: "verification mismatch is not fatal", err: &VerificationError{}, want: false},
		{name: "random error is not fatal", err: errors.New("random error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFatal_SyscallErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		// the target leaves the bus after detach, reset and execute
		{name: "EIO is fatal", err: syscall.EIO, want: true},
		{name: "ENXIO is fatal", err: syscall.ENXIO, want: true},
		{name: "ENODEV is fatal", err: syscall.ENODEV, want: true},
		{name: "wrapped ENODEV is fatal", err: fmt.Errorf("control: %w", syscall.ENODEV), want: true},
		{name: "EAGAIN is not fatal", err: syscall.EAGAIN, want: false},
		{name: "ETIMEDOUT is not fatal", err: syscall.ETIMEDOUT, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewTransportError(t *testing.T) {
	t.Parallel()

	err := NewTransportError("control", "1:7", ErrTransportFailure, ErrorTypeTimeout)
	if err.Op != "control" || err.Port != "1:7" {
		t.Errorf("unexpected op/port: %q %q", err.Op, err.Port)
	}
	if !err.Retryable {
		t.Error("timeout transport errors should be retryable")
	}
	if !errors.Is(err, ErrTransportFailure) {
		t.Error("errors.Is should reach the wrapped sentinel")
	}
	if got, want := err.Error(), "control 1:7: control transfer failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	noPort := NewTransportError("claim", "", ErrTransportClosed, ErrorTypePermanent)
	if got, want := noPort.Error(), "claim: transport is closed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewShortTransferError(t *testing.T) {
	t.Parallel()

	err := NewShortTransferError("get status", 5, 6)
	if !errors.Is(err, ErrShortTransfer) {
		t.Error("should match ErrShortTransfer")
	}
	if !IsRetryable(err) {
		t.Error("short transfers should be retryable")
	}
	if !strings.Contains(err.Error(), "5 of 6 bytes") {
		t.Errorf("Error() = %q, want byte counts", err.Error())
	}
}

func TestProtocolFaultError(t *testing.T) {
	t.Parallel()

	err := &ProtocolFaultError{Command: CmdEraseAll, Status: OpEraseErr, Waiting: OpIdle, Message: "sector locked"}
	want := "ERASE_ALL: device reported ERASE_ERR while waiting for IDLE: sector locked"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(fmt.Errorf("erase: %w", err), ErrProtocolFault) {
		t.Error("wrapped fault should match ErrProtocolFault")
	}

	bare := &ProtocolFaultError{Command: CmdReadback, Status: OpReadErr, Waiting: OpReadTrig}
	if strings.HasSuffix(bare.Error(), ": ") {
		t.Errorf("Error() without message has a dangling separator: %q", bare.Error())
	}
}

func TestVerificationError(t *testing.T) {
	t.Parallel()

	err := &VerificationError{
		Address:      0x100,
		Size:         4,
		ImageDigest:  []byte{0xAA},
		DeviceDigest: []byte{0xBB},
	}
	if !errors.Is(err, ErrVerificationMismatch) {
		t.Error("should match ErrVerificationMismatch")
	}
	want := "readback of 4 bytes at 0x00000100: digest bb, want aa"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestDFUStatusError(t *testing.T) {
	t.Parallel()

	err := &DFUStatusError{Op: "manifest", Status: Status{State: StateError, Code: StatusErrVerify}}
	if !strings.Contains(err.Error(), "manifest: device in dfuERROR with status 0x07") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestDeviceTimeoutError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("erase: %w", &DeviceTimeoutError{Op: "ERASE_ALL", Timeout: 2 * time.Second})
	if !errors.Is(err, ErrDeviceTimeout) {
		t.Error("should match ErrDeviceTimeout")
	}
	if !strings.Contains(err.Error(), "no progress after 2s") {
		t.Errorf("Error() = %q", err.Error())
	}
}

// =============================================================================
// Trace Tests
// =============================================================================

func TestTraceBuffer_BasicOperations(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("1:7", 10)
	tb.RecordOut([]byte{0x21, 0x01, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00}, "DNLOAD")
	tb.RecordIn([]byte{0x00, 0x00, 0x00, 0x00, 0x05, 0x00}, "GETSTATUS")

	wrappedErr := tb.WrapError(errors.New("test error"))

	var te *TraceableError
	if !errors.As(wrappedErr, &te) {
		t.Fatal("WrapError should return a TraceableError")
	}
	if len(te.Trace) != 2 {
		t.Errorf("Expected 2 trace entries, got %d", len(te.Trace))
	}
	if te.Trace[0].Direction != TraceOut {
		t.Errorf("First entry should be OUT, got %v", te.Trace[0].Direction)
	}
	if te.Port != "1:7" {
		t.Errorf("Port = %q, want %q", te.Port, "1:7")
	}
	if tb.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tb.Len())
	}
}

func TestTraceableError_Unwrap(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("1:7", 10)
	tb.RecordOut([]byte{0x01, 0x02}, "test")
	wrappedErr := tb.WrapError(fmt.Errorf("control: %w", ErrTransportFailure))

	if !errors.Is(wrappedErr, ErrTransportFailure) {
		t.Error("errors.Is should match underlying error through TraceableError")
	}
	if !IsRetryable(wrappedErr) {
		t.Error("retry classification should see through the trace wrapper")
	}
}

func TestTraceableError_FormatTrace(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("3:12", 10)
	tb.RecordOut([]byte{0xA1, 0x03}, "GETSTATUS")
	tb.RecordIn([]byte{0x00, 0x00, 0x00, 0x00, 0x02, 0x00}, "dfuIDLE")

	te := GetTrace(tb.WrapError(errors.New("timeout")))
	if te == nil {
		t.Fatal("Expected TraceableError")
	}

	formatted := te.FormatTrace()
	for _, want := range []string{"usb:3:12", "2 entries", "> A1 03 (GETSTATUS)", "< 00 00 00 00 02 00 (dfuIDLE)"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("FormatTrace missing %q:\n%s", want, formatted)
		}
	}
}

func TestTraceableError_FormatTrace_Empty(t *testing.T) {
	t.Parallel()

	te := GetTrace(NewTraceBuffer("1:2", 10).WrapError(errors.New("test")))
	if te == nil {
		t.Fatal("Expected TraceableError")
	}
	if !strings.Contains(te.FormatTrace(), "no trace data") {
		t.Error("FormatTrace with empty trace should indicate no data")
	}
}

func TestTraceBuffer_CircularBuffer(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("test", 3)
	tb.RecordOut([]byte{0x01}, "first")
	tb.RecordOut([]byte{0x02}, "second")
	tb.RecordOut([]byte{0x03}, "third")
	tb.RecordOut([]byte{0x04}, "fourth")

	te := GetTrace(tb.WrapError(errors.New("test")))
	if te == nil {
		t.Fatal("Expected TraceableError")
	}
	if len(te.Trace) != 3 {
		t.Fatalf("Expected 3 entries in circular buffer, got %d", len(te.Trace))
	}
	if te.Trace[0].Note != "second" {
		t.Errorf("First entry should be 'second', got %q", te.Trace[0].Note)
	}
	if te.Trace[2].Note != "fourth" {
		t.Errorf("Last entry should be 'fourth', got %q", te.Trace[2].Note)
	}
}

func TestTraceBuffer_WrapNilError(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("test", 10)
	tb.RecordOut([]byte{0x01}, "test")
	if tb.WrapError(nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestTraceBuffer_SnapshotIsolated(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("test", 10)
	payload := []byte{0x01, 0x02}
	tb.RecordOut(payload, "first")
	payload[0] = 0xFF

	te := GetTrace(tb.WrapError(errors.New("test")))
	tb.RecordOut([]byte{0x03}, "later")

	if len(te.Trace) != 1 {
		t.Errorf("wrapped trace should not see later entries, got %d", len(te.Trace))
	}
	if te.Trace[0].Data[0] != 0x01 {
		t.Error("recorded data should be copied")
	}
}

func TestGetTrace(t *testing.T) {
	t.Parallel()

	if GetTrace(errors.New("plain error")) != nil {
		t.Error("GetTrace should return nil for plain error")
	}
	if GetTrace(nil) != nil {
		t.Error("GetTrace should return nil for nil")
	}

	wrapped := fmt.Errorf("phase 2: %w", NewTraceBuffer("1:1", 4).WrapError(errors.New("x")))
	if GetTrace(wrapped) == nil {
		t.Error("GetTrace should find a trace under further wrapping")
	}
}

func TestTraceEntry_String(t *testing.T) {
	t.Parallel()

	entry := TraceEntry{
		Direction: TraceIn,
		Data:      []byte{0x00, 0x02},
		Timestamp: time.Now(),
		Note:      "GETSTATE",
	}
	str := entry.String()
	for _, want := range []string{"IN", "00 02", "GETSTATE"} {
		if !strings.Contains(str, want) {
			t.Errorf("TraceEntry.String() = %q, missing %q", str, want)
		}
	}
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	if got := formatHexBytes(nil); got != "(empty)" {
		t.Errorf("Expected '(empty)', got %q", got)
	}

	longData := make([]byte, 50)
	formatted := formatHexBytes(longData)
	if !strings.Contains(formatted, "...") || !strings.Contains(formatted, "50 bytes total") {
		t.Errorf("long data should be truncated with a total, got %q", formatted)
	}
}
