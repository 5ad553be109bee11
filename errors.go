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
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// Error categories for retry and phase-abort decisions
var (
	// Transport errors
	ErrTransportFailure = errors.New("control transfer failed")
	ErrShortTransfer    = errors.New("short control transfer")
	ErrTransportClosed  = errors.New("transport is closed")

	// DFU class errors
	ErrNoDFUInterface = errors.New("no DFU interface found")
	ErrNotIdle        = errors.New("device could not be driven to dfuIDLE")
	ErrDeviceReset    = errors.New("device bus reset issued, re-enumeration required")
	ErrDeviceTimeout  = errors.New("device did not reach the expected state in time")

	// Vendor protocol errors - never retried
	ErrProtocolFault     = errors.New("vendor protocol fault")
	ErrProtocolViolation = errors.New("vendor protocol violation")

	// Data errors
	ErrSizeViolation        = errors.New("transfer size violation")
	ErrVerificationMismatch = errors.New("readback verification mismatch")
	ErrInvalidParameter     = errors.New("invalid parameter")

	// Discovery errors - raised at the collaborator boundary
	ErrDeviceNotFound  = errors.New("device not found")
	ErrMultipleDevices = errors.New("more than one device found")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps a failed control transfer with the request that caused it.
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Bus path or device identifier
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolFaultError reports a fatal vendor status observed while polling.
type ProtocolFaultError struct {
	Message string
	Command Command
	Status  OpStatus
	Waiting OpStatus
}

func (e *ProtocolFaultError) Error() string {
	base := fmt.Sprintf("%s: device reported %s while waiting for %s", e.Command, e.Status, e.Waiting)
	if e.Message != "" {
		base += ": " + e.Message
	}
	return base
}

// Unwrap lets errors.Is match ErrProtocolFault.
func (*ProtocolFaultError) Unwrap() error {
	return ErrProtocolFault
}

// DFUStatusError reports a device sitting in dfuERROR.
type DFUStatusError struct {
	Op     string
	Status Status
}

func (e *DFUStatusError) Error() string {
	return fmt.Sprintf("%s: device in %s with status 0x%02X (%s)",
		e.Op, e.Status.State, uint8(e.Status.Code), e.Status.Code)
}

// DeviceTimeoutError is returned when a bounded poll runs out of time.
type DeviceTimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *DeviceTimeoutError) Error() string {
	return fmt.Sprintf("%s: no progress after %v", e.Op, e.Timeout)
}

// Unwrap lets errors.Is match ErrDeviceTimeout.
func (*DeviceTimeoutError) Unwrap() error {
	return ErrDeviceTimeout
}

// VerificationError reports a digest mismatch after programming. The device is
// left un-reset so the caller may retry on the same connection.
type VerificationError struct {
	Address      uint32
	Size         int
	ImageDigest  []byte
	DeviceDigest []byte
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("readback of %d bytes at 0x%08X: digest %x, want %x",
		e.Size, e.Address, e.DeviceDigest, e.ImageDigest)
}

// Unwrap lets errors.Is match ErrVerificationMismatch.
func (*VerificationError) Unwrap() error {
	return ErrVerificationMismatch
}

// IsRetryable returns true if the error is potentially retryable.
// Vendor protocol faults and verification mismatches never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrProtocolFault) || errors.Is(err, ErrVerificationMismatch) {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportFailure),
		errors.Is(err, ErrShortTransfer),
		errors.Is(err, ErrDeviceTimeout):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device or connection is gone
// and the current phase cannot continue on this handle.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrDeviceReset),
		errors.Is(err, ErrProtocolFault),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors seen when the target drops off
// the bus, which it does on purpose after detach, reset and execute.
func isDeviceGoneError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
			return true
		}

		if runtime.GOOS == "windows" {
			//nolint:exhaustive // Only checking specific device-gone errors, not all errno values
			switch errno {
			case errAccessDenied, errGenFailure, errNoSuchDevice:
				return true
			}
		}
	}

	return false
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewShortTransferError reports a transfer that moved fewer bytes than required
func NewShortTransferError(op string, got, want int) *TransportError {
	return NewTransportError(op, "", fmt.Errorf("%w: %d of %d bytes", ErrShortTransfer, got, want), ErrorTypeTransient)
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds the last control transfers in an error so a failed
// flash run can be diagnosed without re-running it with debug enabled.

// TraceDirection indicates the direction of a control transfer
type TraceDirection string

const (
	// TraceOut indicates a host-to-device transfer
	TraceOut TraceDirection = "OUT"
	// TraceIn indicates a device-to-host transfer
	TraceIn TraceDirection = "IN"
)

// TraceEntry represents a single control transfer
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	hexData := formatHexBytes(e.Data)
	if e.Note != "" {
		return fmt.Sprintf("[%s] %s: %s (%s)", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData, e.Note)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, hexData)
}

// TraceableError wraps an error with control-transfer trace data.
//
//	var te *nxpdfu.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Port  string
	Trace []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable formatted trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[usb:%s] (no trace data)", e.Port)
	}

	var sb strings.Builder
	_, _ = sb.WriteString(fmt.Sprintf("[usb:%s] Control trace (%d entries):\n", e.Port, len(e.Trace)))

	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceIn {
			direction = "<"
		}
		if entry.Note != "" {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s (%s)\n", direction, formatHexBytes(entry.Data), entry.Note))
		} else {
			_, _ = sb.WriteString(fmt.Sprintf("  %s %s\n", direction, formatHexBytes(entry.Data)))
		}
	}

	return sb.String()
}

// formatHexBytes formats a byte slice as space-separated hex values
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	limit := min(len(data), 32)
	parts := make([]string, limit)
	for i := range limit {
		parts[i] = fmt.Sprintf("%02X", data[i])
	}
	if len(data) > limit {
		return strings.Join(parts, " ") + fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return strings.Join(parts, " ")
}

// TraceBuffer collects the most recent control transfers on one handle.
type TraceBuffer struct {
	port    string
	entries []TraceEntry
	maxSize int
}

// NewTraceBuffer creates a new trace buffer with the specified capacity
func NewTraceBuffer(port string, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries: make([]TraceEntry, 0, maxSize),
		maxSize: maxSize,
		port:    port,
	}
}

// RecordOut records a host-to-device transfer
func (tb *TraceBuffer) RecordOut(data []byte, note string) {
	tb.record(TraceOut, data, note)
}

// RecordIn records a device-to-host transfer
func (tb *TraceBuffer) RecordIn(data []byte, note string) {
	tb.record(TraceIn, data, note)
}

// record adds an entry to the buffer, evicting oldest if full
func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError wraps an error with the collected trace data.
// Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}

	entriesCopy := make([]TraceEntry, len(tb.entries))
	copy(entriesCopy, tb.entries)

	return &TraceableError{
		Err:   err,
		Trace: entriesCopy,
		Port:  tb.port,
	}
}

// Len returns the number of recorded entries
func (tb *TraceBuffer) Len() int {
	return len(tb.entries)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
