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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// DFU drives the DFU 1.1 class protocol on one claimed interface.
//
// Thread Safety: DFU is NOT thread-safe. The protocol allows exactly one
// outstanding request, so all methods must be called from one goroutine.
type DFU struct {
	transport   Transport
	config      *Config
	binding     Binding
	transaction uint16
}

// NewDFU creates a DFU engine for an already bound interface.
func NewDFU(transport Transport, binding Binding, opts ...Option) (*DFU, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	if binding.TransferSize <= 0 {
		return nil, fmt.Errorf("%w: transfer size %d", ErrInvalidParameter, binding.TransferSize)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &DFU{transport: transport, config: cfg, binding: binding}, nil
}

// Binding returns the interface binding
func (d *DFU) Binding() Binding {
	return d.binding
}

// TransferSize returns the negotiated maximum bytes per DNLOAD/UPLOAD.
func (d *DFU) TransferSize() int {
	return d.binding.TransferSize
}

// Config returns the engine configuration
func (d *DFU) Config() *Config {
	return d.config
}

// Transport returns the underlying transport
func (d *DFU) Transport() Transport {
	return d.transport
}

// Transaction returns the current transaction counter.
func (d *DFU) Transaction() uint16 {
	return d.transaction
}

// ResetTransaction sets the transaction counter back to zero.
func (d *DFU) ResetTransaction() {
	d.transaction = 0
}

func (d *DFU) out(ctx context.Context, op string, request uint8, val uint16, data []byte) (int, error) {
	n, err := d.transport.Control(ctx, frame.RequestTypeOut, request, val, uint16(d.binding.Interface), data)
	if err != nil {
		return n, wrapTransportError(op, err)
	}
	return n, nil
}

func (d *DFU) in(ctx context.Context, op string, request uint8, val uint16, data []byte) (int, error) {
	n, err := d.transport.Control(ctx, frame.RequestTypeIn, request, val, uint16(d.binding.Interface), data)
	if err != nil {
		return n, wrapTransportError(op, err)
	}
	return n, nil
}

// wrapTransportError makes every transfer failure a *TransportError while
// leaving context errors and already-typed errors recognizable.
func wrapTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return fmt.Errorf("%s: %w", op, err)
	}
	errType := ErrorTypeTransient
	if isDeviceGoneError(err) {
		errType = ErrorTypePermanent
	}
	return NewTransportError(op, "", fmt.Errorf("%w: %w", ErrTransportFailure, err), errType)
}

// GetState issues DFU_GETSTATE.
func (d *DFU) GetState(ctx context.Context) (State, error) {
	var buf [1]byte
	n, err := d.in(ctx, "get state", frame.RequestGetState, 0, buf[:])
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, NewShortTransferError("get state", n, len(buf))
	}
	return State(buf[0]), nil
}

// GetStatus issues DFU_GETSTATUS and stores the reply in st. The reply must
// be exactly 6 bytes; on any failure st is left untouched.
func (d *DFU) GetStatus(ctx context.Context, st *Status) error {
	var buf [frame.DFUStatusLength]byte
	n, err := d.in(ctx, "get status", frame.RequestGetStatus, 0, buf[:])
	if err != nil {
		return err
	}
	raw, err := frame.DecodeDFUStatus(buf[:n])
	if err != nil {
		return NewShortTransferError("get status", n, frame.DFUStatusLength)
	}
	*st = statusFromFrame(raw)
	return nil
}

// Status is GetStatus returning the reply by value.
func (d *DFU) Status(ctx context.Context) (Status, error) {
	var st Status
	err := d.GetStatus(ctx, &st)
	return st, err
}

// ClearStatus issues DFU_CLRSTATUS.
func (d *DFU) ClearStatus(ctx context.Context) error {
	_, err := d.out(ctx, "clear status", frame.RequestClrStatus, 0, nil)
	return err
}

// Abort issues DFU_ABORT.
func (d *DFU) Abort(ctx context.Context) error {
	_, err := d.out(ctx, "abort", frame.RequestAbort, 0, nil)
	return err
}

// Detach issues DFU_DETACH with timeout (ms) in wValue.
func (d *DFU) Detach(ctx context.Context, timeout uint16) error {
	_, err := d.out(ctx, "detach", frame.RequestDetach, timeout, nil)
	return err
}

// Download sends data as one DFU_DNLOAD block tagged with the transaction
// counter, then advances the counter. An empty data is the zero-length
// terminator block. It returns the bytes actually sent.
func (d *DFU) Download(ctx context.Context, data []byte) (int, error) {
	block := d.transaction
	d.transaction++
	return d.out(ctx, "download", frame.RequestDnload, block, data)
}

// Upload reads one DFU_UPLOAD block of up to len(data) bytes tagged with the
// transaction counter, then advances the counter. It returns the bytes read.
func (d *DFU) Upload(ctx context.Context, data []byte) (int, error) {
	block := d.transaction
	d.transaction++
	return d.in(ctx, "upload", frame.RequestUpload, block, data)
}

// UploadUntagged reads one DFU_UPLOAD block with wValue 0 and leaves the
// transaction counter alone. The NXP loader answers status and readback
// uploads this way, so polling does not eat into the command's block range.
func (d *DFU) UploadUntagged(ctx context.Context, data []byte) (int, error) {
	return d.in(ctx, "upload", frame.RequestUpload, 0, data)
}

// downloadFull is Download that treats a short block as a failure.
func (d *DFU) downloadFull(ctx context.Context, data []byte) error {
	n, err := d.Download(ctx, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return NewShortTransferError("download", n, len(data))
	}
	return nil
}

// WaitIdle polls GETSTATUS until the device reports dfuDNLOAD-IDLE. The
// device's bwPollTimeout is honored between polls, capped at
// MaxPollTimeoutHonored. A device in dfuERROR fails immediately.
func (d *DFU) WaitIdle(ctx context.Context) error {
	return poll(ctx, d.config.WaitIdle, "wait idle", func() (bool, time.Duration, error) {
		var st Status
		if err := d.GetStatus(ctx, &st); err != nil {
			return false, 0, err
		}
		switch st.State {
		case StateDnloadIdle:
			return true, 0, nil
		case StateError:
			return false, 0, &DFUStatusError{Op: "wait idle", Status: st}
		default:
			return false, max(d.config.WaitIdle.Interval, min(st.PollTimeout, MaxPollTimeoutHonored)), nil
		}
	})
}

// MakeIdle drives the device to dfuIDLE with an OK status. Each attempt reads
// the status and issues the request that moves the device one step closer.
//
// A device in appDETACH or dfuMANIFEST-WAIT-RESET only recovers through
// re-enumeration, so the bus is reset and ErrDeviceReset returned. Running
// out of attempts also resets the bus and returns ErrNotIdle. Either way the
// binding is stale afterwards.
func (d *DFU) MakeIdle(ctx context.Context, initialAbort bool) error {
	if initialAbort {
		if err := d.Abort(ctx); err != nil {
			Debugf("make idle: initial abort failed: %v", err)
		}
	}

	var last Status
	for attempt := range d.config.MakeIdleAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		var st Status
		if err := d.GetStatus(ctx, &st); err != nil {
			Debugf("make idle: attempt %d: get status failed: %v", attempt+1, err)
			_ = d.ClearStatus(ctx)
			continue
		}
		last = st
		Debugf("make idle: attempt %d: %s", attempt+1, st)

		var err error
		switch st.State {
		case StateDFUIdle:
			if st.Code == StatusOK {
				return nil
			}
			err = d.ClearStatus(ctx)
		case StateDnloadSync, StateDnloadIdle, StateManifestSync, StateUploadIdle,
			StateDnBusy, StateManifest:
			err = d.Abort(ctx)
		case StateError:
			err = d.ClearStatus(ctx)
		case StateAppIdle:
			err = d.Detach(ctx, d.config.DetachTimeout)
		case StateAppDetach, StateManifestWaitReset:
			return d.busReset(fmt.Errorf("%w: device in %s", ErrDeviceReset, st.State))
		}
		if err != nil {
			Debugf("make idle: attempt %d: recovery request failed: %v", attempt+1, err)
		}
	}

	return d.busReset(fmt.Errorf("%w after %d attempts (last %s)", ErrNotIdle, d.config.MakeIdleAttempts, last))
}

func (d *DFU) busReset(cause error) error {
	Debugf("resetting device: %v", cause)
	if err := d.transport.Reset(); err != nil && !isDeviceGoneError(err) {
		return errors.Join(cause, fmt.Errorf("bus reset: %w", err))
	}
	return cause
}
