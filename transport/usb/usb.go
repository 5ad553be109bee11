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

// Package usb implements the DFU control-transfer transport on libusb via gousb.
package usb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"

	"github.com/ZaparooProject/go-nxpdfu"
	"github.com/ZaparooProject/go-nxpdfu/detection"
	"github.com/ZaparooProject/go-nxpdfu/internal/syncutil"
)

const (
	// defaultControlTimeout bounds a single control transfer when the caller
	// context carries no deadline.
	defaultControlTimeout = 5 * time.Second
	traceDepth            = 32
)

// ErrBadPath indicates a device path that is not in "bus:address" form.
var ErrBadPath = errors.New("usb path must be bus:address")

// Transport implements nxpdfu.Transport over a libusb device handle.
type Transport struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	trace  *nxpdfu.TraceBuffer
	path   string
	mu     syncutil.Mutex
}

// ParsePath splits a "bus:address" path into its decimal parts.
func ParsePath(path string) (bus, addr int, err error) {
	busStr, addrStr, ok := strings.Cut(strings.TrimSpace(path), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadPath, path)
	}
	bus, err = strconv.Atoi(busStr)
	if err != nil || bus < 0 {
		return 0, 0, fmt.Errorf("%w: bus in %q", ErrBadPath, path)
	}
	addr, err = strconv.Atoi(addrStr)
	if err != nil || addr <= 0 {
		return 0, 0, fmt.Errorf("%w: address in %q", ErrBadPath, path)
	}
	return bus, addr, nil
}

// New opens the device at the given "bus:address" path.
func New(path string) (*Transport, error) {
	bus, addr, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	usbCtx := gousb.NewContext()
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == addr
	})
	if err != nil && len(devs) == 0 {
		_ = usbCtx.Close()
		return nil, fmt.Errorf("failed to open usb device %s: %w", path, err)
	}
	if len(devs) == 0 {
		_ = usbCtx.Close()
		return nil, fmt.Errorf("usb device %s: %w", path, nxpdfu.ErrDeviceNotFound)
	}
	for _, extra := range devs[1:] {
		_ = extra.Close()
	}

	dev := devs[0]
	dev.ControlTimeout = defaultControlTimeout
	nxpdfu.Debugf("usb: opened %s (%s:%s)", path, dev.Desc.Vendor, dev.Desc.Product)

	return &Transport{
		usbCtx: usbCtx,
		dev:    dev,
		path:   path,
		trace:  nxpdfu.NewTraceBuffer(path, traceDepth),
	}, nil
}

// NewFromDevice opens a device found by the usb detector.
func NewFromDevice(device detection.DeviceInfo) (*Transport, error) {
	return New(device.Path)
}

// Path returns the "bus:address" path the handle was opened on.
func (t *Transport) Path() string {
	return t.path
}

// Control implements nxpdfu.Transport
func (t *Transport) Control(
	ctx context.Context, rType, request uint8, val, idx uint16, data []byte,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return 0, nxpdfu.NewTransportError("control", t.path, nxpdfu.ErrTransportClosed, nxpdfu.ErrorTypePermanent)
	}

	t.dev.ControlTimeout = controlTimeout(ctx)
	note := fmt.Sprintf("req=0x%02X val=0x%04X", request, val)
	in := rType&0x80 != 0
	if !in {
		t.trace.RecordOut(data, note)
	}

	n, err := t.dev.Control(rType, request, val, idx, data)
	if err != nil {
		return n, t.trace.WrapError(
			nxpdfu.NewTransportError("control", t.path, fmt.Errorf("%w: %w", nxpdfu.ErrTransportFailure, err),
				classify(err)))
	}
	if in {
		t.trace.RecordIn(data[:n], note)
	}
	return n, nil
}

// controlTimeout derives the per-transfer libusb timeout from ctx.
func controlTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return defaultControlTimeout
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return time.Millisecond
	}
	if remaining > defaultControlTimeout {
		return defaultControlTimeout
	}
	return remaining
}

// classify maps libusb failures onto retry categories.
func classify(err error) nxpdfu.ErrorType {
	switch {
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorNotFound):
		return nxpdfu.ErrorTypePermanent
	case errors.Is(err, gousb.ErrorTimeout):
		return nxpdfu.ErrorTypeTimeout
	default:
		return nxpdfu.ErrorTypeTransient
	}
}

// ClaimInterface implements nxpdfu.Transport
func (t *Transport) ClaimInterface(config, iface int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return fmt.Errorf("claim interface %d: %w", iface, nxpdfu.ErrTransportClosed)
	}
	t.releaseLocked()

	if err := t.dev.SetAutoDetach(true); err != nil {
		nxpdfu.Debugf("usb: auto detach unavailable on %s: %v", t.path, err)
	}
	cfg, err := t.dev.Config(config)
	if err != nil {
		return fmt.Errorf("select configuration %d on %s: %w", config, t.path, err)
	}
	intf, err := cfg.Interface(iface, 0)
	if err != nil {
		_ = cfg.Close()
		return fmt.Errorf("claim interface %d on %s: %w", iface, t.path, err)
	}
	t.cfg, t.intf = cfg, intf
	return nil
}

// releaseLocked drops the claimed interface and configuration.
func (t *Transport) releaseLocked() {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		if err := t.cfg.Close(); err != nil {
			nxpdfu.Debugf("usb: release config on %s: %v", t.path, err)
		}
		t.cfg = nil
	}
}

// Reset implements nxpdfu.Transport. The device re-enumerates afterwards so
// the handle is unusable and a new Transport must be opened.
func (t *Transport) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return fmt.Errorf("usb reset: %w", nxpdfu.ErrTransportClosed)
	}
	t.releaseLocked()
	if err := t.dev.Reset(); err != nil && !errors.Is(err, gousb.ErrorNotFound) &&
		!errors.Is(err, gousb.ErrorNoDevice) {
		return fmt.Errorf("usb reset on %s: %w", t.path, err)
	}
	return nil
}

// Close implements nxpdfu.Transport
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.releaseLocked()
	var errs []error
	if t.dev != nil {
		if err := t.dev.Close(); err != nil {
			errs = append(errs, err)
		}
		t.dev = nil
	}
	if t.usbCtx != nil {
		if err := t.usbCtx.Close(); err != nil {
			errs = append(errs, err)
		}
		t.usbCtx = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("usb close failed: %w", err)
	}
	return nil
}

// IsConnected implements nxpdfu.Transport
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}
