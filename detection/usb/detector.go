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

// Package usb detects NXP parts in USB DFU boot mode via libusb.
package usb

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/gousb"

	"github.com/ZaparooProject/go-nxpdfu/detection"
	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// detector implements the Detector interface for USB devices.
type detector struct {
	enumerate func(ctx context.Context) ([]deviceDesc, error)
}

// deviceDesc is the subset of a USB device descriptor detection needs.
type deviceDesc struct {
	bus, address int
	vendorID     uint16
	productID    uint16
	hasDFU       bool
}

// New creates a new USB detector
func New() detection.Detector {
	return &detector{enumerate: enumerateUSB}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "usb"
}

// Detect lists matching devices without opening any of them.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	descs, err := d.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, desc := range descs {
		vidpid := detection.FormatVIDPID(desc.vendorID, desc.productID)
		if !opts.IsMatched(vidpid) {
			continue
		}
		devices = append(devices, toDeviceInfo(desc))
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func toDeviceInfo(desc deviceDesc) detection.DeviceInfo {
	confidence := detection.Medium
	if desc.hasDFU {
		confidence = detection.High
	}
	vidpid := detection.FormatVIDPID(desc.vendorID, desc.productID)
	return detection.DeviceInfo{
		Transport:  "usb",
		Path:       fmt.Sprintf("%d:%d", desc.bus, desc.address),
		Name:       "NXP USB DFU",
		Bus:        desc.bus,
		Address:    desc.address,
		VendorID:   desc.vendorID,
		ProductID:  desc.productID,
		Confidence: confidence,
		Metadata:   map[string]string{"vidpid": vidpid},
	}
}

// enumerateUSB walks the bus. The opener always declines so no handles are
// created and nothing is claimed.
func enumerateUSB(ctx context.Context) ([]deviceDesc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbCtx := gousb.NewContext()
	defer func() { _ = usbCtx.Close() }()

	var descs []deviceDesc
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		descs = append(descs, deviceDesc{
			bus:       desc.Bus,
			address:   desc.Address,
			vendorID:  uint16(desc.Vendor),
			productID: uint16(desc.Product),
			hasDFU:    hasDFUInterface(desc),
		})
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate usb devices: %w", err)
	}

	sort.Slice(descs, func(i, j int) bool {
		if descs[i].bus != descs[j].bus {
			return descs[i].bus < descs[j].bus
		}
		return descs[i].address < descs[j].address
	})
	return descs, nil
}

// hasDFUInterface reports whether any alternate setting carries the DFU class triple.
func hasDFUInterface(desc *gousb.DeviceDesc) bool {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if uint8(alt.Class) == frame.ClassApplicationSpecific && uint8(alt.SubClass) == frame.SubClassDFU {
					return true
				}
			}
		}
	}
	return false
}
