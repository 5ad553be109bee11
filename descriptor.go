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

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// getDescriptor issues a standard GET_DESCRIPTOR request into buf.
func getDescriptor(ctx context.Context, t Transport, descType, index uint8, buf []byte) ([]byte, error) {
	op := fmt.Sprintf("get descriptor 0x%02X/%d", descType, index)
	n, err := t.Control(ctx, frame.RequestTypeStandardIn, frame.RequestGetDescriptor,
		uint16(descType)<<8|uint16(index), 0, buf)
	if err != nil {
		return nil, wrapTransportError(op, err)
	}
	if n < len(buf) {
		return nil, NewShortTransferError(op, n, len(buf))
	}
	return buf[:n], nil
}

// BindInterface locates the DFU interface of the device behind t, derives the
// negotiated transfer size and claims the interface.
//
// The transfer size comes from the DFU functional descriptor. A missing or zero
// wTransferSize falls back to the configured default, and the result is never
// smaller than the control endpoint's bMaxPacketSize0.
func BindInterface(ctx context.Context, t Transport, opts ...Option) (Binding, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return Binding{}, err
	}

	raw, err := getDescriptor(ctx, t, frame.DescriptorDevice, 0, make([]byte, frame.DeviceDescriptorLength))
	if err != nil {
		return Binding{}, err
	}
	dev, err := frame.DecodeDeviceDescriptor(raw)
	if err != nil {
		return Binding{}, fmt.Errorf("device descriptor: %w", err)
	}
	Debugf("device %04x:%04x, bMaxPacketSize0 %d, %d configuration(s)",
		dev.VendorID, dev.ProductID, dev.MaxPacketSize0, dev.NumConfigurations)

	iface, found, err := findDFUConfig(ctx, t, dev.NumConfigurations)
	if err != nil {
		return Binding{}, err
	}
	if !found {
		return Binding{}, ErrNoDFUInterface
	}

	binding := Binding{
		Functional:     iface.Functional,
		Config:         int(iface.ConfigValue),
		Interface:      int(iface.Interface),
		Alternate:      int(iface.Alternate),
		MaxPacketSize0: int(dev.MaxPacketSize0),
		VendorID:       dev.VendorID,
		ProductID:      dev.ProductID,
		TransferSize:   negotiateTransferSize(iface.Functional, int(dev.MaxPacketSize0), cfg.DefaultTransferSize),
	}

	if err := t.ClaimInterface(binding.Config, binding.Interface); err != nil {
		return Binding{}, fmt.Errorf("claim interface %d: %w", binding.Interface, err)
	}
	Debugf("bound DFU interface %d (config %d), wTransferSize = %d",
		binding.Interface, binding.Config, binding.TransferSize)
	return binding, nil
}

func findDFUConfig(ctx context.Context, t Transport, numConfigs uint8) (frame.DFUInterface, bool, error) {
	for i := range numConfigs {
		head, err := getDescriptor(ctx, t, frame.DescriptorConfiguration, i, make([]byte, frame.ConfigDescriptorLength))
		if err != nil {
			return frame.DFUInterface{}, false, err
		}
		total, err := frame.ConfigTotalLength(head)
		if err != nil {
			return frame.DFUInterface{}, false, fmt.Errorf("configuration %d: %w", i, err)
		}
		full, err := getDescriptor(ctx, t, frame.DescriptorConfiguration, i, make([]byte, total))
		if err != nil {
			return frame.DFUInterface{}, false, err
		}
		iface, found, err := frame.FindDFUInterface(full)
		if err != nil {
			return frame.DFUInterface{}, false, fmt.Errorf("configuration %d: %w", i, err)
		}
		if found {
			return iface, true, nil
		}
	}
	return frame.DFUInterface{}, false, nil
}

func negotiateTransferSize(fd *frame.FunctionalDescriptor, maxPacket0, fallback int) int {
	size := 0
	if fd != nil {
		size = int(fd.TransferSize)
	}
	if size == 0 {
		size = fallback
	}
	return max(size, maxPacket0)
}
