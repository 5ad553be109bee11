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

package frame

import (
	"encoding/binary"
	"fmt"
)

// DeviceDescriptor carries the fields of the standard device descriptor that
// the DFU binding needs.
type DeviceDescriptor struct {
	VendorID          uint16
	ProductID         uint16
	MaxPacketSize0    uint8
	NumConfigurations uint8
}

// DecodeDeviceDescriptor decodes an 18-byte device descriptor.
func DecodeDeviceDescriptor(buf []byte) (DeviceDescriptor, error) {
	if len(buf) < DeviceDescriptorLength {
		return DeviceDescriptor{}, fmt.Errorf("%w: device descriptor is %d bytes, want %d",
			ErrShortFrame, len(buf), DeviceDescriptorLength)
	}
	if buf[1] != DescriptorDevice {
		return DeviceDescriptor{}, fmt.Errorf("%w: type 0x%02X is not a device descriptor",
			ErrMalformedDescriptor, buf[1])
	}
	le := binary.LittleEndian
	return DeviceDescriptor{
		MaxPacketSize0:    buf[7],
		VendorID:          le.Uint16(buf[8:10]),
		ProductID:         le.Uint16(buf[10:12]),
		NumConfigurations: buf[17],
	}, nil
}

// ConfigTotalLength returns wTotalLength from the head of a configuration descriptor.
func ConfigTotalLength(buf []byte) (int, error) {
	if len(buf) < ConfigDescriptorLength {
		return 0, fmt.Errorf("%w: configuration descriptor is %d bytes, want %d",
			ErrShortFrame, len(buf), ConfigDescriptorLength)
	}
	if buf[1] != DescriptorConfiguration {
		return 0, fmt.Errorf("%w: type 0x%02X is not a configuration descriptor",
			ErrMalformedDescriptor, buf[1])
	}
	total := int(binary.LittleEndian.Uint16(buf[2:4]))
	if total < ConfigDescriptorLength {
		return 0, fmt.Errorf("%w: wTotalLength %d", ErrMalformedDescriptor, total)
	}
	return total, nil
}

// DFU functional descriptor bmAttributes bits
const (
	AttrCanDnload             = 0x01
	AttrCanUpload             = 0x02
	AttrManifestationTolerant = 0x04
	AttrWillDetach            = 0x08
)

// FunctionalDescriptor is the DFU functional descriptor (type 0x21).
type FunctionalDescriptor struct {
	DetachTimeout uint16
	TransferSize  uint16
	DFUVersion    uint16
	Attributes    uint8
}

// DFUInterface is the DFU interface found in a configuration descriptor set.
type DFUInterface struct {
	Functional  *FunctionalDescriptor
	ConfigValue uint8
	Interface   uint8
	Alternate   uint8
}

// FindDFUInterface walks a full configuration descriptor set and returns the
// first interface with class 0xFE / subclass 0x01 along with the functional
// descriptor that follows it, if any.
func FindDFUInterface(buf []byte) (DFUInterface, bool, error) {
	var (
		result  DFUInterface
		found   bool
		inDFU   bool
		cfgVal  uint8
		haveCfg bool
	)

	for off := 0; off < len(buf); {
		if off+2 > len(buf) {
			return DFUInterface{}, false, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedDescriptor, off)
		}
		length := int(buf[off])
		if length < 2 || off+length > len(buf) {
			return DFUInterface{}, false, fmt.Errorf("%w: length %d at offset %d", ErrMalformedDescriptor, length, off)
		}
		desc := buf[off : off+length]

		switch desc[1] {
		case DescriptorConfiguration:
			if length >= 6 {
				cfgVal = desc[5]
				haveCfg = true
			}
		case DescriptorInterface:
			if found {
				// functional descriptor belongs to the interface directly before it
				return result, true, nil
			}
			if length >= 7 && desc[5] == ClassApplicationSpecific && desc[6] == SubClassDFU {
				result = DFUInterface{
					ConfigValue: cfgVal,
					Interface:   desc[2],
					Alternate:   desc[3],
				}
				found = true
				inDFU = true
			}
		case DescriptorDFUFunctional:
			if inDFU && length >= 7 {
				fd := decodeFunctional(desc)
				result.Functional = &fd
				inDFU = false
			}
		}
		off += length
	}

	if found && !haveCfg {
		return DFUInterface{}, false, fmt.Errorf("%w: interface outside a configuration", ErrMalformedDescriptor)
	}
	return result, found, nil
}

func decodeFunctional(desc []byte) FunctionalDescriptor {
	le := binary.LittleEndian
	fd := FunctionalDescriptor{
		Attributes:    desc[2],
		DetachTimeout: le.Uint16(desc[3:5]),
		TransferSize:  le.Uint16(desc[5:7]),
	}
	if len(desc) >= FunctionalDescriptorSize {
		fd.DFUVersion = le.Uint16(desc[7:9])
	}
	return fd
}
