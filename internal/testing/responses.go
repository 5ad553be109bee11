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

package testing

import (
	"encoding/binary"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// DescriptorConfig shapes the descriptors a virtual device reports.
type DescriptorConfig struct {
	VendorID       uint16
	ProductID      uint16
	TransferSize   uint16
	DetachTimeout  uint16
	MaxPacketSize0 uint8
	ConfigValue    uint8
	Interface      uint8
	Alternate      uint8
	// OmitFunctional leaves out the DFU functional descriptor.
	OmitFunctional bool
}

// BuildDeviceDescriptor creates an 18-byte standard device descriptor.
func BuildDeviceDescriptor(c DescriptorConfig) []byte {
	buf := []byte{
		frame.DeviceDescriptorLength, frame.DescriptorDevice,
		0x00, 0x02, // bcdUSB 2.00
		0x00, 0x00, 0x00, // class defined per interface
		c.MaxPacketSize0,
		0, 0, 0, 0,
		0x00, 0x01, // bcdDevice
		0x01, 0x02, 0x03, // string indexes
		0x01, // one configuration
	}
	binary.LittleEndian.PutUint16(buf[8:10], c.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], c.ProductID)
	return buf
}

// BuildConfigDescriptor creates a configuration descriptor set with a single
// DFU interface and, unless omitted, its functional descriptor.
func BuildConfigDescriptor(c DescriptorConfig) []byte {
	buf := []byte{
		frame.ConfigDescriptorLength, frame.DescriptorConfiguration,
		0, 0, // wTotalLength, patched below
		0x01, c.ConfigValue, 0x00, 0x80, 0x32,
		0x09, frame.DescriptorInterface,
		c.Interface, c.Alternate, 0x00,
		frame.ClassApplicationSpecific, frame.SubClassDFU, 0x02, 0x00,
	}
	if !c.OmitFunctional {
		buf = append(buf, frame.FunctionalDescriptorSize, frame.DescriptorDFUFunctional,
			frame.AttrCanDnload|frame.AttrCanUpload|frame.AttrWillDetach)
		buf = binary.LittleEndian.AppendUint16(buf, c.DetachTimeout)
		buf = binary.LittleEndian.AppendUint16(buf, c.TransferSize)
		buf = binary.LittleEndian.AppendUint16(buf, 0x0110)
	}
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(buf)))
	return buf
}

// BuildDFUStatus creates a 6-byte GETSTATUS reply.
func BuildDFUStatus(status, state uint8, pollTimeoutMs uint32) []byte {
	return frame.DFUStatus{Status: status, State: state, PollTimeout: pollTimeoutMs}.Append(nil)
}

// BuildVendorStatus creates a vendor status reply, with msg as the trailer
// when it is not empty.
func BuildVendorStatus(cmd, status uint32, msg string) []byte {
	h := frame.StatusHeader{Command: cmd, Status: status}
	if msg != "" {
		h.StringBytes = uint32(len(msg))
		h.Trailer = []byte(msg)
	}
	return h.Append(nil)
}
