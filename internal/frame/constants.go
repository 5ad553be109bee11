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

// Package frame holds the byte-level codecs for the DFU class protocol and the
// NXP vendor protocol carried inside it. All multi-byte fields are little-endian
// and decoded from fixed offsets.
package frame

// bmRequestType values for DFU class requests (class, interface recipient)
const (
	RequestTypeOut = 0x21 // host to device
	RequestTypeIn  = 0xA1 // device to host
)

// bmRequestType for standard device requests (GET_DESCRIPTOR)
const (
	RequestTypeStandardIn = 0x80
	RequestGetDescriptor  = 0x06
)

// DFU class request codes (bRequest)
const (
	RequestDetach    = 0x00
	RequestDnload    = 0x01
	RequestUpload    = 0x02
	RequestGetStatus = 0x03
	RequestClrStatus = 0x04
	RequestGetState  = 0x05
	RequestAbort     = 0x06
)

// Descriptor types
const (
	DescriptorDevice        = 0x01
	DescriptorConfiguration = 0x02
	DescriptorInterface     = 0x04
	DescriptorDFUFunctional = 0x21
)

// DFU interface class codes
const (
	ClassApplicationSpecific = 0xFE
	SubClassDFU              = 0x01
)

// Wire sizes
const (
	DFUStatusLength          = 6
	DeviceDescriptorLength   = 18
	ConfigDescriptorLength   = 9
	FunctionalDescriptorSize = 9
	CommandHeaderLength      = 16
	StatusHeaderLength       = 16
	// StatusBufferLength is the wLength used when polling the vendor status.
	StatusBufferLength = 256
)

// Vendor protocol magic: upper 16 bits identify the DFU programming algorithm,
// lower 16 bits carry the protocol version in x.y form (1.10 = 0x010A).
const (
	MagicBase       uint32 = 0x18430000
	ProtocolVersion uint32 = 0x010A
	Magic                  = MagicBase | ProtocolVersion
)
