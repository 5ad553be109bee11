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

// CommandHeader is the 16-byte host command sent as one DNLOAD block.
//
//	offset 0  command id
//	offset 4  address
//	offset 8  size
//	offset 12 magic
type CommandHeader struct {
	Command uint32
	Address uint32
	Size    uint32
	Magic   uint32
}

// Append encodes h onto dst.
func (h CommandHeader) Append(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, h.Command)
	dst = le.AppendUint32(dst, h.Address)
	dst = le.AppendUint32(dst, h.Size)
	return le.AppendUint32(dst, h.Magic)
}

// DecodeCommandHeader decodes the first 16 bytes of buf.
func DecodeCommandHeader(buf []byte) (CommandHeader, error) {
	if len(buf) < CommandHeaderLength {
		return CommandHeader{}, fmt.Errorf("%w: command header is %d bytes, want %d",
			ErrShortFrame, len(buf), CommandHeaderLength)
	}
	le := binary.LittleEndian
	return CommandHeader{
		Command: le.Uint32(buf[0:4]),
		Address: le.Uint32(buf[4:8]),
		Size:    le.Uint32(buf[8:12]),
		Magic:   le.Uint32(buf[12:16]),
	}, nil
}

// StatusHeader is the vendor status reply returned by an UPLOAD while no
// readback is in flight. Trailer holds any bytes past the fixed header.
type StatusHeader struct {
	Trailer     []byte
	Command     uint32
	Status      uint32
	StringBytes uint32
	Reserved    uint32
}

// DecodeStatusHeader decodes a vendor status reply. Anything shorter than
// 16 bytes is a protocol violation.
func DecodeStatusHeader(buf []byte) (StatusHeader, error) {
	if len(buf) < StatusHeaderLength {
		return StatusHeader{}, fmt.Errorf("%w: status header is %d bytes, want at least %d",
			ErrShortFrame, len(buf), StatusHeaderLength)
	}
	le := binary.LittleEndian
	h := StatusHeader{
		Command:     le.Uint32(buf[0:4]),
		Status:      le.Uint32(buf[4:8]),
		StringBytes: le.Uint32(buf[8:12]),
		Reserved:    le.Uint32(buf[12:16]),
	}
	if len(buf) > StatusHeaderLength {
		h.Trailer = append([]byte(nil), buf[StatusHeaderLength:]...)
	}
	return h, nil
}

// Append encodes h (including its trailer) onto dst.
func (h StatusHeader) Append(dst []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, h.Command)
	dst = le.AppendUint32(dst, h.Status)
	dst = le.AppendUint32(dst, h.StringBytes)
	dst = le.AppendUint32(dst, h.Reserved)
	return append(dst, h.Trailer...)
}
