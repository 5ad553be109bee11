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
	"errors"
	"fmt"
)

var (
	// ErrShortFrame is returned when a buffer is too small for the structure being decoded
	ErrShortFrame = errors.New("frame too short")
	// ErrMalformedDescriptor is returned when a descriptor walk hits an impossible length
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)

// DFUStatus is the raw GETSTATUS reply.
type DFUStatus struct {
	PollTimeout uint32 // milliseconds, 24-bit on the wire
	Status      uint8
	State       uint8
	StringIndex uint8
}

// DecodeDFUStatus decodes a GETSTATUS reply. The reply must be exactly 6 bytes.
func DecodeDFUStatus(buf []byte) (DFUStatus, error) {
	if len(buf) != DFUStatusLength {
		return DFUStatus{}, fmt.Errorf("%w: DFU status is %d bytes, want %d", ErrShortFrame, len(buf), DFUStatusLength)
	}
	return DFUStatus{
		Status:      buf[0],
		PollTimeout: uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16,
		State:       buf[4],
		StringIndex: buf[5],
	}, nil
}

// Append encodes s onto dst in wire order.
func (s DFUStatus) Append(dst []byte) []byte {
	return append(dst,
		s.Status,
		byte(s.PollTimeout),
		byte(s.PollTimeout>>8),
		byte(s.PollTimeout>>16),
		s.State,
		s.StringIndex,
	)
}
