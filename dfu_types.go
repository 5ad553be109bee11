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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// State is a DFU 1.1 device state (bState).
type State uint8

// DFU states
const (
	StateAppIdle State = iota
	StateAppDetach
	StateDFUIdle
	StateDnloadSync
	StateDnBusy
	StateDnloadIdle
	StateManifestSync
	StateManifest
	StateManifestWaitReset
	StateUploadIdle
	StateError
)

var stateNames = [...]string{
	StateAppIdle:           "appIDLE",
	StateAppDetach:         "appDETACH",
	StateDFUIdle:           "dfuIDLE",
	StateDnloadSync:        "dfuDNLOAD-SYNC",
	StateDnBusy:            "dfuDNBUSY",
	StateDnloadIdle:        "dfuDNLOAD-IDLE",
	StateManifestSync:      "dfuMANIFEST-SYNC",
	StateManifest:          "dfuMANIFEST",
	StateManifestWaitReset: "dfuMANIFEST-WAIT-RESET",
	StateUploadIdle:        "dfuUPLOAD-IDLE",
	StateError:             "dfuERROR",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// StatusCode is a DFU 1.1 bStatus value.
type StatusCode uint8

// DFU status codes
const (
	StatusOK StatusCode = iota
	StatusErrTarget
	StatusErrFile
	StatusErrWrite
	StatusErrErase
	StatusErrCheckErased
	StatusErrProg
	StatusErrVerify
	StatusErrAddress
	StatusErrNotDone
	StatusErrFirmware
	StatusErrVendor
	StatusErrUSBR
	StatusErrPOR
	StatusErrUnknown
	StatusErrStalledPkt
)

var statusMeanings = [...]string{
	StatusOK:             "no error",
	StatusErrTarget:      "file is not targeted for this device",
	StatusErrFile:        "file fails a vendor-specific verification test",
	StatusErrWrite:       "unable to write memory",
	StatusErrErase:       "memory erase failed",
	StatusErrCheckErased: "memory erase check failed",
	StatusErrProg:        "program memory function failed",
	StatusErrVerify:      "programmed memory failed verification",
	StatusErrAddress:     "address out of range",
	StatusErrNotDone:     "received zero-length download but data is incomplete",
	StatusErrFirmware:    "device firmware is corrupt",
	StatusErrVendor:      "vendor-specific error",
	StatusErrUSBR:        "unexpected USB reset",
	StatusErrPOR:         "unexpected power on reset",
	StatusErrUnknown:     "unknown error",
	StatusErrStalledPkt:  "device stalled an unexpected request",
}

func (c StatusCode) String() string {
	if int(c) < len(statusMeanings) {
		return statusMeanings[c]
	}
	return fmt.Sprintf("status(0x%02X)", uint8(c))
}

// Status is one decoded GETSTATUS reply.
type Status struct {
	PollTimeout time.Duration
	Code        StatusCode
	State       State
	StringIndex uint8
}

func (s Status) String() string {
	return fmt.Sprintf("%s (%s, poll %v)", s.State, s.Code, s.PollTimeout)
}

func statusFromFrame(f frame.DFUStatus) Status {
	return Status{
		Code:        StatusCode(f.Status),
		PollTimeout: time.Duration(f.PollTimeout) * time.Millisecond,
		State:       State(f.State),
		StringIndex: f.StringIndex,
	}
}

// Binding is the DFU interface selected for one USB connection. It is fixed
// for the lifetime of the connection.
type Binding struct {
	Functional     *frame.FunctionalDescriptor
	Config         int
	Interface      int
	Alternate      int
	TransferSize   int
	MaxPacketSize0 int
	VendorID       uint16
	ProductID      uint16
}
