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
	"bytes"
	"fmt"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// Command is a vendor host command id.
type Command uint32

// Vendor host commands
const (
	CmdSetDebug Command = iota
	CmdEraseAll
	CmdEraseRegion
	CmdProgram
	CmdReadback
	CmdReset
	CmdExecute
)

var commandNames = [...]string{
	CmdSetDebug:    "SETDEBUG",
	CmdEraseAll:    "ERASE_ALL",
	CmdEraseRegion: "ERASE_REGION",
	CmdProgram:     "PROGRAM",
	CmdReadback:    "READBACK",
	CmdReset:       "RESET",
	CmdExecute:     "EXECUTE",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("command(%d)", uint32(c))
}

// OpStatus is the vendor operation status reported in the status header.
type OpStatus uint32

// Vendor operation status codes
const (
	OpIdle          OpStatus = iota // can accept a new host command
	OpEraseErr                      // erase error
	OpProgErr                       // program error
	OpReadErr                       // readback error
	OpUnknownErr                    // unknown error
	OpReadBusy                      // reading a block
	OpReadTrig                      // block ready, next UPLOAD returns data
	OpReadReady                     // block of data is ready
	OpEraseAllStart                 // about to start full erase
	OpEraseStart                    // about to start region erase
	OpErasing
	OpProgramming
	OpReserved
	OpProgStream // waiting for the next DNLOAD block
	OpResetting
	OpExecuting
	OpErrorLoop // looping on error after DFU status check
)

var opStatusNames = [...]string{
	OpIdle:          "IDLE",
	OpEraseErr:      "ERASE_ERR",
	OpProgErr:       "PROG_ERR",
	OpReadErr:       "READ_ERR",
	OpUnknownErr:    "UNKNOWN_ERR",
	OpReadBusy:      "READ_BUSY",
	OpReadTrig:      "READ_TRIG",
	OpReadReady:     "READ_READY",
	OpEraseAllStart: "ERASE_ALL_START",
	OpEraseStart:    "ERASE_START",
	OpErasing:       "ERASING",
	OpProgramming:   "PROGRAMMING",
	OpReserved:      "RESERVED",
	OpProgStream:    "PROG_STREAM",
	OpResetting:     "RESETTING",
	OpExecuting:     "EXECUTING",
	OpErrorLoop:     "ERROR_LOOP",
}

func (s OpStatus) String() string {
	if int(s) < len(opStatusNames) {
		return opStatusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// IsFatal reports whether s ends the current command. Fatal codes are never
// retried.
func (s OpStatus) IsFatal() bool {
	switch s {
	case OpEraseErr, OpProgErr, OpReadErr, OpUnknownErr:
		return true
	default:
		return false
	}
}

// StatusHeader is a decoded vendor status reply.
type StatusHeader struct {
	// Message is the trailing string, if the device sent one.
	Message     string
	Command     Command
	Status      OpStatus
	StringBytes uint32
	Reserved    uint32
}

func statusHeaderFromFrame(h frame.StatusHeader) StatusHeader {
	msg := h.Trailer
	if int(h.StringBytes) < len(msg) {
		msg = msg[:h.StringBytes]
	}
	if i := bytes.IndexByte(msg, 0); i >= 0 {
		msg = msg[:i]
	}
	return StatusHeader{
		Command:     Command(h.Command),
		Status:      OpStatus(h.Status),
		StringBytes: h.StringBytes,
		Reserved:    h.Reserved,
		Message:     string(bytes.TrimSpace(msg)),
	}
}
