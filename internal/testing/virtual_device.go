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

// Package testing provides test utilities including a virtual NXP DFU device.
//
// VirtualDevice answers control transfers the way an LPC boot ROM and its
// secondary loader do. In ModeROM it accepts a plain DFU download and leaves
// the bus after manifestation. In ModeLoader it runs the vendor command
// protocol against an in-memory flash array. Faults can be injected for every
// failure path the host has to handle.
package testing

import (
	"errors"
	"fmt"
	"slices"
	"syscall"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
	"github.com/ZaparooProject/go-nxpdfu/internal/syncutil"
)

// Mode selects which firmware the virtual device is running.
type Mode int

const (
	// ModeROM is the boot ROM: plain DFU download of a secondary loader.
	ModeROM Mode = iota
	// ModeLoader is the secondary loader speaking the vendor protocol.
	ModeLoader
)

// DFU states as reported in GETSTATUS/GETSTATE.
const (
	StateAppIdle uint8 = iota
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

// DFU status codes used by the device.
const (
	StatusOK            uint8 = 0x00
	StatusErrUnknown    uint8 = 0x0E
	StatusErrStalledPkt uint8 = 0x0F
)

// Vendor operation status values.
const (
	OpIdle       uint32 = 0
	OpEraseErr   uint32 = 1
	OpProgErr    uint32 = 2
	OpReadErr    uint32 = 3
	OpUnknownErr uint32 = 4
	OpReadTrig   uint32 = 6
	OpErasing    uint32 = 10
	OpProgStream uint32 = 13
)

// Vendor commands.
const (
	CmdSetDebug uint32 = iota
	CmdEraseAll
	CmdEraseRegion
	CmdProgram
	CmdReadback
	CmdReset
	CmdExecute
)

var (
	// ErrDeviceGone is returned by every transfer while the device is off the bus.
	ErrDeviceGone = fmt.Errorf("virtual device left the bus: %w", syscall.ENODEV)
	// ErrStall is returned for requests the device refuses.
	ErrStall = errors.New("control request stalled")
	// ErrInjected is returned by injected transfer failures.
	ErrInjected = errors.New("injected transfer failure")
)

// DeviceConfig configures a VirtualDevice.
type DeviceConfig struct {
	Descriptor DescriptorConfig
	Mode       Mode
	FlashSize  int
	// InitialState is the DFU state the device powers up in.
	InitialState uint8
	// BusyPolls is how many GETSTATUS replies report dfuDNBUSY after a DNLOAD.
	BusyPolls int
	// ManifestPolls is how many GETSTATUS replies report dfuMANIFEST-SYNC
	// before the device enters dfuMANIFEST and leaves the bus.
	ManifestPolls int
	// EraseBusyPolls is how many status polls report ERASING after an erase.
	EraseBusyPolls int
	// PollTimeoutMs is reported as bwPollTimeout.
	PollTimeoutMs uint32
}

// DefaultDeviceConfig returns an LPC-like device in boot ROM mode.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Descriptor: DescriptorConfig{
			VendorID:       0x1FC9,
			ProductID:      0x000C,
			TransferSize:   2048,
			DetachTimeout:  255,
			MaxPacketSize0: 64,
			ConfigValue:    1,
		},
		Mode:         ModeROM,
		FlashSize:    64 * 1024,
		InitialState: StateDFUIdle,
	}
}

// BlockRecord logs one DNLOAD or UPLOAD as the device saw it.
type BlockRecord struct {
	Request uint8
	Value   uint16
	Length  int
}

// VirtualDevice simulates an NXP part in USB DFU boot mode.
type VirtualDevice struct {
	failCommand  map[uint32]uint32
	failMessage  string
	executedAt   *uint32
	flash        []byte
	secondary    []byte
	pending      []byte
	commands     []frame.CommandHeader
	blocks       []BlockRecord
	cfg          DeviceConfig
	progAddr     uint32
	progLeft     uint32
	progWritten  int
	readAddr     uint32
	readLeft     uint32
	readDone     int
	readChunks   int
	op           uint32
	lastCmd      uint32
	busy         int
	eraseBusy    int
	resets       int
	getStatusErr int
	shortStatus  int
	shortDFU     int
	loseTrigger  int
	stopProgram  int
	corruptAt    int
	mu           syncutil.Mutex
	mode         Mode
	state        uint8
	status       uint8
	readPending  bool
	havePending  bool
	gone         bool
	manifested   bool
}

// NewVirtualDevice creates a device with erased flash.
func NewVirtualDevice(cfg DeviceConfig) *VirtualDevice {
	if cfg.FlashSize <= 0 {
		cfg.FlashSize = DefaultDeviceConfig().FlashSize
	}
	d := &VirtualDevice{
		cfg:         cfg,
		mode:        cfg.Mode,
		state:       cfg.InitialState,
		flash:       make([]byte, cfg.FlashSize),
		failCommand: make(map[uint32]uint32),
		loseTrigger: -1,
		stopProgram: -1,
		corruptAt:   -1,
	}
	eraseFlash(d.flash)
	return d
}

// NewVirtualLoader creates a device already running the secondary loader.
func NewVirtualLoader() *VirtualDevice {
	cfg := DefaultDeviceConfig()
	cfg.Mode = ModeLoader
	return NewVirtualDevice(cfg)
}

func eraseFlash(b []byte) {
	for i := range b {
		b[i] = 0xFF
	}
}

// Control answers one control transfer.
func (d *VirtualDevice) Control(rType, request uint8, val, idx uint16, data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gone {
		return 0, ErrDeviceGone
	}

	switch rType {
	case frame.RequestTypeStandardIn:
		if request != frame.RequestGetDescriptor {
			return 0, ErrStall
		}
		return d.descriptor(val, data)
	case frame.RequestTypeIn, frame.RequestTypeOut:
		if idx != uint16(d.cfg.Descriptor.Interface) {
			return 0, ErrStall
		}
		return d.classRequest(request, val, data)
	default:
		return 0, ErrStall
	}
}

func (d *VirtualDevice) descriptor(val uint16, data []byte) (int, error) {
	var desc []byte
	switch uint8(val >> 8) {
	case frame.DescriptorDevice:
		desc = BuildDeviceDescriptor(d.cfg.Descriptor)
	case frame.DescriptorConfiguration:
		desc = BuildConfigDescriptor(d.cfg.Descriptor)
	default:
		return 0, ErrStall
	}
	return copy(data, desc), nil
}

func (d *VirtualDevice) classRequest(request uint8, val uint16, data []byte) (int, error) {
	switch request {
	case frame.RequestGetStatus:
		return d.getStatus(data)
	case frame.RequestGetState:
		if len(data) == 0 {
			return 0, ErrStall
		}
		data[0] = d.state
		return 1, nil
	case frame.RequestClrStatus:
		if d.state == StateError || d.state == StateDFUIdle {
			d.state, d.status = StateDFUIdle, StatusOK
		}
		return 0, nil
	case frame.RequestAbort:
		switch d.state {
		case StateAppIdle, StateAppDetach, StateError, StateManifestWaitReset:
			return 0, d.stall()
		}
		d.state = StateDFUIdle
		d.pending, d.havePending = nil, false
		return 0, nil
	case frame.RequestDetach:
		if d.state != StateAppIdle {
			return 0, d.stall()
		}
		d.state = StateAppDetach
		return 0, nil
	case frame.RequestDnload:
		d.blocks = append(d.blocks, BlockRecord{Request: request, Value: val, Length: len(data)})
		return d.dnload(data)
	case frame.RequestUpload:
		d.blocks = append(d.blocks, BlockRecord{Request: request, Value: val, Length: len(data)})
		return d.upload(data)
	default:
		return 0, d.stall()
	}
}

func (d *VirtualDevice) stall() error {
	d.state, d.status = StateError, StatusErrStalledPkt
	return ErrStall
}

func (d *VirtualDevice) getStatus(data []byte) (int, error) {
	if d.getStatusErr > 0 {
		d.getStatusErr--
		return 0, ErrInjected
	}

	leave := false
	switch d.state {
	case StateDnloadSync, StateDnBusy:
		if d.busy > 0 {
			d.busy--
			d.state = StateDnBusy
		} else {
			d.state = StateDnloadIdle
		}
	case StateManifestSync:
		if d.busy > 0 {
			d.busy--
		} else {
			d.state = StateManifest
			leave = true
		}
	}

	reply := BuildDFUStatus(d.status, d.state, d.cfg.PollTimeoutMs)
	if d.shortDFU > 0 {
		d.shortDFU--
		reply = reply[:frame.DFUStatusLength-1]
	}
	n := copy(data, reply)

	if leave {
		d.manifested = true
		d.gone = true
	}
	return n, nil
}

func (d *VirtualDevice) dnload(data []byte) (int, error) {
	if len(data) > int(d.cfg.Descriptor.TransferSize) {
		return 0, d.stall()
	}
	if d.state != StateDFUIdle && d.state != StateDnloadIdle {
		return 0, d.stall()
	}

	if d.mode == ModeROM {
		switch {
		case len(data) > 0:
			d.secondary = append(d.secondary, data...)
			d.state, d.busy = StateDnloadSync, d.cfg.BusyPolls
		case d.state == StateDnloadIdle:
			d.state, d.busy = StateManifestSync, d.cfg.ManifestPolls
		default:
			return 0, d.stall()
		}
		return len(data), nil
	}

	d.state, d.busy = StateDnloadSync, d.cfg.BusyPolls
	if len(data) > 0 {
		d.pending = append(d.pending[:0], data...)
		d.havePending = true
		return len(data), nil
	}
	d.commit()
	return 0, nil
}

// commit handles the zero-length block that completes a vendor transfer.
func (d *VirtualDevice) commit() {
	data, had := d.pending, d.havePending
	d.pending, d.havePending = nil, false

	if d.op == OpProgStream && !isHeader(data) {
		d.program(data)
		return
	}
	if had {
		d.startCommand(data)
	}
}

func isHeader(data []byte) bool {
	h, err := frame.DecodeCommandHeader(data)
	return err == nil && len(data) == frame.CommandHeaderLength && h.Magic == frame.Magic
}

func (d *VirtualDevice) inFlash(addr, size uint32) bool {
	return uint64(addr)+uint64(size) <= uint64(len(d.flash))
}

func (d *VirtualDevice) startCommand(data []byte) {
	h, err := frame.DecodeCommandHeader(data)
	if err != nil || h.Magic != frame.Magic {
		d.op = OpUnknownErr
		return
	}
	d.commands = append(d.commands, h)
	d.lastCmd = h.Command
	d.readPending = false

	if fatal, ok := d.failCommand[h.Command]; ok {
		d.op = fatal
		return
	}

	switch h.Command {
	case CmdSetDebug:
		d.op = OpIdle
	case CmdEraseAll:
		eraseFlash(d.flash)
		d.startErase()
	case CmdEraseRegion:
		if !d.inFlash(h.Address, h.Size) {
			d.op = OpEraseErr
			return
		}
		eraseFlash(d.flash[h.Address : h.Address+h.Size])
		d.startErase()
	case CmdProgram:
		if !d.inFlash(h.Address, h.Size) {
			d.op = OpProgErr
			return
		}
		d.progAddr, d.progLeft, d.progWritten = h.Address, h.Size, 0
		d.op = OpProgStream
		if h.Size == 0 {
			d.op = OpIdle
		}
	case CmdReadback:
		if !d.inFlash(h.Address, h.Size) {
			d.op = OpReadErr
			return
		}
		d.readAddr, d.readLeft, d.readDone, d.readChunks = h.Address, h.Size, 0, 0
		d.op = OpReadTrig
		if h.Size == 0 {
			d.op = OpIdle
		}
	case CmdReset:
		d.resets++
		d.gone = true
	case CmdExecute:
		addr := h.Address
		d.executedAt = &addr
		d.gone = true
	default:
		d.op = OpUnknownErr
	}
}

func (d *VirtualDevice) startErase() {
	if d.cfg.EraseBusyPolls > 0 {
		d.op, d.eraseBusy = OpErasing, d.cfg.EraseBusyPolls
		return
	}
	d.op = OpIdle
}

func (d *VirtualDevice) program(data []byte) {
	if len(data) == 0 {
		d.op = OpIdle
		return
	}
	n := min(uint32(len(data)), d.progLeft)
	copy(d.flash[d.progAddr:d.progAddr+n], data[:n])
	d.progAddr += n
	d.progLeft -= n
	d.progWritten += int(n)

	switch {
	case d.progLeft == 0:
		d.op = OpIdle
	case d.stopProgram >= 0 && d.progWritten >= d.stopProgram:
		d.op = OpIdle
	default:
		d.op = OpProgStream
	}
}

func (d *VirtualDevice) upload(data []byte) (int, error) {
	if d.mode == ModeROM {
		return 0, d.stall()
	}
	if d.state != StateDFUIdle && d.state != StateDnloadIdle {
		return 0, d.stall()
	}
	if d.readPending {
		return d.readChunk(data), nil
	}
	return d.statusReply(data), nil
}

func (d *VirtualDevice) statusReply(data []byte) int {
	if d.op == OpErasing {
		if d.eraseBusy > 0 {
			d.eraseBusy--
		} else {
			d.op = OpIdle
		}
	}

	msg := ""
	if d.op >= OpEraseErr && d.op <= OpUnknownErr {
		msg = d.failMessage
	}
	reply := BuildVendorStatus(d.lastCmd, d.op, msg)
	if d.shortStatus > 0 {
		d.shortStatus--
		reply = reply[:8]
	}
	if d.op == OpReadTrig {
		d.readPending = true
	}
	return copy(data, reply)
}

func (d *VirtualDevice) readChunk(data []byte) int {
	d.readPending = false
	n := min(uint32(len(data)), d.readLeft, uint32(d.cfg.Descriptor.TransferSize))
	copy(data, d.flash[d.readAddr:d.readAddr+n])
	if d.corruptAt >= d.readDone && d.corruptAt < d.readDone+int(n) {
		data[d.corruptAt-d.readDone] ^= 0x01
	}
	d.readAddr += n
	d.readLeft -= n
	d.readDone += int(n)
	d.readChunks++

	switch {
	case d.readLeft == 0:
		d.op = OpIdle
	case d.loseTrigger >= 0 && d.readChunks >= d.loseTrigger:
		d.op = OpIdle
	default:
		d.op = OpReadTrig
	}
	return int(n)
}

// BusReset takes the device off the bus as a USB reset does.
func (d *VirtualDevice) BusReset() {
	d.mu.Lock()
	d.resets++
	d.gone = true
	d.mu.Unlock()
}

// Reattach brings the device back on the bus. A device that manifested a
// secondary loader comes back running it.
func (d *VirtualDevice) Reattach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.manifested {
		d.mode = ModeLoader
		d.manifested = false
	}
	d.gone = false
	d.state, d.status = StateDFUIdle, StatusOK
	d.op = OpIdle
	d.readPending = false
	d.pending, d.havePending = nil, false
}

// Fault injection

// FailCommand makes cmd report the fatal status (with msg as trailer)
// instead of executing.
func (d *VirtualDevice) FailCommand(cmd, status uint32, msg string) {
	d.mu.Lock()
	d.failCommand[cmd] = status
	d.failMessage = msg
	d.mu.Unlock()
}

// LoseReadTriggerAfter makes the device report IDLE instead of READ_TRIG
// once chunks readback blocks have been delivered.
func (d *VirtualDevice) LoseReadTriggerAfter(chunks int) {
	d.mu.Lock()
	d.loseTrigger = chunks
	d.mu.Unlock()
}

// StopProgramAfter makes the device stop asking for data once n bytes have
// been programmed.
func (d *VirtualDevice) StopProgramAfter(n int) {
	d.mu.Lock()
	d.stopProgram = n
	d.mu.Unlock()
}

// CorruptReadback flips the lowest bit of the byte at offset (relative to
// the readback start) in every readback. Flash itself is untouched.
func (d *VirtualDevice) CorruptReadback(offset int) {
	d.mu.Lock()
	d.corruptAt = offset
	d.mu.Unlock()
}

// ShortStatusReplies truncates the next n vendor status replies to 8 bytes.
func (d *VirtualDevice) ShortStatusReplies(n int) {
	d.mu.Lock()
	d.shortStatus = n
	d.mu.Unlock()
}

// ShortDFUStatus truncates the next n GETSTATUS replies to 5 bytes.
func (d *VirtualDevice) ShortDFUStatus(n int) {
	d.mu.Lock()
	d.shortDFU = n
	d.mu.Unlock()
}

// FailGetStatus makes the next n GETSTATUS requests fail.
func (d *VirtualDevice) FailGetStatus(n int) {
	d.mu.Lock()
	d.getStatusErr = n
	d.mu.Unlock()
}

// SetState forces the DFU state and status code.
func (d *VirtualDevice) SetState(state, status uint8) {
	d.mu.Lock()
	d.state, d.status = state, status
	d.mu.Unlock()
}

// Inspection

// State returns the current DFU state.
func (d *VirtualDevice) State() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Mode returns the firmware the device is running.
func (d *VirtualDevice) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// IsGone reports whether the device is off the bus.
func (d *VirtualDevice) IsGone() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gone
}

// Flash returns a copy of the flash array.
func (d *VirtualDevice) Flash() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.flash)
}

// WriteFlash stores data at addr directly, bypassing the protocol.
func (d *VirtualDevice) WriteFlash(addr int, data []byte) {
	d.mu.Lock()
	copy(d.flash[addr:], data)
	d.mu.Unlock()
}

// Secondary returns the secondary loader image received in ModeROM.
func (d *VirtualDevice) Secondary() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.secondary)
}

// Commands returns every vendor command header accepted so far.
func (d *VirtualDevice) Commands() []frame.CommandHeader {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.commands)
}

// CommandIDs returns the command field of every accepted header.
func (d *VirtualDevice) CommandIDs() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint32, len(d.commands))
	for i, h := range d.commands {
		ids[i] = h.Command
	}
	return ids
}

// Blocks returns the DNLOAD/UPLOAD log.
func (d *VirtualDevice) Blocks() []BlockRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.blocks)
}

// ResetCount returns how many bus or vendor resets the device has seen.
func (d *VirtualDevice) ResetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// ExecutedAt returns the EXECUTE address, if one was received.
func (d *VirtualDevice) ExecutedAt() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.executedAt == nil {
		return 0, false
	}
	return *d.executedAt, true
}
