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
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-nxpdfu/internal/frame"
)

// Engine is the part of the DFU class engine the vendor protocol needs.
// *DFU implements it.
type Engine interface {
	Download(ctx context.Context, data []byte) (int, error)
	Upload(ctx context.Context, data []byte) (int, error)
	UploadUntagged(ctx context.Context, data []byte) (int, error)
	WaitIdle(ctx context.Context) error
	ResetTransaction()
	TransferSize() int
}

// Vendor speaks the NXP command/status protocol that a secondary loader runs
// inside DFU DNLOAD/UPLOAD transfers.
//
// Thread Safety: Vendor is NOT thread-safe; the device accepts one command at
// a time.
type Vendor struct {
	engine   Engine
	config   *Config
	progress ProgressFunc
	chunk    []byte
	status   [frame.StatusBufferLength]byte
}

// NewVendor creates a vendor protocol client on top of engine.
func NewVendor(engine Engine, opts ...Option) (*Vendor, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrInvalidParameter)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Vendor{engine: engine, config: cfg}, nil
}

// SetProgress installs a callback for ProgramStream and ReadRegion progress.
func (v *Vendor) SetProgress(fn ProgressFunc) {
	v.progress = fn
}

func (v *Vendor) report(phase Phase, done, total int) {
	if v.progress != nil {
		v.progress(Progress{Phase: phase, Done: done, Total: total})
	}
}

// chunkBuf returns a reusable buffer of the negotiated transfer size.
func (v *Vendor) chunkBuf() []byte {
	if n := v.engine.TransferSize(); len(v.chunk) != n {
		v.chunk = make([]byte, n)
	}
	return v.chunk
}

func (v *Vendor) send(ctx context.Context, data []byte) error {
	n, err := v.engine.Download(ctx, data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return NewShortTransferError("download", n, len(data))
	}
	return nil
}

// block sends one DNLOAD block followed by the zero-length terminator,
// waiting for dfuDNLOAD-IDLE after each.
func (v *Vendor) block(ctx context.Context, data []byte) error {
	if err := v.send(ctx, data); err != nil {
		return err
	}
	if err := v.engine.WaitIdle(ctx); err != nil {
		return err
	}
	if err := v.send(ctx, nil); err != nil {
		return err
	}
	return v.engine.WaitIdle(ctx)
}

// IssueCommand resets the transaction counter and sends the 16-byte command
// header, terminated by a zero-length block.
func (v *Vendor) IssueCommand(ctx context.Context, cmd Command, addr, size uint32) error {
	Debugf("vendor: %s addr=0x%08X size=%d", cmd, addr, size)
	v.engine.ResetTransaction()
	hdr := frame.CommandHeader{
		Command: uint32(cmd),
		Address: addr,
		Size:    size,
		Magic:   frame.Magic,
	}.Append(make([]byte, 0, frame.CommandHeaderLength))

	if err := v.block(ctx, hdr); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// Status reads the vendor status header. A reply shorter than 16 bytes is a
// protocol violation. Status uploads do not advance the transaction counter.
func (v *Vendor) Status(ctx context.Context) (StatusHeader, error) {
	n, err := v.engine.UploadUntagged(ctx, v.status[:])
	if err != nil {
		return StatusHeader{}, err
	}
	raw, err := frame.DecodeStatusHeader(v.status[:n])
	if err != nil {
		return StatusHeader{}, fmt.Errorf("%w: status reply is %d bytes", ErrProtocolViolation, n)
	}
	st := statusHeaderFromFrame(raw)
	if st.Message != "" {
		Debugf("vendor: device says %q (%s)", st.Message, st.Status)
	}
	return st, nil
}

// waitFor polls Status until target is reported. It returns false without
// error when the device reports IDLE while waiting for anything else: the
// operation already finished or cannot proceed. A fatal status ends polling
// immediately with *ProtocolFaultError.
func (v *Vendor) waitFor(ctx context.Context, cmd Command, target OpStatus, pc PollConfig) (bool, error) {
	reached := false
	err := poll(ctx, pc, fmt.Sprintf("%s: wait for %s", cmd, target), func() (bool, time.Duration, error) {
		st, err := v.Status(ctx)
		if err != nil {
			return false, 0, err
		}
		switch {
		case st.Status.IsFatal():
			return false, 0, &ProtocolFaultError{
				Command: cmd,
				Status:  st.Status,
				Waiting: target,
				Message: st.Message,
			}
		case st.Status == target:
			reached = true
			return true, 0, nil
		case st.Status == OpIdle:
			Debugf("vendor: %s went idle while waiting for %s", cmd, target)
			return true, 0, nil
		default:
			return false, 0, nil
		}
	})
	return reached, err
}

func (v *Vendor) waitIdle(ctx context.Context, cmd Command, pc PollConfig) error {
	_, err := v.waitFor(ctx, cmd, OpIdle, pc)
	return err
}

// SetDebug configures the target's debug output.
func (v *Vendor) SetDebug(ctx context.Context, addr, size uint32) error {
	if err := v.IssueCommand(ctx, CmdSetDebug, addr, size); err != nil {
		return err
	}
	return v.waitIdle(ctx, CmdSetDebug, v.config.VendorPoll)
}

// EraseAll erases the whole flash.
func (v *Vendor) EraseAll(ctx context.Context) error {
	if err := v.IssueCommand(ctx, CmdEraseAll, 0, 0); err != nil {
		return err
	}
	return v.waitIdle(ctx, CmdEraseAll, v.config.ErasePoll)
}

// EraseRegion erases size bytes starting at addr.
func (v *Vendor) EraseRegion(ctx context.Context, addr, size uint32) error {
	if err := v.IssueCommand(ctx, CmdEraseRegion, addr, size); err != nil {
		return err
	}
	return v.waitIdle(ctx, CmdEraseRegion, v.config.ErasePoll)
}

// ProgramRegion programs the first size bytes of buf at addr as a single
// block. size must fit in buf and in one transfer; oversize requests are
// rejected before anything is sent.
func (v *Vendor) ProgramRegion(ctx context.Context, buf []byte, addr, size uint32) error {
	if int64(size) > int64(len(buf)) {
		return fmt.Errorf("%w: program %d bytes from a %d byte buffer", ErrSizeViolation, size, len(buf))
	}
	if int64(size) > int64(v.engine.TransferSize()) {
		return fmt.Errorf("%w: program %d bytes with transfer size %d",
			ErrSizeViolation, size, v.engine.TransferSize())
	}

	if err := v.IssueCommand(ctx, CmdProgram, addr, size); err != nil {
		return err
	}
	ok, err := v.waitFor(ctx, CmdProgram, OpProgStream, v.config.VendorPoll)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: PROGRAM went idle before accepting data", ErrProtocolViolation)
	}
	if err := v.block(ctx, buf[:size]); err != nil {
		return fmt.Errorf("%s data: %w", CmdProgram, err)
	}
	return v.waitIdle(ctx, CmdProgram, v.config.VendorPoll)
}

// ProgramStream programs length bytes read from r at addr, one transfer-size
// block at a time. It stops early if the device goes idle or r runs dry, and
// returns the number of bytes sent.
func (v *Vendor) ProgramStream(ctx context.Context, r io.Reader, addr, length uint32) (int, error) {
	if err := v.IssueCommand(ctx, CmdProgram, addr, length); err != nil {
		return 0, err
	}

	chunk := v.chunkBuf()
	total := 0
	for {
		want := min(len(chunk), int(int64(length)-int64(total)))
		n, err := io.ReadFull(r, chunk[:want])
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return total, fmt.Errorf("read image: %w", err)
		}

		ok, err := v.waitFor(ctx, CmdProgram, OpProgStream, v.config.VendorPoll)
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		if err := v.block(ctx, chunk[:n]); err != nil {
			return total, fmt.Errorf("%s block at +0x%X: %w", CmdProgram, total, err)
		}
		total += n
		v.report(PhaseProgram, total, int(length))

		if n == 0 || total >= int(length) {
			break
		}
	}

	if err := v.waitIdle(ctx, CmdProgram, v.config.VendorPoll); err != nil {
		return total, err
	}
	return total, nil
}

// ReadRegion reads size bytes at addr into dst, growing it when it is too
// small, and returns the bytes actually read. Data uploads go out untagged
// like status polls. If the device stops offering
// blocks early the result is shorter than size; it is never padded.
func (v *Vendor) ReadRegion(ctx context.Context, dst []byte, addr, size uint32) ([]byte, error) {
	if uint64(cap(dst)) < uint64(size) {
		dst = make([]byte, size)
	}
	dst = dst[:size]

	if err := v.IssueCommand(ctx, CmdReadback, addr, size); err != nil {
		return dst[:0], err
	}
	ok, err := v.waitFor(ctx, CmdReadback, OpReadTrig, v.config.VendorPoll)
	if err != nil {
		return dst[:0], err
	}
	if !ok {
		return dst[:0], fmt.Errorf("%w: READBACK went idle before offering data", ErrProtocolViolation)
	}

	ts := v.engine.TransferSize()
	if int64(size) <= int64(ts) {
		n, err := v.engine.UploadUntagged(ctx, dst)
		if err != nil {
			return dst[:0], err
		}
		v.report(PhaseVerify, n, int(size))
		return dst[:n], nil
	}

	scratch := v.chunkBuf()
	pos := 0
	for pos < int(size) {
		n, err := v.engine.UploadUntagged(ctx, scratch)
		if err != nil {
			return dst[:pos], err
		}
		if n == 0 {
			return dst[:pos], fmt.Errorf("%w: empty readback block at +0x%X", ErrProtocolViolation, pos)
		}
		pos += copy(dst[pos:], scratch[:n])
		v.report(PhaseVerify, pos, int(size))
		if pos >= int(size) {
			break
		}

		ok, err := v.waitFor(ctx, CmdReadback, OpReadTrig, v.config.VendorPoll)
		if err != nil {
			return dst[:pos], err
		}
		if !ok {
			Debugf("vendor: readback trigger lost after %d of %d bytes", pos, size)
			break
		}
	}
	return dst[:pos], nil
}

// Reset tells the target to reset. The device leaves the bus, so failures
// after the command header was accepted are expected and ignored.
func (v *Vendor) Reset(ctx context.Context) error {
	return v.issueLeaving(ctx, CmdReset, 0)
}

// Execute tells the target to start running code at addr. Like Reset the
// device leaves the vendor protocol afterwards.
func (v *Vendor) Execute(ctx context.Context, addr uint32) error {
	return v.issueLeaving(ctx, CmdExecute, addr)
}

func (v *Vendor) issueLeaving(ctx context.Context, cmd Command, addr uint32) error {
	Debugf("vendor: %s addr=0x%08X", cmd, addr)
	v.engine.ResetTransaction()
	hdr := frame.CommandHeader{Command: uint32(cmd), Address: addr, Magic: frame.Magic}.
		Append(make([]byte, 0, frame.CommandHeaderLength))

	if err := v.send(ctx, hdr); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if err := v.engine.WaitIdle(ctx); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	// The terminator triggers the action; the device may drop off the bus
	// before it acknowledges.
	if err := v.send(ctx, nil); err != nil {
		Debugf("vendor: %s terminator: %v", cmd, err)
		return nil
	}
	if err := v.engine.WaitIdle(ctx); err != nil {
		Debugf("vendor: %s wait idle: %v", cmd, err)
	}
	return nil
}
